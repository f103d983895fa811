package network

import (
	"fmt"

	G "gorgonia.org/gorgonia"
)

// BackboneType describes a kind of sequence Backbone
type BackboneType string

// Available Backbone types
const (
	LSTMBackbone        BackboneType = "lstm"
	TransformerBackbone BackboneType = "transformer"
)

// Backbone summarizes a sequence of (batch, features) step nodes into
// a single (batch, OutputSize()) node.
type Backbone interface {
	Module

	// Encode adds the Backbone over seq to the graph and returns the
	// output at the final step. Sequences must have length >= 1.
	Encode(seq []*G.Node) (*G.Node, error)

	// OutputSize returns the number of features output by Encode
	OutputSize() int
}

// BackboneConfig describes the architecture of a Backbone
type BackboneConfig struct {
	Type BackboneType

	// Bidirectional determines whether LSTM layers are bidirectional
	Bidirectional bool
	Hidden        int // LSTM hidden size or transformer feed forward size

	// Transformer parameters
	ModelDim  int
	Heads     int
	MaxLength int
}

// Validate checks that a BackboneConfig is valid
func (b BackboneConfig) Validate() error {
	switch b.Type {
	case LSTMBackbone:
		if b.Hidden <= 0 {
			return fmt.Errorf("lstm backbone hidden size must be positive")
		}
	case TransformerBackbone:
		if b.Hidden <= 0 || b.ModelDim <= 0 || b.MaxLength <= 0 {
			return fmt.Errorf("transformer backbone sizes must be positive")
		}
		if b.Heads <= 0 || b.ModelDim%b.Heads != 0 {
			return fmt.Errorf("transformer backbone heads (%d) must divide "+
				"the model dimension (%d)", b.Heads, b.ModelDim)
		}
	default:
		return fmt.Errorf("unknown backbone type %q", b.Type)
	}
	return nil
}

// NewBackbone adds a new Backbone described by config, taking inputs
// features per step, to the graph.
func NewBackbone(g *G.ExprGraph, inputs int, config BackboneConfig,
	init G.InitWFn, name string) (Backbone, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("newbackbone: %v", err)
	}

	if config.Type == TransformerBackbone {
		t, err := NewTransformer(g, inputs, config.ModelDim, config.Heads,
			config.Hidden, config.MaxLength, init, name)
		if err != nil {
			return nil, fmt.Errorf("newbackbone: %v", err)
		}
		return t, nil
	}

	l, err := NewLSTMStack(g, inputs, config.Hidden, config.Bidirectional,
		init, name)
	if err != nil {
		return nil, fmt.Errorf("newbackbone: %v", err)
	}
	return l, nil
}

// recurrent is a sequence layer which outputs a hidden state per step
type recurrent interface {
	Module
	Unroll([]*G.Node) ([]*G.Node, error)
	Hidden() int
}

// LSTMStack is a Backbone of two stacked (optionally bidirectional)
// LSTM layers. Its output is the hidden state of the final layer at the
// final step.
type LSTMStack struct {
	layers [2]recurrent
}

// NewLSTMStack adds a new LSTMStack to the graph
func NewLSTMStack(g *G.ExprGraph, inputs, hidden int, bidirectional bool,
	init G.InitWFn, name string) (*LSTMStack, error) {
	var stack LSTMStack
	in := inputs
	for i := range stack.layers {
		layerName := fmt.Sprintf("%v_lstm%d", name, i)

		var err error
		if bidirectional {
			stack.layers[i], err = NewBiLSTM(g, in, hidden, init, layerName)
		} else {
			stack.layers[i], err = NewLSTM(g, in, hidden, init, layerName)
		}
		if err != nil {
			return nil, fmt.Errorf("newlstmstack: %v", err)
		}
		in = stack.layers[i].Hidden()
	}
	return &stack, nil
}

// Encode adds the LSTMStack over seq to the graph
func (l *LSTMStack) Encode(seq []*G.Node) (*G.Node, error) {
	var err error
	for i, layer := range l.layers {
		if seq, err = layer.Unroll(seq); err != nil {
			return nil, fmt.Errorf("encode: layer %d: %v", i, err)
		}
	}
	return seq[len(seq)-1], nil
}

// OutputSize returns the number of features output by Encode
func (l *LSTMStack) OutputSize() int {
	return l.layers[len(l.layers)-1].Hidden()
}

// Learnables returns the learnable nodes of the LSTMStack
func (l *LSTMStack) Learnables() G.Nodes {
	return Modules{l.layers[0], l.layers[1]}.Learnables()
}

// Model returns the learnables of the LSTMStack with their gradients
func (l *LSTMStack) Model() []G.ValueGrad {
	return modelOf(l.Learnables())
}
