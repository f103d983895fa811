package network

import (
	"fmt"

	"github.com/samuelfneumann/golatent/utils/op"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// LSTM implements a long short-term memory layer that is unrolled over
// a fixed-length sequence when added to the graph. The initial hidden
// and cell states are zero.
type LSTM struct {
	wx     *G.Node // (inputs, 4 * hidden)
	wh     *G.Node // (hidden, 4 * hidden)
	bias   *G.Node // (1, 4 * hidden)
	inputs int
	hidden int
}

// NewLSTM adds the parameters of a new LSTM layer to the graph
func NewLSTM(g *G.ExprGraph, inputs, hidden int, init G.InitWFn,
	name string) (*LSTM, error) {
	if inputs <= 0 || hidden <= 0 {
		return nil, fmt.Errorf("newlstm: layer %v must have positive size "+
			"but got (%d, %d)", name, inputs, hidden)
	}

	bias := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(1, 4*hidden),
		G.WithName(name+"_b"),
		G.WithInit(G.Zeroes()),
	)

	return &LSTM{
		wx:     newWeights(g, name+"_Wx", init, inputs, 4*hidden),
		wh:     newWeights(g, name+"_Wh", init, hidden, 4*hidden),
		bias:   bias,
		inputs: inputs,
		hidden: hidden,
	}, nil
}

// step computes a single LSTM step
func (l *LSTM) step(x, h, c *G.Node) (*G.Node, *G.Node, error) {
	gates, err := G.Mul(x, l.wx)
	if err != nil {
		return nil, nil, err
	}
	gates = G.Must(G.Add(gates, G.Must(G.Mul(h, l.wh))))
	gates = G.Must(G.BroadcastAdd(gates, l.bias, nil, []byte{0}))

	// Gate layout along the columns: input, forget, candidate, output
	H := l.hidden
	in := G.Must(G.Sigmoid(G.Must(op.Columns(gates, 0, H))))
	forget := G.Must(G.Sigmoid(G.Must(op.Columns(gates, H, 2*H))))
	cand := G.Must(G.Tanh(G.Must(op.Columns(gates, 2*H, 3*H))))
	out := G.Must(G.Sigmoid(G.Must(op.Columns(gates, 3*H, 4*H))))

	newC := G.Must(G.HadamardProd(in, cand))
	newC = G.Must(G.Add(newC, G.Must(G.HadamardProd(forget, c))))
	newH := G.Must(G.HadamardProd(out, G.Must(G.Tanh(newC))))

	return newH, newC, nil
}

// Unroll adds the LSTM unrolled over seq to the graph and returns the
// hidden state at every step. Each element of seq must have shape
// (batch, inputs).
func (l *LSTM) Unroll(seq []*G.Node) ([]*G.Node, error) {
	if err := checkSequence(seq, l.inputs); err != nil {
		return nil, fmt.Errorf("unroll: %v", err)
	}

	// Zero initial states. They also keep the recurrent weights in the
	// graph for length-1 sequences.
	g := seq[0].Graph()
	batch := seq[0].Shape()[0]
	h := zeroState(g, l.wh.Name()+"_h0", batch, l.hidden)
	c := zeroState(g, l.wh.Name()+"_c0", batch, l.hidden)

	outputs := make([]*G.Node, len(seq))
	var err error
	for t, x := range seq {
		if h, c, err = l.step(x, h, c); err != nil {
			return nil, fmt.Errorf("unroll: step %d: %v", t, err)
		}
		outputs[t] = h
	}
	return outputs, nil
}

// Hidden returns the size of the hidden state
func (l *LSTM) Hidden() int {
	return l.hidden
}

// Learnables returns the learnable nodes of the LSTM
func (l *LSTM) Learnables() G.Nodes {
	return G.Nodes{l.wx, l.wh, l.bias}
}

// Model returns the learnable nodes of the LSTM with their gradients
func (l *LSTM) Model() []G.ValueGrad {
	return modelOf(l.Learnables())
}

// BiLSTM implements a bidirectional LSTM layer. The output at each step
// is the concatenation of the forward and backward hidden states.
type BiLSTM struct {
	forward  *LSTM
	backward *LSTM
}

// NewBiLSTM adds the parameters of a new bidirectional LSTM layer to
// the graph
func NewBiLSTM(g *G.ExprGraph, inputs, hidden int, init G.InitWFn,
	name string) (*BiLSTM, error) {
	forward, err := NewLSTM(g, inputs, hidden, init, name+"_fwd")
	if err != nil {
		return nil, fmt.Errorf("newbilstm: %v", err)
	}
	backward, err := NewLSTM(g, inputs, hidden, init, name+"_bwd")
	if err != nil {
		return nil, fmt.Errorf("newbilstm: %v", err)
	}
	return &BiLSTM{forward: forward, backward: backward}, nil
}

// Unroll adds the bidirectional LSTM unrolled over seq to the graph
// and returns the concatenated hidden states at every step, each of
// shape (batch, 2 * hidden).
func (b *BiLSTM) Unroll(seq []*G.Node) ([]*G.Node, error) {
	fwd, err := b.forward.Unroll(seq)
	if err != nil {
		return nil, fmt.Errorf("unroll: %v", err)
	}

	reversed := make([]*G.Node, len(seq))
	for i := range seq {
		reversed[i] = seq[len(seq)-1-i]
	}
	bwd, err := b.backward.Unroll(reversed)
	if err != nil {
		return nil, fmt.Errorf("unroll: %v", err)
	}

	outputs := make([]*G.Node, len(seq))
	for t := range seq {
		outputs[t], err = G.Concat(1, fwd[t], bwd[len(seq)-1-t])
		if err != nil {
			return nil, fmt.Errorf("unroll: %v", err)
		}
	}
	return outputs, nil
}

// Hidden returns the size of the output at each step
func (b *BiLSTM) Hidden() int {
	return 2 * b.forward.hidden
}

// Learnables returns the learnable nodes of the BiLSTM
func (b *BiLSTM) Learnables() G.Nodes {
	return append(b.forward.Learnables(), b.backward.Learnables()...)
}

// Model returns the learnable nodes of the BiLSTM with their gradients
func (b *BiLSTM) Model() []G.ValueGrad {
	return modelOf(b.Learnables())
}

// zeroState returns a (batch, size) input node of zeros
func zeroState(g *G.ExprGraph, name string, batch, size int) *G.Node {
	return G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(batch, size),
		G.WithName(name),
		G.WithInit(G.Zeroes()),
	)
}

// checkSequence ensures a sequence is non-empty and that each element
// is a matrix with the given number of features and a common batch size
func checkSequence(seq []*G.Node, features int) error {
	if len(seq) == 0 {
		return fmt.Errorf("sequence length must be >= 1")
	}
	batch := seq[0].Shape()[0]
	for t, x := range seq {
		if !x.IsMatrix() {
			return fmt.Errorf("element %d of sequence is not a matrix", t)
		}
		if x.Shape()[0] != batch || x.Shape()[1] != features {
			return fmt.Errorf("element %d of sequence has shape %v but "+
				"want (%d, %d)", t, x.Shape(), batch, features)
		}
	}
	return nil
}
