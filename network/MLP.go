package network

import (
	"fmt"

	"github.com/samuelfneumann/golatent/utils/op"
	G "gorgonia.org/gorgonia"
)

// MLP implements a multi-layered perceptron. Inputs to the MLP are
// concatenated along the feature dimension before the forward pass.
type MLP struct {
	layers  []*Linear
	inputs  int
	outputs int

	learnables G.Nodes
}

// NewMLP creates a new MLP in graph g taking inputs features. The MLP
// has len(hiddenSizes) hidden layers, each using the activation
// hidden, and a final layer of size outputs using the activation out.
// A nil activation leaves a layer linear.
func NewMLP(g *G.ExprGraph, inputs int, hiddenSizes []int, outputs int,
	init G.InitWFn, hidden, out *Activation, name string) (*MLP, error) {
	sizes := append([]int{inputs}, hiddenSizes...)
	sizes = append(sizes, outputs)

	layers := make([]*Linear, 0, len(sizes)-1)
	for i := 0; i < len(sizes)-1; i++ {
		act := hidden
		if i == len(sizes)-2 {
			act = out
		}

		layer, err := NewLinear(g, sizes[i], sizes[i+1], init, act,
			fmt.Sprintf("%v_fc%d", name, i))
		if err != nil {
			return nil, fmt.Errorf("newmlp: %v", err)
		}
		layers = append(layers, layer)
	}

	return &MLP{
		layers:  layers,
		inputs:  inputs,
		outputs: outputs,
	}, nil
}

// Fwd adds the forward pass of the MLP to the graph. If multiple
// inputs are given, they are first concatenated along the feature
// dimension. All inputs must have the same batch size and the total
// number of features must equal the MLP's number of inputs.
func (m *MLP) Fwd(inputs ...*G.Node) (*G.Node, error) {
	input, err := op.ConcatFeatures(inputs...)
	if err != nil {
		return nil, fmt.Errorf("fwd: %v", err)
	}
	if input.Shape()[1] != m.inputs {
		return nil, fmt.Errorf("fwd: invalid number of input features"+
			"\n\twant(%v)\n\thave(%v)", m.inputs, input.Shape()[1])
	}

	pred := input
	for i, l := range m.layers {
		if pred, err = l.Fwd(pred); err != nil {
			msg := "fwd: could not compute forward pass of layer %v: %v"
			return nil, fmt.Errorf(msg, i, err)
		}
	}
	return pred, nil
}

// Inputs returns the number of input features
func (m *MLP) Inputs() int {
	return m.inputs
}

// Outputs returns the number of outputs from the network
func (m *MLP) Outputs() int {
	return m.outputs
}

// Learnables returns the learnable nodes in the MLP
func (m *MLP) Learnables() G.Nodes {
	// Lazy instantiation
	if m.learnables == nil {
		learnables := make(G.Nodes, 0, 2*len(m.layers))
		for _, l := range m.layers {
			learnables = append(learnables, l.Learnables()...)
		}
		m.learnables = learnables
	}
	return m.learnables
}

// Model returns the learnables nodes with their gradients.
func (m *MLP) Model() []G.ValueGrad {
	return modelOf(m.Learnables())
}
