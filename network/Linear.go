package network

import (
	"fmt"

	"github.com/samuelfneumann/golatent/utils/op"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Linear implements a fully connected layer of a feed forward neural
// network: act(x W + b).
type Linear struct {
	weights *G.Node
	bias    *G.Node
	act     *Activation

	inputs, outputs int
}

// NewLinear adds a new fully connected layer with the given number of
// inputs and outputs to the graph g. Learnables are named with the
// given name as prefix, which must be unique within the graph. If act
// is nil, the layer has no activation.
func NewLinear(g *G.ExprGraph, inputs, outputs int, init G.InitWFn,
	act *Activation, name string) (*Linear, error) {
	if inputs <= 0 || outputs <= 0 {
		return nil, fmt.Errorf("newlinear: layer %v must have positive "+
			"size but got (%d, %d)", name, inputs, outputs)
	}

	weights := newWeights(g, name+"_W", init, inputs, outputs)
	bias := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(1, outputs),
		G.WithName(name+"_b"),
		G.WithInit(G.Zeroes()),
	)

	return &Linear{
		weights: weights,
		bias:    bias,
		act:     act,
		inputs:  inputs,
		outputs: outputs,
	}, nil
}

// Fwd adds the forward pass of the layer on input x to the graph
func (l *Linear) Fwd(x *G.Node) (*G.Node, error) {
	if !x.IsMatrix() || x.Shape()[1] != l.inputs {
		return nil, fmt.Errorf("fwd: invalid input shape for layer %v"+
			"\n\twant(batch, %d)\n\thave(%v)", l.weights.Name(), l.inputs,
			x.Shape())
	}

	out, err := G.Mul(x, l.weights)
	if err != nil {
		return nil, fmt.Errorf("fwd: %v", err)
	}

	// Broadcast the bias weights to all samples along the batch
	// dimension
	out, err = G.BroadcastAdd(out, l.bias, nil, []byte{0})
	if err != nil {
		return nil, fmt.Errorf("fwd: %v", err)
	}

	return l.act.fwd(out)
}

// Inputs returns the number of inputs to the layer
func (l *Linear) Inputs() int {
	return l.inputs
}

// Outputs returns the number of outputs of the layer
func (l *Linear) Outputs() int {
	return l.outputs
}

// Learnables returns the weights and bias of the layer
func (l *Linear) Learnables() G.Nodes {
	return G.Nodes{l.weights, l.bias}
}

// Model returns the learnables of the layer with their gradients
func (l *Linear) Model() []G.ValueGrad {
	return modelOf(l.Learnables())
}

// PositiveScale is a fully connected layer producing strictly positive
// outputs: softplus((x + ε) W + b). The small shift ε keeps the input
// away from exactly zero.
type PositiveScale struct {
	*Linear
}

// NewPositiveScale adds a new PositiveScale layer to the graph
func NewPositiveScale(g *G.ExprGraph, inputs, outputs int, init G.InitWFn,
	name string) (*PositiveScale, error) {
	l, err := NewLinear(g, inputs, outputs, init, Softplus(), name)
	if err != nil {
		return nil, fmt.Errorf("newpositivescale: %v", err)
	}
	return &PositiveScale{l}, nil
}

// Fwd adds the forward pass of the layer on input x to the graph
func (p *PositiveScale) Fwd(x *G.Node) (*G.Node, error) {
	shifted, err := G.Add(x, G.NewConstant(op.ScaleEpsilon))
	if err != nil {
		return nil, fmt.Errorf("fwd: %v", err)
	}
	return p.Linear.Fwd(shifted)
}
