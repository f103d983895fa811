package policy

import (
	"fmt"

	"github.com/samuelfneumann/golatent/network"
	G "gorgonia.org/gorgonia"
)

// DirectActor outputs a deterministic action by squashing a linear
// projection of the backbone output with tanh.
type DirectActor struct {
	backbone  network.Backbone
	out       *network.Linear
	inputs    int
	actionDim int
}

// NewDirectActor adds a new DirectActor to the graph
func NewDirectActor(g *G.ExprGraph, inputs, actionDim int,
	backbone network.BackboneConfig, init G.InitWFn,
	name string) (*DirectActor, error) {
	b, err := network.NewBackbone(g, inputs, backbone, init, name)
	if err != nil {
		return nil, fmt.Errorf("newdirectactor: %v", err)
	}
	out, err := network.NewLinear(g, b.OutputSize(), actionDim, init,
		network.TanH(), name+"_out")
	if err != nil {
		return nil, fmt.Errorf("newdirectactor: %v", err)
	}

	return &DirectActor{
		backbone:  b,
		out:       out,
		inputs:    inputs,
		actionDim: actionDim,
	}, nil
}

// Act adds the actor over a window of step features to the graph
func (d *DirectActor) Act(window []*G.Node) (*Action, error) {
	h, err := d.backbone.Encode(window)
	if err != nil {
		return nil, fmt.Errorf("act: %v", err)
	}
	value, err := d.out.Fwd(h)
	if err != nil {
		return nil, fmt.Errorf("act: %v", err)
	}
	return &Action{Value: value}, nil
}

// Type returns the kind of head the actor uses
func (d *DirectActor) Type() Type {
	return Direct
}

// Inputs returns the number of features per step
func (d *DirectActor) Inputs() int {
	return d.inputs
}

// ActionDim returns the number of action dimensions
func (d *DirectActor) ActionDim() int {
	return d.actionDim
}

// Learnables returns the learnable nodes of the actor
func (d *DirectActor) Learnables() G.Nodes {
	return network.Modules{d.backbone, d.out}.Learnables()
}

// Model returns the learnable nodes with their gradients
func (d *DirectActor) Model() []G.ValueGrad {
	return network.Modules{d.backbone, d.out}.Model()
}
