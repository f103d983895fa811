// Package critic implements the action-value function used by the
// fine-tuning actor-critic update.
package critic

import (
	"fmt"

	"github.com/samuelfneumann/golatent/network"
	G "gorgonia.org/gorgonia"
)

// Critic is an MLP estimating the action value of a state and action
// from the vision embedding, proprioception embedding, and action.
//
// If NonNegative, the output passes through a ReLU so that estimates
// are never negative. This is only appropriate when rewards are never
// negative.
type Critic struct {
	net         *network.MLP
	nonNegative bool
}

// New adds a new Critic to the graph
func New(g *G.ExprGraph, visionDim, proprioDim, actionDim int,
	hidden []int, nonNegative bool, init G.InitWFn,
	name string) (*Critic, error) {
	var out *network.Activation
	if nonNegative {
		out = network.ReLU()
	}

	net, err := network.NewMLP(g, visionDim+proprioDim+actionDim, hidden, 1,
		init, network.ReLU(), out, name)
	if err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}
	return &Critic{net: net, nonNegative: nonNegative}, nil
}

// Fwd adds the Critic to the graph, returning action values of shape
// (batch, 1)
func (c *Critic) Fwd(vision, proprio, action *G.Node) (*G.Node, error) {
	q, err := c.net.Fwd(vision, proprio, action)
	if err != nil {
		return nil, fmt.Errorf("fwd: %v", err)
	}
	return q, nil
}

// NonNegative returns whether the Critic's output is clamped at zero
func (c *Critic) NonNegative() bool {
	return c.nonNegative
}

// Learnables returns the learnable nodes of the Critic
func (c *Critic) Learnables() G.Nodes {
	return c.net.Learnables()
}

// Model returns the learnable nodes with their gradients
func (c *Critic) Model() []G.ValueGrad {
	return c.net.Model()
}
