// Package policy implements the actors of the latent plan agents.
//
// Every actor consumes a window of per-step features, where the
// features of a step are the concatenation of the vision,
// proprioception, latent plan, goal, and previous action embeddings
// (see StepFeatures). The window is summarized by a sequence Backbone
// and the output at its final step determines the action.
package policy

import (
	"fmt"

	"github.com/samuelfneumann/golatent/network"
	"github.com/samuelfneumann/golatent/utils/op"
	G "gorgonia.org/gorgonia"
)

// Type describes a kind of actor head
type Type string

// Available actor heads
const (
	Direct   Type = "direct"
	Logistic Type = "logistic"
)

// Actor produces actions from a window of step features
type Actor interface {
	network.Module

	// Type returns the kind of head the Actor uses
	Type() Type

	// Inputs returns the number of features per step
	Inputs() int

	// ActionDim returns the number of action dimensions
	ActionDim() int

	// Act adds the Actor over the window of (batch, Inputs()) step
	// features to the graph. The window must be non-empty and its last
	// element is the current step.
	Act(window []*G.Node) (*Action, error)
}

// Mixture is an Actor whose actions are drawn from a logistic mixture
type Mixture interface {
	Actor

	// NumDistribs returns the number of components per action dimension
	NumDistribs() int

	// Heads adds only the mixture parameters of the Actor to the graph.
	// The returned Action has a nil Value. Values read from the heads
	// stay valid because no op in the graph consumes them.
	Heads(window []*G.Node) (*Action, error)
}

// Action holds the graph outputs of an Actor. Value is a
// differentiable point action in [-1, 1] of shape (batch, actionDim).
// For the Logistic head, Logits, Mean, and Scale hold the K mixture
// components of each action dimension, each of shape (batch,
// actionDim * K), and are nil otherwise.
type Action struct {
	Value *G.Node

	Logits *G.Node
	Mean   *G.Node
	Scale  *G.Node
	K      int
}

// IsMixture returns whether the Action carries mixture parameters
func (a *Action) IsMixture() bool {
	return a.Logits != nil
}

// LogProb adds the exact log density of actions x, of shape (batch,
// actionDim), under the Action's mixture to the graph. The result has
// shape (batch).
func (a *Action) LogProb(x *G.Node) (*G.Node, error) {
	if !a.IsMixture() {
		return nil, fmt.Errorf("logprob: action has no distribution")
	}
	return op.LogisticMixtureLogProb(x, a.Logits, a.Mean, a.Scale, a.K)
}

// StepFeatures concatenates the inputs of an Actor at a single step.
// Each input has shape (batch, dims) with a common batch size.
func StepFeatures(vision, proprio, latent, goal,
	prevAction *G.Node) (*G.Node, error) {
	features, err := op.ConcatFeatures(vision, proprio, latent, goal,
		prevAction)
	if err != nil {
		return nil, fmt.Errorf("stepfeatures: %v", err)
	}
	return features, nil
}

// Config describes an Actor
type Config struct {
	Head     Type
	Backbone network.BackboneConfig

	// NumDistribs is the number of mixture components per action
	// dimension of the Logistic head
	NumDistribs int
}

// Validate checks that a Config is valid
func (c Config) Validate() error {
	switch c.Head {
	case Direct:
	case Logistic:
		if c.NumDistribs <= 0 {
			return fmt.Errorf("validate: logistic actor needs a positive "+
				"number of components but got %d", c.NumDistribs)
		}
	default:
		return fmt.Errorf("validate: unknown actor head %q", c.Head)
	}
	if err := c.Backbone.Validate(); err != nil {
		return fmt.Errorf("validate: %v", err)
	}
	return nil
}

// New adds a new Actor described by c to the graph. The Actor takes
// inputs features per step and outputs actionDim action dimensions.
func New(g *G.ExprGraph, c Config, inputs, actionDim int, init G.InitWFn,
	name string) (Actor, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}

	switch c.Head {
	case Logistic:
		return NewLogisticActor(g, inputs, actionDim, c.NumDistribs,
			c.Backbone, init, name)
	default:
		return NewDirectActor(g, inputs, actionDim, c.Backbone, init, name)
	}
}
