package policy

import (
	"fmt"

	"github.com/samuelfneumann/golatent/network"
	"github.com/samuelfneumann/golatent/utils/op"
	G "gorgonia.org/gorgonia"
)

// LogisticActor parameterizes a mixture of K logistic distributions
// for each action dimension. Sampled actions are clamped to [-1, 1].
//
// The differentiable point action is the expected value of the clamped
// mixture, so that every head receives gradients from a loss on the
// point action. Sampling happens outside the graph, see
// distribution.LogisticMixture.
type LogisticActor struct {
	backbone network.Backbone
	logits   *network.Linear
	mean     *network.Linear
	scale    *network.PositiveScale

	inputs    int
	actionDim int
	k         int
}

// NewLogisticActor adds a new LogisticActor with k components per
// action dimension to the graph
func NewLogisticActor(g *G.ExprGraph, inputs, actionDim, k int,
	backbone network.BackboneConfig, init G.InitWFn,
	name string) (*LogisticActor, error) {
	if k <= 0 {
		return nil, fmt.Errorf("newlogisticactor: number of components "+
			"must be positive but got %d", k)
	}
	b, err := network.NewBackbone(g, inputs, backbone, init, name)
	if err != nil {
		return nil, fmt.Errorf("newlogisticactor: %v", err)
	}

	features, outputs := b.OutputSize(), actionDim*k
	logits, err := network.NewLinear(g, features, outputs, init, nil,
		name+"_logits")
	if err != nil {
		return nil, fmt.Errorf("newlogisticactor: %v", err)
	}
	mean, err := network.NewLinear(g, features, outputs, init, nil,
		name+"_mu")
	if err != nil {
		return nil, fmt.Errorf("newlogisticactor: %v", err)
	}
	scale, err := network.NewPositiveScale(g, features, outputs, init,
		name+"_scale")
	if err != nil {
		return nil, fmt.Errorf("newlogisticactor: %v", err)
	}

	return &LogisticActor{
		backbone:  b,
		logits:    logits,
		mean:      mean,
		scale:     scale,
		inputs:    inputs,
		actionDim: actionDim,
		k:         k,
	}, nil
}

// Heads adds only the mixture parameters of the actor over a window of
// step features to the graph. The returned Action has no Value, so no
// other op consumes the heads.
func (l *LogisticActor) Heads(window []*G.Node) (*Action, error) {
	h, err := l.backbone.Encode(window)
	if err != nil {
		return nil, fmt.Errorf("heads: %v", err)
	}

	logits, err := l.logits.Fwd(h)
	if err != nil {
		return nil, fmt.Errorf("heads: %v", err)
	}
	mean, err := l.mean.Fwd(h)
	if err != nil {
		return nil, fmt.Errorf("heads: %v", err)
	}
	scale, err := l.scale.Fwd(h)
	if err != nil {
		return nil, fmt.Errorf("heads: %v", err)
	}

	return &Action{
		Logits: logits,
		Mean:   mean,
		Scale:  scale,
		K:      l.k,
	}, nil
}

// Act adds the actor over a window of step features to the graph
func (l *LogisticActor) Act(window []*G.Node) (*Action, error) {
	action, err := l.Heads(window)
	if err != nil {
		return nil, fmt.Errorf("act: %v", err)
	}

	value, err := op.ClampedLogisticMixtureMean(action.Logits, action.Mean,
		action.Scale, l.k)
	if err != nil {
		return nil, fmt.Errorf("act: %v", err)
	}
	if action.Value, err = op.Clamp(value, -1, 1); err != nil {
		return nil, fmt.Errorf("act: %v", err)
	}
	return action, nil
}

// Type returns the kind of head the actor uses
func (l *LogisticActor) Type() Type {
	return Logistic
}

// Inputs returns the number of features per step
func (l *LogisticActor) Inputs() int {
	return l.inputs
}

// ActionDim returns the number of action dimensions
func (l *LogisticActor) ActionDim() int {
	return l.actionDim
}

// NumDistribs returns the number of components per action dimension
func (l *LogisticActor) NumDistribs() int {
	return l.k
}

// Learnables returns the learnable nodes of the actor
func (l *LogisticActor) Learnables() G.Nodes {
	return network.Modules{l.backbone, l.logits, l.mean,
		l.scale}.Learnables()
}

// Model returns the learnable nodes with their gradients
func (l *LogisticActor) Model() []G.ValueGrad {
	return network.Modules{l}.Model()
}
