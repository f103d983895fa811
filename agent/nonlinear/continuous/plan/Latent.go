// Package plan implements the variational encoders which infer a
// latent plan: Recognition, which sees a whole trajectory, and
// Proposal, which sees only the current step and the goal.
package plan

import (
	"fmt"

	"github.com/samuelfneumann/golatent/network"
	G "gorgonia.org/gorgonia"
)

// Latent is a diagonal Gaussian distribution over latent plans in the
// graph. Mean and Scale both have shape (batch, latentDim) and Scale is
// strictly positive.
type Latent struct {
	Mean  *G.Node
	Scale *G.Node
}

// Sample adds a reparameterized sample mean + scale ⊙ eps to the graph,
// where eps is a (batch, latentDim) node of standard normal noise.
func (l *Latent) Sample(eps *G.Node) (*G.Node, error) {
	if !eps.Shape().Eq(l.Mean.Shape()) {
		return nil, fmt.Errorf("sample: noise has shape %v but latent has "+
			"shape %v", eps.Shape(), l.Mean.Shape())
	}
	scaled, err := G.HadamardProd(l.Scale, eps)
	if err != nil {
		return nil, fmt.Errorf("sample: %v", err)
	}
	return G.Add(l.Mean, scaled)
}

// heads holds the mean and scale projections shared by both encoders
type heads struct {
	mean  *network.Linear
	scale *network.PositiveScale
}

func newHeads(g *G.ExprGraph, inputs, latentDim int, init G.InitWFn,
	name string) (heads, error) {
	mean, err := network.NewLinear(g, inputs, latentDim, init, nil,
		name+"_mean")
	if err != nil {
		return heads{}, err
	}
	scale, err := network.NewPositiveScale(g, inputs, latentDim, init,
		name+"_scale")
	if err != nil {
		return heads{}, err
	}
	return heads{mean: mean, scale: scale}, nil
}

func (h heads) fwd(x *G.Node) (*Latent, error) {
	mean, err := h.mean.Fwd(x)
	if err != nil {
		return nil, err
	}
	scale, err := h.scale.Fwd(x)
	if err != nil {
		return nil, err
	}
	return &Latent{Mean: mean, Scale: scale}, nil
}

func (h heads) Learnables() G.Nodes {
	return network.Modules{h.mean, h.scale}.Learnables()
}

func (h heads) Model() []G.ValueGrad {
	return network.Modules{h.mean, h.scale}.Model()
}
