package plan

import (
	"fmt"

	"github.com/samuelfneumann/golatent/network"
	G "gorgonia.org/gorgonia"
)

// Proposal infers a latent plan from the current vision and
// proprioception embeddings and the goal embedding. It is the only
// plan encoder available at decision time.
type Proposal struct {
	trunk     *network.MLP
	heads     heads
	latentDim int
}

// NewProposal adds a new Proposal network to the graph. The trunk is an
// MLP with the given hidden layer sizes whose ReLU features feed the
// mean and scale heads.
func NewProposal(g *G.ExprGraph, visionDim, proprioDim, goalDim,
	latentDim int, hidden []int, init G.InitWFn,
	name string) (*Proposal, error) {
	if latentDim <= 0 {
		return nil, fmt.Errorf("newproposal: latent size must be "+
			"positive but got %d", latentDim)
	}
	if len(hidden) == 0 {
		return nil, fmt.Errorf("newproposal: at least one hidden layer " +
			"is required")
	}

	inputs := visionDim + proprioDim + goalDim
	features := hidden[len(hidden)-1]
	trunk, err := network.NewMLP(g, inputs, hidden[:len(hidden)-1],
		features, init, network.ReLU(), network.ReLU(), name+"_trunk")
	if err != nil {
		return nil, fmt.Errorf("newproposal: %v", err)
	}
	h, err := newHeads(g, features, latentDim, init, name)
	if err != nil {
		return nil, fmt.Errorf("newproposal: %v", err)
	}

	return &Proposal{trunk: trunk, heads: h, latentDim: latentDim}, nil
}

// Fwd adds the Proposal network to the graph. Each input has shape
// (batch, dims) with a common batch size.
func (p *Proposal) Fwd(vision, proprio, goal *G.Node) (*Latent, error) {
	features, err := p.trunk.Fwd(vision, proprio, goal)
	if err != nil {
		return nil, fmt.Errorf("fwd: %v", err)
	}
	latent, err := p.heads.fwd(features)
	if err != nil {
		return nil, fmt.Errorf("fwd: %v", err)
	}
	return latent, nil
}

// LatentDim returns the size of the latent space
func (p *Proposal) LatentDim() int {
	return p.latentDim
}

// Learnables returns the learnable nodes of the network
func (p *Proposal) Learnables() G.Nodes {
	return network.Modules{p.trunk, p.heads}.Learnables()
}

// Model returns the learnable nodes with their gradients
func (p *Proposal) Model() []G.ValueGrad {
	return network.Modules{p}.Model()
}
