package plan

import (
	"fmt"

	"github.com/samuelfneumann/golatent/network"
	"github.com/samuelfneumann/golatent/utils/op"
	G "gorgonia.org/gorgonia"
)

// Recognition infers a latent plan from a whole trajectory of vision
// and proprioception embeddings. The sequence is summarized by a
// Backbone and the final step's output is projected to the mean and
// scale of the plan.
type Recognition struct {
	backbone   network.Backbone
	heads      heads
	visionDim  int
	proprioDim int
	latentDim  int
}

// NewRecognition adds a new Recognition network to the graph
func NewRecognition(g *G.ExprGraph, visionDim, proprioDim, latentDim int,
	backbone network.BackboneConfig, init G.InitWFn,
	name string) (*Recognition, error) {
	if latentDim <= 0 {
		return nil, fmt.Errorf("newrecognition: latent size must be "+
			"positive but got %d", latentDim)
	}
	b, err := network.NewBackbone(g, visionDim+proprioDim, backbone, init,
		name)
	if err != nil {
		return nil, fmt.Errorf("newrecognition: %v", err)
	}
	h, err := newHeads(g, b.OutputSize(), latentDim, init, name)
	if err != nil {
		return nil, fmt.Errorf("newrecognition: %v", err)
	}

	return &Recognition{
		backbone:   b,
		heads:      h,
		visionDim:  visionDim,
		proprioDim: proprioDim,
		latentDim:  latentDim,
	}, nil
}

// Fwd adds the Recognition network over a trajectory to the graph.
// The vision and proprioception sequences hold one (batch, dims) node
// per step and must have the same non-zero length.
func (r *Recognition) Fwd(vision, proprio []*G.Node) (*Latent, error) {
	if len(vision) == 0 {
		return nil, fmt.Errorf("fwd: sequence length must be >= 1")
	}
	if len(vision) != len(proprio) {
		return nil, fmt.Errorf("fwd: %d vision steps but %d "+
			"proprioception steps", len(vision), len(proprio))
	}

	seq := make([]*G.Node, len(vision))
	for t := range vision {
		step, err := op.ConcatFeatures(vision[t], proprio[t])
		if err != nil {
			return nil, fmt.Errorf("fwd: step %d: %v", t, err)
		}
		seq[t] = step
	}

	last, err := r.backbone.Encode(seq)
	if err != nil {
		return nil, fmt.Errorf("fwd: %v", err)
	}
	latent, err := r.heads.fwd(last)
	if err != nil {
		return nil, fmt.Errorf("fwd: %v", err)
	}
	return latent, nil
}

// LatentDim returns the size of the latent space
func (r *Recognition) LatentDim() int {
	return r.latentDim
}

// Learnables returns the learnable nodes of the network
func (r *Recognition) Learnables() G.Nodes {
	return network.Modules{r.backbone, r.heads}.Learnables()
}

// Model returns the learnable nodes with their gradients
func (r *Recognition) Model() []G.ValueGrad {
	return network.Modules{r}.Model()
}
