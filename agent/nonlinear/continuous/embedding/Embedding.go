// Package embedding implements the embedding networks that map raw
// vision frames, proprioception vectors, and actions to fixed-size
// embeddings.
package embedding

import (
	"fmt"

	"github.com/samuelfneumann/golatent/network"
	G "gorgonia.org/gorgonia"
)

// Config describes the architecture of an Embedding
type Config struct {
	// Vision frames have shape (Channels, Height, Width)
	Channels, Height, Width int
	VisionLayers            []network.ConvLayer
	VisionHidden            []int
	VisionEmbeddingDim      int

	ProprioceptionDim          int
	ProprioceptionHidden       []int
	ProprioceptionEmbeddingDim int

	ActionDim          int
	ActionHidden       []int
	ActionEmbeddingDim int
}

// Validate checks that a Config is valid
func (c Config) Validate() error {
	if c.Channels <= 0 || c.Height <= 0 || c.Width <= 0 {
		return fmt.Errorf("validate: invalid vision shape (%d, %d, %d)",
			c.Channels, c.Height, c.Width)
	}
	if len(c.VisionLayers) == 0 {
		return fmt.Errorf("validate: at least one vision layer is required")
	}
	if c.VisionEmbeddingDim <= 0 || c.ProprioceptionEmbeddingDim <= 0 ||
		c.ActionEmbeddingDim <= 0 {
		return fmt.Errorf("validate: embedding sizes must be positive")
	}
	if c.ProprioceptionDim <= 0 || c.ActionDim <= 0 {
		return fmt.Errorf("validate: proprioception and action sizes must " +
			"be positive")
	}
	return nil
}

// VisionSize returns the number of values in a flattened frame
func (c Config) VisionSize() int {
	return c.Channels * c.Height * c.Width
}

// Embedding holds the vision, proprioception, and action embedding
// networks in a single graph
type Embedding struct {
	vision  *network.VisionEncoder
	proprio *network.MLP
	action  *network.MLP
	config  Config
}

// New adds a new Embedding to the graph
func New(g *G.ExprGraph, c Config, init G.InitWFn,
	name string) (*Embedding, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}

	vision, err := network.NewVisionEncoder(g, c.Channels, c.Height, c.Width,
		c.VisionLayers, c.VisionHidden, c.VisionEmbeddingDim, init,
		network.ReLU(), name+"_vision")
	if err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}

	proprio, err := network.NewMLP(g, c.ProprioceptionDim,
		c.ProprioceptionHidden, c.ProprioceptionEmbeddingDim, init,
		network.ReLU(), nil, name+"_proprio")
	if err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}

	action, err := network.NewMLP(g, c.ActionDim, c.ActionHidden,
		c.ActionEmbeddingDim, init, network.ReLU(), nil, name+"_action")
	if err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}

	return &Embedding{
		vision:  vision,
		proprio: proprio,
		action:  action,
		config:  c,
	}, nil
}

// Config returns the configuration of the Embedding
func (e *Embedding) Config() Config {
	return e.config
}

// VisionEmbed embeds frames of shape (batch, channels, height, width)
func (e *Embedding) VisionEmbed(frames *G.Node) (*G.Node, error) {
	return e.vision.Fwd(frames)
}

// ProprioceptionEmbed embeds proprioception of shape (batch, dims)
func (e *Embedding) ProprioceptionEmbed(proprio *G.Node) (*G.Node, error) {
	return e.proprio.Fwd(proprio)
}

// ActionEmbed embeds actions of shape (batch, actionDims)
func (e *Embedding) ActionEmbed(action *G.Node) (*G.Node, error) {
	return e.action.Fwd(action)
}

// Learnables returns the learnables of the vision, proprioception, and
// action networks in that order
func (e *Embedding) Learnables() G.Nodes {
	return network.Modules{e.vision, e.proprio, e.action}.Learnables()
}

// Model returns the learnables with their gradients
func (e *Embedding) Model() []G.ValueGrad {
	return network.Modules{e.vision, e.proprio, e.action}.Model()
}

// VisionAndProprioception returns the vision and proprioception
// networks, without the action network, as a single Module
func (e *Embedding) VisionAndProprioception() network.Module {
	return network.Modules{e.vision, e.proprio}
}

// Action returns the action network as a Module
func (e *Embedding) Action() network.Module {
	return e.action
}
