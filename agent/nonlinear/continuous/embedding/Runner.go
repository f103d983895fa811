package embedding

import (
	"fmt"

	"github.com/samuelfneumann/golatent/network"
	"github.com/samuelfneumann/golatent/utils/tensorutils"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Runner computes embeddings numerically at a fixed batch size. It
// owns a replica of an Embedding in its own graph, which is kept up to
// date with Sync.
type Runner struct {
	embedding *Embedding
	batch     int

	vision, proprio, action          *G.Node
	visionOut, proprioOut, actionOut *G.Node
	visionVal, proprioVal, actionVal G.Value

	zeros [3][]float64
	vm    G.VM
}

// NewRunner returns a new Runner embedding batch inputs at a time
func NewRunner(c Config, batch int, init G.InitWFn) (*Runner, error) {
	if batch <= 0 {
		return nil, fmt.Errorf("newrunner: batch size must be positive")
	}
	g := G.NewGraph()
	e, err := New(g, c, init, "embedding")
	if err != nil {
		return nil, fmt.Errorf("newrunner: %v", err)
	}

	vision := G.NewTensor(g, tensor.Float64, 4,
		G.WithShape(batch, c.Channels, c.Height, c.Width),
		G.WithName("vision"))
	proprio := G.NewMatrix(g, tensor.Float64,
		G.WithShape(batch, c.ProprioceptionDim),
		G.WithName("proprioception"))
	action := G.NewMatrix(g, tensor.Float64,
		G.WithShape(batch, c.ActionDim), G.WithName("action"))

	r := &Runner{
		embedding: e,
		batch:     batch,
		vision:    vision,
		proprio:   proprio,
		action:    action,
	}

	if r.visionOut, err = e.VisionEmbed(vision); err != nil {
		return nil, fmt.Errorf("newrunner: %v", err)
	}
	if r.proprioOut, err = e.ProprioceptionEmbed(proprio); err != nil {
		return nil, fmt.Errorf("newrunner: %v", err)
	}
	if r.actionOut, err = e.ActionEmbed(action); err != nil {
		return nil, fmt.Errorf("newrunner: %v", err)
	}
	G.Read(r.visionOut, &r.visionVal)
	G.Read(r.proprioOut, &r.proprioVal)
	G.Read(r.actionOut, &r.actionVal)

	r.zeros = [3][]float64{
		make([]float64, batch*c.VisionSize()),
		make([]float64, batch*c.ProprioceptionDim),
		make([]float64, batch*c.ActionDim),
	}
	r.vm = G.NewTapeMachine(g)
	return r, nil
}

// Sync sets the weights of the Runner's replica to those of src
func (r *Runner) Sync(src *Embedding) error {
	if err := network.Set(r.embedding, src); err != nil {
		return fmt.Errorf("sync: %v", err)
	}
	return nil
}

// BatchSize returns the number of inputs embedded per call
func (r *Runner) BatchSize() int {
	return r.batch
}

// Embed embeds a batch of flattened vision frames, proprioception
// vectors, and actions, each in row-major order. A nil input is
// treated as zeros.
func (r *Runner) Embed(vision, proprio, action []float64) (v, p, a []float64,
	err error) {
	inputs := []struct {
		node *G.Node
		data []float64
	}{{r.vision, vision}, {r.proprio, proprio}, {r.action, action}}
	for i, in := range inputs {
		data := in.data
		if data == nil {
			data = r.zeros[i]
		}
		if err := tensorutils.LetData(in.node, data); err != nil {
			return nil, nil, nil, fmt.Errorf("embed: %v", err)
		}
	}

	defer r.vm.Reset()
	if err := r.vm.RunAll(); err != nil {
		return nil, nil, nil, fmt.Errorf("embed: %v", err)
	}

	if v, err = tensorutils.Float64s(r.visionVal); err != nil {
		return nil, nil, nil, fmt.Errorf("embed: %v", err)
	}
	if p, err = tensorutils.Float64s(r.proprioVal); err != nil {
		return nil, nil, nil, fmt.Errorf("embed: %v", err)
	}
	if a, err = tensorutils.Float64s(r.actionVal); err != nil {
		return nil, nil, nil, fmt.Errorf("embed: %v", err)
	}
	return v, p, a, nil
}

// VisionEmbed embeds a batch of flattened vision frames
func (r *Runner) VisionEmbed(frames []float64) ([]float64, error) {
	v, _, _, err := r.Embed(frames, nil, nil)
	return v, err
}

// ProprioceptionEmbed embeds a batch of proprioception vectors
func (r *Runner) ProprioceptionEmbed(proprio []float64) ([]float64, error) {
	_, p, _, err := r.Embed(nil, proprio, nil)
	return p, err
}

// ActionEmbed embeds a batch of actions
func (r *Runner) ActionEmbed(action []float64) ([]float64, error) {
	_, _, a, err := r.Embed(nil, nil, action)
	return a, err
}

// Close closes the Runner's VM
func (r *Runner) Close() error {
	return r.vm.Close()
}
