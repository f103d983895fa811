package latentplan

import (
	"fmt"

	"github.com/samuelfneumann/golatent/agent/nonlinear/continuous/embedding"
	"github.com/samuelfneumann/golatent/agent/nonlinear/continuous/policy"
	"github.com/samuelfneumann/golatent/initwfn"
	"github.com/samuelfneumann/golatent/network"
	"github.com/samuelfneumann/golatent/solver"
)

// ImitationLoss describes the reconstruction loss used in pretraining
type ImitationLoss string

// Available imitation losses
const (
	// MSE is the mean squared error between the actor's point action
	// and the action label
	MSE ImitationLoss = "mse"

	// NLL is the negative log likelihood of the action label under the
	// actor's mixture. Only the logistic actor supports it.
	NLL ImitationLoss = "nll"
)

// Config implements a configuration of the latent plan Trainer. A
// Config is copied by New and is read-only afterwards.
type Config struct {
	Embedding embedding.Config

	LatentDim      int
	Recognition    network.BackboneConfig
	ProposalHidden []int
	Actor          policy.Config
	CriticHidden   []int

	// NonNegativeQ clamps the critic's output at zero with a ReLU.
	// Action values may be negative whenever rewards are, so this
	// defaults to false.
	NonNegativeQ bool

	// QBits is the number of bits that sampled mixture actions are
	// quantized to. Zero disables quantization.
	QBits int

	Gamma         float64 // Discount
	Tau           float64 // Soft target update rate
	Beta          float64 // Regularization weight
	ActionPenalty float64 // Weight of the actor's action magnitude penalty
	LearningRate  float64
	GradNormClip  float64

	BatchSize      int
	SequenceLength int // Length of pretraining trajectories
	HistoryLength  int // Number of steps in the actor's window

	ImitationLoss ImitationLoss

	// FixClipOrder clips the actor's gradients after they are computed
	// in fine-tuning. When false, the clip happens before the backward
	// pass and has no effect.
	FixClipOrder bool

	// ImportanceWeightedCritic weights the critic's squared TD errors by
	// the importance sampling weights of a prioritized replay buffer.
	// When false, the critic minimizes the unweighted mean squared TD
	// error.
	ImportanceWeightedCritic bool

	Device string
	Seed   uint64

	// Solver and InitWFn are optional. By default, Adam with
	// LearningRate and Glorot uniform initialization are used.
	Solver  *solver.Solver   `json:",omitempty"`
	InitWFn *initwfn.InitWFn `json:",omitempty"`
}

// DefaultConfig returns a small, valid Config with 8x8 RGB frames
func DefaultConfig() Config {
	return Config{
		Embedding: embedding.Config{
			Channels: 3,
			Height:   8,
			Width:    8,
			VisionLayers: []network.ConvLayer{
				{Filters: 4, Kernel: 3, Stride: 1},
				{Filters: 4, Kernel: 3, Stride: 2},
			},
			VisionHidden:               []int{16},
			VisionEmbeddingDim:         8,
			ProprioceptionDim:          4,
			ProprioceptionHidden:       []int{16},
			ProprioceptionEmbeddingDim: 4,
			ActionDim:                  2,
			ActionHidden:               []int{8},
			ActionEmbeddingDim:         4,
		},
		LatentDim: 4,
		Recognition: network.BackboneConfig{
			Type:          network.LSTMBackbone,
			Bidirectional: true,
			Hidden:        8,
		},
		ProposalHidden: []int{16, 16},
		Actor: policy.Config{
			Head: policy.Logistic,
			Backbone: network.BackboneConfig{
				Type:   network.LSTMBackbone,
				Hidden: 16,
			},
			NumDistribs: 3,
		},
		CriticHidden:   []int{32, 32},
		NonNegativeQ:   false,
		QBits:          8,
		Gamma:          0.99,
		Tau:            0.005,
		Beta:           0.01,
		ActionPenalty:  1e-3,
		LearningRate:   1e-3,
		GradNormClip:   1.0,
		BatchSize:      4,
		SequenceLength: 3,
		HistoryLength:  3,
		ImitationLoss:  MSE,
		FixClipOrder:   true,
		Device:         "cpu",
		Seed:           1,

		ImportanceWeightedCritic: false,
	}
}

// Validate checks a Config for errors
func (c Config) Validate() error {
	if c.Device != "cpu" {
		return fmt.Errorf("validate: unsupported device %q", c.Device)
	}
	if err := c.Embedding.Validate(); err != nil {
		return fmt.Errorf("validate: embedding: %v", err)
	}
	if err := c.Recognition.Validate(); err != nil {
		return fmt.Errorf("validate: recognition: %v", err)
	}
	if err := c.Actor.Validate(); err != nil {
		return fmt.Errorf("validate: actor: %v", err)
	}

	if c.LatentDim <= 0 {
		return fmt.Errorf("validate: latent size must be positive")
	}
	if len(c.ProposalHidden) == 0 {
		return fmt.Errorf("validate: proposal needs a hidden layer")
	}
	if c.BatchSize <= 0 || c.SequenceLength <= 0 || c.HistoryLength <= 0 {
		return fmt.Errorf("validate: batch size, sequence length, and " +
			"history length must be positive")
	}
	if c.QBits < 0 || c.QBits > 32 {
		return fmt.Errorf("validate: quantization bits must be in [0, 32] "+
			"but got %d", c.QBits)
	}

	for _, b := range []struct {
		name string
		cfg  network.BackboneConfig
		len  int
	}{
		{"recognition", c.Recognition, c.SequenceLength},
		{"actor", c.Actor.Backbone, c.HistoryLength},
	} {
		if b.cfg.Type == network.TransformerBackbone && b.cfg.MaxLength < b.len {
			return fmt.Errorf("validate: %v transformer maximum length %d "+
				"is shorter than its sequences (%d)", b.name,
				b.cfg.MaxLength, b.len)
		}
	}

	if c.Gamma < 0 || c.Gamma > 1 {
		return fmt.Errorf("validate: γ must be in [0, 1] but got %v", c.Gamma)
	}
	if c.Tau < 0 || c.Tau > 1 {
		return fmt.Errorf("validate: τ must be in [0, 1] but got %v", c.Tau)
	}
	if c.Beta < 0 || c.ActionPenalty < 0 {
		return fmt.Errorf("validate: β and the action penalty must be " +
			"non-negative")
	}
	if c.GradNormClip <= 0 {
		return fmt.Errorf("validate: gradient clip norm must be positive")
	}
	if c.Solver == nil && c.LearningRate <= 0 {
		return fmt.Errorf("validate: learning rate must be positive")
	}

	switch c.ImitationLoss {
	case MSE:
	case NLL:
		if c.Actor.Head != policy.Logistic {
			return fmt.Errorf("validate: %v imitation loss requires the %v "+
				"actor", NLL, policy.Logistic)
		}
	default:
		return fmt.Errorf("validate: unknown imitation loss %q",
			c.ImitationLoss)
	}
	return nil
}

// solver returns the solver configuration used by every optimizer
func (c Config) solver() (*solver.Solver, error) {
	if c.Solver != nil {
		return c.Solver, nil
	}
	return solver.NewDefaultAdam(c.LearningRate, 1)
}

// initWFn returns the weight initialization of every network
func (c Config) initWFn() (*initwfn.InitWFn, error) {
	if c.InitWFn != nil {
		return c.InitWFn, nil
	}
	return initwfn.NewGlorotU(1.0)
}

// actorInputs returns the number of features per step of the actor:
// vision, proprioception, latent, goal, and previous action embedding
func (c Config) actorInputs() int {
	e := c.Embedding
	return 2*e.VisionEmbeddingDim + e.ProprioceptionEmbeddingDim +
		c.LatentDim + e.ActionEmbeddingDim
}
