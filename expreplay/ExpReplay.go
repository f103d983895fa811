// Package expreplay implements experience replay buffers for
// off-policy fine-tuning
package expreplay

import (
	"fmt"

	"github.com/samuelfneumann/golatent/timestep"
	"golang.org/x/exp/rand"
)

// Config implements a specific configuration of a prioritized
// experience replay buffer
type Config struct {
	MaxReplayCapacity int
	MinReplayCapacity int
	BatchSize         int

	// Alpha is the priority exponent. Alpha = 0 gives uniform sampling.
	Alpha float64

	// Beta is the importance sampling exponent. Beta = 0 gives unit
	// importance weights.
	Beta float64

	// Epsilon is added to every absolute TD error so that no
	// transition has zero priority
	Epsilon float64
}

// Validate returns an error if the Config is invalid
func (c Config) Validate() error {
	if c.MinReplayCapacity <= 0 {
		return fmt.Errorf("validate: minCapacity must be > 0")
	}
	if c.MaxReplayCapacity < c.MinReplayCapacity {
		return fmt.Errorf("validate: maxCapacity (%v) must be >= "+
			"minCapacity (%v)", c.MaxReplayCapacity, c.MinReplayCapacity)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("validate: batch size must be > 0")
	}
	if c.MaxReplayCapacity < c.BatchSize {
		return fmt.Errorf("validate: cannot have batch size(%v) > max "+
			"buffer capacity (%v)", c.BatchSize, c.MaxReplayCapacity)
	}
	if c.Alpha < 0 || c.Beta < 0 || c.Epsilon < 0 {
		return fmt.Errorf("validate: alpha, beta, and epsilon must be " +
			"non-negative")
	}
	return nil
}

// Create creates and returns the prioritized buffer with the specified
// Config.
func (c Config) Create(visionSize, proprioSize, actionSize int,
	seed uint64) (Replayer, error) {
	return NewPrioritized(c, visionSize, proprioSize, actionSize,
		rand.NewSource(seed))
}

// Batch is a batch of transitions sampled from a replay buffer. All
// vectors are flattened in row-major order with one row per sampled
// transition.
type Batch struct {
	Vision             []float64
	Proprioception     []float64
	NextVision         []float64
	NextProprioception []float64
	Action             []float64
	Reward             []float64
	Done               []float64 // 1 if the transition ended an episode
	Weights            []float64 // Importance sampling weights
	Indices            []int     // Buffer positions of the transitions
}

// Size returns the number of transitions in the Batch
func (b Batch) Size() int {
	return len(b.Indices)
}

// Replayer implements a replay buffer whose sampling priorities are
// updated from TD errors
type Replayer interface {
	// Store adds a transition to the buffer
	Store(t timestep.Transition) error

	// SampleBatch samples a batch of transitions from the buffer
	SampleBatch() (Batch, error)

	// UpdatePriorities sets the priorities of the transitions at the
	// given buffer positions from their TD errors
	UpdatePriorities(indices []int, tdErrors []float64) error

	// Capacity returns the current number of samples in the buffer
	Capacity() int

	// MaxCapacity returns the maximum allowable samples in the buffer
	MaxCapacity() int

	// MinCapacity returns the number of samples required to be in
	// the buffer before the buffer can be sampled
	MinCapacity() int

	// BatchSize returns the number of samples returned by SampleBatch()
	BatchSize() int
}

// copyInto copies src into dst[start:end]
func copyInto(dst []float64, start, end int, src []float64) {
	copy(dst[start:end], src)
}
