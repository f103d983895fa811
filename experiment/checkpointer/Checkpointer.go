// Package checkpointer implements Checkpointers, which periodically
// save the state of a training run to disk
package checkpointer

import (
	ts "github.com/samuelfneumann/golatent/timestep"
)

// Serializable is an object that can save its state to a file
type Serializable interface {
	Save(filename string) error
}

// Checkpointer checkpoints/saves serializable objects based on
// timestep.TimeSteps
type Checkpointer interface {
	Checkpoint(ts.TimeStep) error
}
