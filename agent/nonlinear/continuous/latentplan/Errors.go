package latentplan

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrNonFiniteLoss is returned when a training step produces a NaN or
// infinite loss or gradient. No parameters are changed by such a step.
var ErrNonFiniteLoss = errors.New("non-finite loss")

// IsNonFiniteLoss returns whether err was caused by a non-finite loss
func IsNonFiniteLoss(err error) bool {
	return errors.Cause(err) == ErrNonFiniteLoss
}

// CheckpointError is returned when a checkpoint cannot be restored.
// Nothing is restored when a CheckpointError is returned.
type CheckpointError struct {
	Key string
	Err error
}

func (c *CheckpointError) Error() string {
	return fmt.Sprintf("checkpoint %q: %v", c.Key, c.Err)
}

func (c *CheckpointError) Unwrap() error {
	return c.Err
}

// IsCheckpointError returns whether err was caused by a CheckpointError
func IsCheckpointError(err error) bool {
	_, ok := errors.Cause(err).(*CheckpointError)
	return ok
}
