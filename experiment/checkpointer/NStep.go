package checkpointer

import (
	"fmt"

	ts "github.com/samuelfneumann/golatent/timestep"
)

// nStep implements checkpointing every N steps of a single training
// phase
type nStep struct {
	interval int
	phase    ts.Phase
	object   Serializable // Object to save

	// filename returns the filename to save the object in on each
	// checkpoint.
	//
	// To save each checkpoint in a separate file with an incremented
	// suffix (e.g. file1.bin, file2.bin, ..., fileK.bin), use
	// FilenameEnumerator. If the names do not matter, FileTimer gives
	// unique names:
	//
	//	n := NewNStep(10, ts.PreTrain, object, FileTimer("file", ".bin"))
	//
	// To overwrite a single checkpoint, return a constant filename.
	filename func() string
}

// NewNStep returns a checkpointer that checkpoints every n steps of
// the given phase.
func NewNStep(n int, phase ts.Phase, object Serializable,
	filename func() string) (Checkpointer, error) {
	if n <= 0 {
		return nil, fmt.Errorf("newnstep: interval must be positive but "+
			"got %d", n)
	}
	return &nStep{
		interval: n,
		phase:    phase,
		object:   object,
		filename: filename,
	}, nil
}

// Checkpoint checkpoints the Checkpointer's tracked object by calling
// its Save() method if the step is a multiple of the interval
func (n *nStep) Checkpoint(t ts.TimeStep) error {
	if t.Phase != n.phase || t.Number%n.interval != 0 {
		return nil
	}
	return n.object.Save(n.filename())
}
