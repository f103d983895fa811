package checkpointer

import (
	"fmt"
	"testing"

	ts "github.com/samuelfneumann/golatent/timestep"
)

// recorder records the filenames it is saved to
type recorder struct {
	saved []string
	err   error
}

func (r *recorder) Save(filename string) error {
	r.saved = append(r.saved, filename)
	return r.err
}

func TestNStep(t *testing.T) {
	r := &recorder{}
	c, err := NewNStep(3, ts.PreTrain, r, FilenameEnumerator(0, "ckpt",
		".bin"))
	if err != nil {
		t.Fatal(err)
	}

	for i := 1; i <= 7; i++ {
		if err := c.Checkpoint(ts.New(ts.PreTrain, i, nil)); err != nil {
			t.Fatal(err)
		}
		if err := c.Checkpoint(ts.New(ts.FineTune, i, nil)); err != nil {
			t.Fatal(err)
		}
	}

	want := []string{"ckpt1.bin", "ckpt2.bin"}
	if len(r.saved) != len(want) {
		t.Fatalf("saved %v, want %v", r.saved, want)
	}
	for i := range want {
		if r.saved[i] != want[i] {
			t.Errorf("checkpoint %d saved to %v, want %v", i, r.saved[i],
				want[i])
		}
	}
}

func TestNStepErrors(t *testing.T) {
	if _, err := NewNStep(0, ts.PreTrain, &recorder{}, nil); err == nil {
		t.Error("expected an error for a zero interval")
	}

	r := &recorder{err: fmt.Errorf("disk full")}
	c, err := NewNStep(1, ts.FineTune, r, func() string { return "ckpt" })
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Checkpoint(ts.New(ts.FineTune, 1, nil)); err == nil {
		t.Error("expected the save error to be returned")
	}
}
