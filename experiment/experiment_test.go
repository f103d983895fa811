package experiment

import (
	"io"
	"math"
	"path/filepath"
	"testing"

	"github.com/samuelfneumann/golatent/agent/nonlinear/continuous/latentplan"
	"github.com/samuelfneumann/golatent/experiment/checkpointer"
	"github.com/samuelfneumann/golatent/experiment/tracker"
	"github.com/samuelfneumann/golatent/expreplay"
	ts "github.com/samuelfneumann/golatent/timestep"
	"github.com/sirupsen/logrus"
)

func newTrainer(t *testing.T, c latentplan.Config,
	logger logrus.FieldLogger) *latentplan.Trainer {
	t.Helper()
	replay, err := expreplay.Config{
		MaxReplayCapacity: 8,
		MinReplayCapacity: c.BatchSize,
		BatchSize:         c.BatchSize,
		Alpha:             0.6,
		Beta:              0.4,
		Epsilon:           1e-3,
	}.Create(c.Embedding.VisionSize(), c.Embedding.ProprioceptionDim,
		c.Embedding.ActionDim, 1)
	if err != nil {
		t.Fatal(err)
	}
	tr, err := latentplan.New(c, replay, nil, latentplan.WithLogger(logger))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr
}

// constantSource returns trajectories of constant values, with the
// actions of every nth batch set to NaN
func constantSource(c latentplan.Config, nth int) Source {
	calls := 0
	e := c.Embedding
	n := c.BatchSize * c.SequenceLength
	fill := func(size int, v float64) []float64 {
		out := make([]float64, size)
		for i := range out {
			out[i] = v
		}
		return out
	}

	return SourceFunc(func() (latentplan.Trajectories, error) {
		calls++
		action := 0.5
		if nth > 0 && calls%nth == 0 {
			action = math.NaN()
		}
		return latentplan.Trajectories{
			Actions:        fill(n*e.ActionDim, action),
			Video:          fill(n*e.VisionSize(), 0.1),
			Proprioception: fill(n*e.ProprioceptionDim, -0.2),
		}, nil
	})
}

type saveCounter struct{ n int }

func (s *saveCounter) Save(string) error {
	s.n++
	return nil
}

func TestPreTrain(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	c := latentplan.DefaultConfig()
	tr := newTrainer(t, c, logger)

	dir := t.TempDir()
	losses := tracker.NewLosses(ts.PreTrain, filepath.Join(dir, "pre.bin"))
	saves := &saveCounter{}
	check, err := checkpointer.NewNStep(2, ts.PreTrain, saves,
		func() string { return "unused" })
	if err != nil {
		t.Fatal(err)
	}

	e := New(tr, constantSource(c, 3), logger, []tracker.Tracker{losses},
		[]checkpointer.Checkpointer{check})
	steps := 0
	e.OnStep(func(ts.TimeStep) { steps++ })

	if err := e.PreTrain(6); err != nil {
		t.Fatal(err)
	}

	// Every third batch has NaN labels and is skipped
	if e.Skipped() != 2 {
		t.Errorf("Skipped() = %d, want 2", e.Skipped())
	}
	if steps != 4 {
		t.Errorf("OnStep called %d times, want 4", steps)
	}
	if got := losses.Series("loss").Len(); got != 4 {
		t.Errorf("tracked %d losses, want 4", got)
	}
	if saves.n != 2 {
		t.Errorf("checkpointed %d times, want 2", saves.n)
	}
	if err := e.Save(); err != nil {
		t.Error(err)
	}
}

func TestFineTuneEmptyReplay(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	c := latentplan.DefaultConfig()
	tr := newTrainer(t, c, logger)

	s, err := tr.SetGoal(make([]float64, c.Embedding.VisionSize()))
	if err != nil {
		t.Fatal(err)
	}
	e := New(tr, nil, logger, nil, nil)
	if err := e.FineTune(s, 1); !expreplay.IsEmptyBuffer(err) {
		t.Errorf("FineTune() error = %v, want an empty buffer error", err)
	}
	if err := e.PreTrain(1); err == nil {
		t.Error("expected an error for an experiment without a source")
	}
}
