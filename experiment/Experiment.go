// Package experiment implements functionality for running a latent
// plan training run: pretraining on demonstrations followed by
// fine-tuning from replay.
package experiment

import (
	"fmt"

	"github.com/samuelfneumann/golatent/agent/nonlinear/continuous/latentplan"
	"github.com/samuelfneumann/golatent/experiment/checkpointer"
	"github.com/samuelfneumann/golatent/experiment/tracker"
	ts "github.com/samuelfneumann/golatent/timestep"
	"github.com/sirupsen/logrus"
)

// Source provides batches of demonstration trajectories
type Source interface {
	Next() (latentplan.Trajectories, error)
}

// SourceFunc adapts a function to a Source
type SourceFunc func() (latentplan.Trajectories, error)

// Next calls f
func (f SourceFunc) Next() (latentplan.Trajectories, error) {
	return f()
}

// Experiment runs the training phases of a Trainer. Every step is
// packaged as a TimeStep holding the step's losses, which is sent to
// each registered Tracker and Checkpointer.
type Experiment struct {
	trainer       *latentplan.Trainer
	source        Source
	trackers      []tracker.Tracker
	checkpointers []checkpointer.Checkpointer
	onStep        []func(ts.TimeStep)
	logger        logrus.FieldLogger

	preTrainSteps, fineTuneSteps int
	skipped                      int
}

// New creates and returns a new Experiment training t on batches from
// source. If logger is nil, the standard logrus logger is used.
func New(t *latentplan.Trainer, source Source, logger logrus.FieldLogger,
	trackers []tracker.Tracker,
	checkpointers []checkpointer.Checkpointer) *Experiment {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Experiment{
		trainer:       t,
		source:        source,
		trackers:      trackers,
		checkpointers: checkpointers,
		logger:        logger,
	}
}

// Register registers a Tracker with the Experiment so that data
// generated during the Experiment can be tracked and saved
func (e *Experiment) Register(t tracker.Tracker) {
	e.trackers = append(e.trackers, t)
}

// OnStep registers a function called after every completed step, for
// example to advance a progress bar
func (e *Experiment) OnStep(f func(ts.TimeStep)) {
	e.onStep = append(e.onStep, f)
}

// Skipped returns the number of steps skipped due to non-finite losses
func (e *Experiment) Skipped() int {
	return e.skipped
}

// PreTrain runs steps pretraining updates. Steps with a non-finite
// loss are skipped and counted but do not stop the Experiment.
func (e *Experiment) PreTrain(steps int) error {
	if e.source == nil {
		return fmt.Errorf("pretrain: experiment has no trajectory source")
	}
	for i := 0; i < steps; i++ {
		batch, err := e.source.Next()
		if err != nil {
			return fmt.Errorf("pretrain: could not get batch: %v", err)
		}

		loss, err := e.trainer.PreTrain(batch)
		if latentplan.IsNonFiniteLoss(err) {
			e.skipped++
			continue
		} else if err != nil {
			return fmt.Errorf("pretrain: %v", err)
		}

		e.preTrainSteps++
		step := ts.New(ts.PreTrain, e.preTrainSteps,
			map[string]float64{"loss": loss})
		if err := e.step(step); err != nil {
			return fmt.Errorf("pretrain: %v", err)
		}
	}
	return nil
}

// FineTune runs steps fine-tuning updates towards the Session's goal.
// The Trainer's replay buffer must hold enough transitions to be
// sampled.
func (e *Experiment) FineTune(s latentplan.Session, steps int) error {
	for i := 0; i < steps; i++ {
		criticLoss, actorLoss, err := e.trainer.FineTune(s)
		if latentplan.IsNonFiniteLoss(err) {
			e.skipped++
			continue
		} else if err != nil {
			return fmt.Errorf("finetune: %w", err)
		}

		e.fineTuneSteps++
		step := ts.New(ts.FineTune, e.fineTuneSteps, map[string]float64{
			"critic": criticLoss,
			"actor":  actorLoss,
		})
		if err := e.step(step); err != nil {
			return fmt.Errorf("finetune: %v", err)
		}
	}
	return nil
}

// step tracks and checkpoints a completed step
func (e *Experiment) step(t ts.TimeStep) error {
	e.logger.WithFields(logrus.Fields{
		"phase": t.Phase,
		"step":  t.Number,
	}).Trace(t)

	for _, tr := range e.trackers {
		tr.Track(t)
	}
	for _, c := range e.checkpointers {
		if err := c.Checkpoint(t); err != nil {
			return fmt.Errorf("could not checkpoint: %v", err)
		}
	}
	for _, f := range e.onStep {
		f(t)
	}
	return nil
}

// Save saves all the data cached by the Trackers to disk
func (e *Experiment) Save() error {
	for _, tr := range e.trackers {
		if err := tr.Save(); err != nil {
			return fmt.Errorf("save: %v", err)
		}
	}
	return nil
}
