// Command golatent pretrains a latent plan agent on demonstration
// trajectories, fine-tunes it from a replay buffer, and then acts
// towards a goal. Without a data source it trains on synthetic data,
// which exercises the full pipeline end to end.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/samuelfneumann/golatent/agent/nonlinear/continuous/latentplan"
	"github.com/samuelfneumann/golatent/experiment"
	"github.com/samuelfneumann/golatent/experiment/checkpointer"
	"github.com/samuelfneumann/golatent/experiment/tracker"
	"github.com/samuelfneumann/golatent/expreplay"
	"github.com/samuelfneumann/golatent/noise"
	ts "github.com/samuelfneumann/golatent/timestep"
	"github.com/samuelfneumann/golatent/utils/progressbar"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

func main() {
	configFile := flag.String("config", "", "JSON trainer configuration; "+
		"missing fields keep their defaults")
	preTrainSteps := flag.Int("pretrain", 100, "number of pretraining steps")
	fineTuneSteps := flag.Int("finetune", 100, "number of fine-tuning steps")
	transitions := flag.Int("transitions", 256, "number of synthetic "+
		"transitions stored before fine-tuning")
	episode := flag.Int("episode", 20, "number of steps acted towards the "+
		"goal after training")
	every := flag.Int("checkpoint", 50, "checkpoint every n steps")
	out := flag.String("out", "golatent-out", "output directory")
	verbose := flag.Bool("v", false, "log every training step")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	c, err := loadConfig(*configFile)
	if err != nil {
		logger.WithError(err).Fatal("could not load configuration")
	}
	if err := os.MkdirAll(*out, 0o755); err != nil {
		logger.WithError(err).Fatal("could not create output directory")
	}

	replay, err := expreplay.Config{
		MaxReplayCapacity: *transitions,
		MinReplayCapacity: c.BatchSize,
		BatchSize:         c.BatchSize,
		Alpha:             0.6,
		Beta:              0.4,
		Epsilon:           1e-6,
	}.Create(c.Embedding.VisionSize(), c.Embedding.ProprioceptionDim,
		c.Embedding.ActionDim, c.Seed)
	if err != nil {
		logger.WithError(err).Fatal("could not create replay buffer")
	}
	ou, err := noise.NewDefaultOrnsteinUhlenbeck(c.Embedding.ActionDim, c.Seed)
	if err != nil {
		logger.WithError(err).Fatal("could not create exploration noise")
	}

	trainer, err := latentplan.New(c, replay, ou,
		latentplan.WithLogger(logger))
	if err != nil {
		logger.WithError(err).Fatal("could not create trainer")
	}
	defer trainer.Close()

	data := newSynthetic(c, c.Seed+1)
	preLosses := tracker.NewLosses(ts.PreTrain,
		filepath.Join(*out, "pretrain.bin"))
	fineLosses := tracker.NewLosses(ts.FineTune,
		filepath.Join(*out, "finetune.bin"))

	var checkpointers []checkpointer.Checkpointer
	for _, phase := range []ts.Phase{ts.PreTrain, ts.FineTune} {
		name := filepath.Join(*out, fmt.Sprintf("%v-", phase))
		check, err := checkpointer.NewNStep(*every, phase, trainer,
			checkpointer.FilenameEnumerator(0, name, ".ckpt"))
		if err != nil {
			logger.WithError(err).Fatal("could not create checkpointer")
		}
		checkpointers = append(checkpointers, check)
	}

	e := experiment.New(trainer, experiment.SourceFunc(data.trajectories),
		logger, []tracker.Tracker{preLosses, fineLosses}, checkpointers)

	// Pretraining
	bar := progressbar.New(os.Stdout, 40, *preTrainSteps)
	e.OnStep(func(t ts.TimeStep) {
		bar.Increment()
		bar.SetStatus("%v", t)
		bar.Display()
	})
	logger.Info("pretraining")
	if err := e.PreTrain(*preTrainSteps); err != nil {
		logger.WithError(err).Fatal("pretraining failed")
	}
	bar.Close()

	// Fine-tuning from synthetic transitions towards a synthetic goal
	for i := 0; i < *transitions; i++ {
		if err := trainer.Store(data.transition()); err != nil {
			logger.WithError(err).Fatal("could not store transition")
		}
	}
	session, err := trainer.SetGoal(data.frame())
	if err != nil {
		logger.WithError(err).Fatal("could not set goal")
	}

	bar = progressbar.New(os.Stdout, 40, *fineTuneSteps)
	logger.Info("fine-tuning")
	if err := e.FineTune(session, *fineTuneSteps); err != nil {
		logger.WithError(err).Fatal("fine-tuning failed")
	}
	bar.Close()
	if e.Skipped() > 0 {
		logger.WithField("skipped", e.Skipped()).Warn("steps skipped due " +
			"to non-finite losses")
	}

	// Act towards the goal
	for i := 0; i < *episode; i++ {
		var action []float64
		action, session, err = trainer.GetAction(session, data.frame(),
			data.proprioception(), true)
		if err != nil {
			logger.WithError(err).Fatal("could not select action")
		}
		logger.WithFields(logrus.Fields{
			"step":   i,
			"action": action,
		}).Debug("acted")
	}

	if err := e.Save(); err != nil {
		logger.WithError(err).Error("could not save losses")
	}
	for name, l := range map[string]*tracker.Losses{
		"pretrain.png": preLosses,
		"finetune.png": fineLosses,
	} {
		if err := l.Plot(filepath.Join(*out, name)); err != nil {
			logger.WithError(err).Error("could not plot losses")
		}
	}
	final := filepath.Join(*out, "final.ckpt")
	if err := trainer.Save(final); err != nil {
		logger.WithError(err).Fatal("could not save final checkpoint")
	}
}

// loadConfig returns the default configuration overridden by the JSON
// configuration file, if given
func loadConfig(filename string) (latentplan.Config, error) {
	c := latentplan.DefaultConfig()
	if filename == "" {
		return c, nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return c, fmt.Errorf("loadconfig: %v", err)
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("loadconfig: %v", err)
	}
	return c, c.Validate()
}

// synthetic generates demonstrations in which the action is a fixed
// smooth function of proprioception, so that pretraining has
// something to learn
type synthetic struct {
	c       latentplan.Config
	uniform distuv.Uniform
}

func newSynthetic(c latentplan.Config, seed uint64) *synthetic {
	return &synthetic{
		c:       c,
		uniform: distuv.Uniform{Min: -1, Max: 1, Src: rand.NewSource(seed)},
	}
}

func (s *synthetic) sample(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = s.uniform.Rand()
	}
	return out
}

func (s *synthetic) frame() []float64 {
	return s.sample(s.c.Embedding.VisionSize())
}

func (s *synthetic) proprioception() []float64 {
	return s.sample(s.c.Embedding.ProprioceptionDim)
}

// expert returns the demonstrated action for proprioception p
func (s *synthetic) expert(p []float64) []float64 {
	action := make([]float64, s.c.Embedding.ActionDim)
	for i := range action {
		action[i] = math.Tanh(p[i%len(p)] + 0.5*p[(i+1)%len(p)])
	}
	return action
}

func (s *synthetic) trajectories() (latentplan.Trajectories, error) {
	var t latentplan.Trajectories
	for i := 0; i < s.c.BatchSize*s.c.SequenceLength; i++ {
		p := s.proprioception()
		t.Video = append(t.Video, s.frame()...)
		t.Proprioception = append(t.Proprioception, p...)
		t.Actions = append(t.Actions, s.expert(p)...)
	}
	return t, nil
}

// transition returns a random transition rewarded by its agreement
// with the expert
func (s *synthetic) transition() ts.Transition {
	p := s.proprioception()
	action := s.sample(s.c.Embedding.ActionDim)

	var reward float64
	for i, a := range s.expert(p) {
		reward -= (a - action[i]) * (a - action[i])
	}
	done := s.uniform.Rand() > 0.9

	return ts.NewTransition(s.frame(), p, action, reward, s.frame(),
		s.proprioception(), done)
}
