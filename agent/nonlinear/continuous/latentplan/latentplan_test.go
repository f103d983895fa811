package latentplan

import (
	"fmt"
	"io"
	"math"
	"path/filepath"
	"testing"

	"github.com/samuelfneumann/golatent/agent/nonlinear/continuous/policy"
	"github.com/samuelfneumann/golatent/expreplay"
	"github.com/samuelfneumann/golatent/network"
	"github.com/samuelfneumann/golatent/noise"
	"github.com/samuelfneumann/golatent/timestep"
	"github.com/samuelfneumann/golatent/utils/tensorutils"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/stat/distuv"
	G "gorgonia.org/gorgonia"
)

func quietLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func uniform(src rand.Source, n int) []float64 {
	u := distuv.Uniform{Min: -1, Max: 1, Src: src}
	out := make([]float64, n)
	for i := range out {
		out[i] = u.Rand()
	}
	return out
}

func newTrainer(t *testing.T, c Config) (*Trainer, expreplay.Replayer) {
	t.Helper()
	replay, err := expreplay.Config{
		MaxReplayCapacity: 16,
		MinReplayCapacity: c.BatchSize,
		BatchSize:         c.BatchSize,
		Alpha:             0.6,
		Beta:              0.4,
		Epsilon:           1e-3,
	}.Create(c.Embedding.VisionSize(), c.Embedding.ProprioceptionDim,
		c.Embedding.ActionDim, 3)
	if err != nil {
		t.Fatal(err)
	}
	n, err := noise.NewDefaultOrnsteinUhlenbeck(c.Embedding.ActionDim, 5)
	if err != nil {
		t.Fatal(err)
	}

	tr, err := New(c, replay, n, WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr, replay
}

func trajectories(c Config, seed uint64) Trajectories {
	src := rand.NewSource(seed)
	n := c.BatchSize * c.SequenceLength
	e := c.Embedding
	return Trajectories{
		Actions:        uniform(src, n*e.ActionDim),
		Video:          uniform(src, n*e.VisionSize()),
		Proprioception: uniform(src, n*e.ProprioceptionDim),
	}
}

func equalStates(a, b ModuleState) bool {
	if len(a.Values) != len(b.Values) {
		return false
	}
	for i := range a.Values {
		if len(a.Values[i]) != len(b.Values[i]) {
			return false
		}
		for j := range a.Values[i] {
			if a.Values[i][j] != b.Values[i][j] {
				return false
			}
		}
	}
	return true
}

func TestPreTrain(t *testing.T) {
	c := DefaultConfig()
	tr, _ := newTrainer(t, c)
	b := trajectories(c, 11)

	before := tr.Checkpoint()
	loss, err := tr.PreTrain(b)
	if err != nil {
		t.Fatal(err)
	}
	if math.IsNaN(loss) || math.IsInf(loss, 0) || loss <= 0 {
		t.Errorf("PreTrain() = %v, want a finite positive loss", loss)
	}

	after := tr.Checkpoint()
	for _, key := range []string{EmbeddingKey, RecognitionKey, ProposalKey,
		ActorKey} {
		if equalStates(before[key], after[key]) {
			t.Errorf("%v was not updated by PreTrain", key)
		}
	}
	for _, key := range []string{CriticKey, TargetCriticKey,
		TargetActorKey} {
		if !equalStates(before[key], after[key]) {
			t.Errorf("%v was changed by PreTrain", key)
		}
	}
}

func TestPreTrainLossDeterministic(t *testing.T) {
	c := DefaultConfig()
	tr, _ := newTrainer(t, c)
	b := trajectories(c, 12)
	before := tr.Checkpoint()

	tr.Seed(7)
	first, err := tr.PreTrainLoss(b)
	if err != nil {
		t.Fatal(err)
	}
	tr.Seed(7)
	second, err := tr.PreTrainLoss(b)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("losses differ with the same latent noise: %v != %v", first,
			second)
	}
	if first <= 0 || math.IsNaN(first) || math.IsInf(first, 0) {
		t.Errorf("PreTrainLoss() = %v, want a finite positive loss", first)
	}

	after := tr.Checkpoint()
	for _, key := range CheckpointKeys {
		if !equalStates(before[key], after[key]) {
			t.Errorf("PreTrainLoss changed %v", key)
		}
	}
}

func TestPreTrainNonFiniteLoss(t *testing.T) {
	c := DefaultConfig()
	tr, _ := newTrainer(t, c)
	b := trajectories(c, 13)
	b.Actions[0] = math.NaN()

	before := tr.Checkpoint()
	_, err := tr.PreTrain(b)
	if !IsNonFiniteLoss(err) {
		t.Fatalf("PreTrain() error = %v, want a non-finite loss error", err)
	}

	after := tr.Checkpoint()
	for _, key := range CheckpointKeys {
		if !equalStates(before[key], after[key]) {
			t.Errorf("skipped step changed %v", key)
		}
	}
}

func TestPreTrainInvalidBatch(t *testing.T) {
	c := DefaultConfig()
	tr, _ := newTrainer(t, c)
	b := trajectories(c, 14)
	b.Video = b.Video[1:]

	if _, err := tr.PreTrain(b); err == nil {
		t.Error("expected an error for a batch of the wrong size")
	}
}

func TestPreTrainVariants(t *testing.T) {
	transformer := network.BackboneConfig{
		Type:      network.TransformerBackbone,
		Hidden:    8,
		ModelDim:  4,
		Heads:     2,
		MaxLength: 4,
	}

	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"Direct", func(c *Config) { c.Actor.Head = policy.Direct }},
		{"NLL", func(c *Config) { c.ImitationLoss = NLL }},
		{"Transformer", func(c *Config) {
			c.Actor.Backbone = transformer
			c.Recognition = transformer
		}},
		{"SingleStep", func(c *Config) {
			c.SequenceLength = 1
			c.HistoryLength = 1
		}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c := DefaultConfig()
			test.modify(&c)
			tr, _ := newTrainer(t, c)

			loss, err := tr.PreTrain(trajectories(c, 15))
			if err != nil {
				t.Fatal(err)
			}
			if math.IsNaN(loss) || math.IsInf(loss, 0) {
				t.Errorf("PreTrain() = %v, want a finite loss", loss)
			}
		})
	}
}

func fillReplay(t *testing.T, tr *Trainer, c Config, n int) {
	t.Helper()
	src := rand.NewSource(21)
	e := c.Embedding
	for i := 0; i < n; i++ {
		transition := timestep.NewTransition(
			uniform(src, e.VisionSize()),
			uniform(src, e.ProprioceptionDim),
			uniform(src, e.ActionDim),
			0,
			uniform(src, e.VisionSize()),
			uniform(src, e.ProprioceptionDim),
			true,
		)
		if err := tr.Store(transition); err != nil {
			t.Fatal(err)
		}
	}
}

func newSession(t *testing.T, tr *Trainer, c Config) Session {
	t.Helper()
	goal := uniform(rand.NewSource(31), c.Embedding.VisionSize())
	s, err := tr.SetGoal(goal)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestFineTuneInsufficientSamples(t *testing.T) {
	c := DefaultConfig()
	tr, _ := newTrainer(t, c)
	s := newSession(t, tr, c)

	_, _, err := tr.FineTune(s)
	if !expreplay.IsEmptyBuffer(err) {
		t.Errorf("FineTune() error = %v, want an empty buffer error", err)
	}

	fillReplay(t, tr, c, c.BatchSize-1)
	_, _, err = tr.FineTune(s)
	if !expreplay.IsInsufficientSamples(err) {
		t.Errorf("FineTune() error = %v, want an insufficient samples "+
			"error", err)
	}
}

func TestFineTuneTerminalTargets(t *testing.T) {
	c := DefaultConfig()
	tr, _ := newTrainer(t, c)
	fillReplay(t, tr, c, 2*c.BatchSize)
	s := newSession(t, tr, c)

	before := tr.Checkpoint()
	criticLoss, actorLoss, err := tr.FineTune(s)
	if err != nil {
		t.Fatal(err)
	}
	if criticLoss < 0 || math.IsNaN(criticLoss) || math.IsInf(criticLoss, 0) {
		t.Errorf("critic loss = %v, want a finite non-negative loss",
			criticLoss)
	}
	if math.IsNaN(actorLoss) || math.IsInf(actorLoss, 0) {
		t.Errorf("actor loss = %v, want a finite loss", actorLoss)
	}

	// Terminal transitions with zero reward have zero targets
	targets := tr.TDTargets()
	if len(targets) != c.BatchSize {
		t.Fatalf("got %d TD targets, want %d", len(targets), c.BatchSize)
	}
	for i, target := range targets {
		if target != 0 {
			t.Errorf("TD target %d = %v, want 0", i, target)
		}
	}
	tdErrors := tr.TDErrors()
	if len(tdErrors) != c.BatchSize {
		t.Fatalf("got %d TD errors, want %d", len(tdErrors), c.BatchSize)
	}
	for i, e := range tdErrors {
		if e < 0 || math.IsNaN(e) || math.IsInf(e, 0) {
			t.Errorf("TD error %d = %v, want finite and non-negative", i, e)
		}
	}

	after := tr.Checkpoint()
	for _, key := range []string{CriticKey, ActorKey, TargetCriticKey,
		TargetActorKey} {
		if equalStates(before[key], after[key]) {
			t.Errorf("%v was not updated by FineTune", key)
		}
	}
	for _, key := range []string{EmbeddingKey, RecognitionKey,
		ProposalKey} {
		if !equalStates(before[key], after[key]) {
			t.Errorf("%v was changed by FineTune", key)
		}
	}
}

func TestFineTuneClipOrder(t *testing.T) {
	for _, fix := range []bool{true, false} {
		c := DefaultConfig()
		c.FixClipOrder = fix
		tr, _ := newTrainer(t, c)
		fillReplay(t, tr, c, c.BatchSize)
		s := newSession(t, tr, c)

		if _, _, err := tr.FineTune(s); err != nil {
			t.Errorf("FineTune() with FixClipOrder = %v: %v", fix, err)
		}
	}
}

func TestSoftUpdate(t *testing.T) {
	c := DefaultConfig()
	tr, _ := newTrainer(t, c)
	if _, err := tr.PreTrain(trajectories(c, 16)); err != nil {
		t.Fatal(err)
	}

	before := tr.Checkpoint()
	if err := tr.SoftUpdate(0); err != nil {
		t.Fatal(err)
	}
	after := tr.Checkpoint()
	if !equalStates(before[TargetActorKey], after[TargetActorKey]) {
		t.Error("τ = 0 changed the target actor")
	}
	if equalStates(after[TargetActorKey], after[ActorKey]) {
		t.Error("target actor equals the actor after pretraining")
	}

	if err := tr.SoftUpdate(1); err != nil {
		t.Fatal(err)
	}
	after = tr.Checkpoint()
	if !equalStates(after[TargetActorKey], after[ActorKey]) {
		t.Error("τ = 1 did not copy the actor to the target actor")
	}
	if !equalStates(after[TargetCriticKey], after[CriticKey]) {
		t.Error("τ = 1 did not copy the critic to the target critic")
	}

	if err := tr.SoftUpdate(1.5); err == nil {
		t.Error("expected an error for τ > 1")
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	c := DefaultConfig()
	tr, _ := newTrainer(t, c)
	if _, err := tr.PreTrain(trajectories(c, 17)); err != nil {
		t.Fatal(err)
	}

	filename := filepath.Join(t.TempDir(), "trainer.bin")
	if err := tr.Save(filename); err != nil {
		t.Fatal(err)
	}

	c.Seed = 99
	restored, _ := newTrainer(t, c)
	if err := restored.Load(filename); err != nil {
		t.Fatal(err)
	}

	want, got := tr.Checkpoint(), restored.Checkpoint()
	if len(got) != len(CheckpointKeys) {
		t.Errorf("checkpoint has %d keys, want %d", len(got),
			len(CheckpointKeys))
	}
	for _, key := range CheckpointKeys {
		if !equalStates(want[key], got[key]) {
			t.Errorf("%v differs after loading", key)
		}
	}
}

func TestRestoreRejectsInvalidCheckpoint(t *testing.T) {
	c := DefaultConfig()
	tr, _ := newTrainer(t, c)
	other, _ := newTrainer(t, c)
	if _, err := other.PreTrain(trajectories(c, 18)); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		modify func(Checkpoint)
	}{
		{"MissingKey", func(ckpt Checkpoint) {
			delete(ckpt, TargetCriticKey)
		}},
		{"MissingParameter", func(ckpt Checkpoint) {
			state := ckpt[CriticKey]
			n := len(state.Values) - 1
			ckpt[CriticKey] = ModuleState{
				Shapes: state.Shapes[:n],
				Values: state.Values[:n],
			}
		}},
		{"WrongSize", func(ckpt Checkpoint) {
			state := ckpt[ActorKey]
			values := append([][]float64(nil), state.Values...)
			values[0] = values[0][1:]
			ckpt[ActorKey] = ModuleState{Shapes: state.Shapes, Values: values}
		}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			ckpt := other.Checkpoint()
			test.modify(ckpt)

			before := tr.Checkpoint()
			if err := tr.Restore(ckpt); !IsCheckpointError(err) {
				t.Fatalf("Restore() error = %v, want a checkpoint error", err)
			}
			after := tr.Checkpoint()
			for _, key := range CheckpointKeys {
				if !equalStates(before[key], after[key]) {
					t.Errorf("failed restore changed %v", key)
				}
			}
		})
	}
}

func TestGetAction(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"Logistic", func(*Config) {}},
		{"Direct", func(c *Config) { c.Actor.Head = policy.Direct }},
		{"Transformer", func(c *Config) {
			c.Actor.Backbone = network.BackboneConfig{
				Type:      network.TransformerBackbone,
				Hidden:    8,
				ModelDim:  4,
				Heads:     2,
				MaxLength: c.HistoryLength,
			}
		}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c := DefaultConfig()
			test.modify(&c)
			tr, _ := newTrainer(t, c)
			s := newSession(t, tr, c)
			src := rand.NewSource(41)
			e := c.Embedding

			for step := 0; step < c.HistoryLength+1; step++ {
				greedy := step%2 == 0
				vision := uniform(src, e.VisionSize())
				proprio := uniform(src, e.ProprioceptionDim)

				action, next, err := tr.GetAction(s, vision, proprio, greedy)
				if err != nil {
					t.Fatal(err)
				}
				if len(action) != e.ActionDim {
					t.Fatalf("got action of size %d, want %d", len(action),
						e.ActionDim)
				}
				for i, a := range action {
					if a < -1 || a > 1 || math.IsNaN(a) {
						t.Errorf("action[%d] = %v, want in [-1, 1]", i, a)
					}
				}

				// The argument is unchanged and the returned session holds
				// this step's features as its newest entry
				if step == 0 && !allZero(s.Context.Features.Flatten()) {
					t.Error("GetAction modified its session argument")
				}
				newest := next.Context.Features.At(c.HistoryLength - 1)
				if allZero(newest) {
					t.Errorf("step %d: context was not advanced", step)
				}
				s = next
			}

			if _, _, err := tr.GetAction(Session{}, nil, nil, true); err == nil {
				t.Error("expected an error for a session without a goal")
			}
		})
	}
}

func TestGetActionDefaultConfig(t *testing.T) {
	c := DefaultConfig()
	tr, _ := newTrainer(t, c)
	s := newSession(t, tr, c)
	src := rand.NewSource(43)
	e := c.Embedding

	for step := 0; step < 20; step++ {
		action, next, err := tr.GetAction(s, uniform(src, e.VisionSize()),
			uniform(src, e.ProprioceptionDim), step%2 == 0)
		if err != nil {
			t.Fatalf("step %d: %v", step, err)
		}
		for i, a := range action {
			if a < -1 || a > 1 || math.IsNaN(a) {
				t.Errorf("step %d: action[%d] = %v, want in [-1, 1]", step,
					i, a)
			}
		}
		s = next
	}
}

// TestActMatchesActorGraph checks the mixture used to sample actions
// against the log density computed by a separate graph holding a copy
// of the actor's heads over the same window
func TestActMatchesActorGraph(t *testing.T) {
	c := DefaultConfig()
	tr, _ := newTrainer(t, c)
	s := newSession(t, tr, c)
	src := rand.NewSource(47)
	e := c.Embedding

	// Fill the context so that every window entry is non-zero
	var err error
	for step := 0; step < c.HistoryLength; step++ {
		_, s, err = tr.GetAction(s, uniform(src, e.VisionSize()),
			uniform(src, e.ProprioceptionDim), true)
		if err != nil {
			t.Fatal(err)
		}
	}

	visionEmb, proprioEmb, _, err := tr.embedder.Embed(
		uniform(src, e.VisionSize()), uniform(src, e.ProprioceptionDim), nil)
	if err != nil {
		t.Fatal(err)
	}
	out, err := tr.act(s, visionEmb, proprioEmb)
	if err != nil {
		t.Fatal(err)
	}
	if out.mixture == nil {
		t.Fatal("logistic actor produced no mixture")
	}
	if len(out.features) != c.actorInputs() {
		t.Fatalf("got %d step features, want %d", len(out.features),
			c.actorInputs())
	}

	g := G.NewGraph()
	actor, err := policy.New(g, c.Actor, c.actorInputs(), e.ActionDim,
		G.GlorotU(1), "actor")
	if err != nil {
		t.Fatal(err)
	}
	if err := network.Set(actor, tr.pretrain.actor); err != nil {
		t.Fatal(err)
	}

	window := make([]*G.Node, c.HistoryLength)
	data := make([][]float64, c.HistoryLength)
	for i := range window {
		window[i] = input(g, fmt.Sprintf("step%d", i), 1, c.actorInputs())
		if i < c.HistoryLength-1 {
			data[i] = s.Context.Features.At(i + 1)
		} else {
			data[i] = out.features
		}
	}
	labels := input(g, "labels", 1, e.ActionDim)
	mixture, ok := actor.(policy.Mixture)
	if !ok {
		t.Fatalf("%T is not a Mixture", actor)
	}
	action, err := mixture.Heads(window)
	if err != nil {
		t.Fatal(err)
	}
	logProb, err := action.LogProb(labels)
	if err != nil {
		t.Fatal(err)
	}
	var logProbVal G.Value
	G.Read(logProb, &logProbVal)
	vm := G.NewTapeMachine(g)
	defer vm.Close()

	for i := 0; i < 5; i++ {
		x := uniform(src, e.ActionDim)
		if err := letAll(append(window, labels),
			append(data, x)); err != nil {
			t.Fatal(err)
		}
		if err := vm.RunAll(); err != nil {
			t.Fatal(err)
		}
		want, err := tensorutils.Float64s(logProbVal)
		if err != nil {
			t.Fatal(err)
		}
		vm.Reset()

		have, err := out.mixture.LogProb(x)
		if err != nil {
			t.Fatal(err)
		}
		if !scalar.EqualWithinAbs(have, want[0], 1e-6) {
			t.Errorf("log density of %v: want(%v) have(%v)", x, want[0],
				have)
		}
	}
}

func TestEvalMode(t *testing.T) {
	c := DefaultConfig()
	tr, _ := newTrainer(t, c)
	fillReplay(t, tr, c, c.BatchSize)
	s := newSession(t, tr, c)
	src := rand.NewSource(53)
	e := c.Embedding

	if tr.IsEval() {
		t.Error("new trainer is in evaluation mode")
	}
	if _, _, err := tr.GetAction(s, uniform(src, e.VisionSize()),
		uniform(src, e.ProprioceptionDim), true); err != nil {
		t.Fatal(err)
	}
	if !tr.IsEval() {
		t.Error("GetAction did not switch to evaluation mode")
	}
	if _, err := tr.PreTrain(trajectories(c, 13)); err != nil {
		t.Fatal(err)
	}
	if tr.IsEval() {
		t.Error("PreTrain did not switch to training mode")
	}

	if _, err := tr.ProposalDistribution(s, uniform(src, e.VisionSize()),
		uniform(src, e.ProprioceptionDim)); err != nil {
		t.Fatal(err)
	}
	if !tr.IsEval() {
		t.Error("ProposalDistribution did not switch to evaluation mode")
	}
	if _, _, err := tr.FineTune(s); err != nil {
		t.Fatal(err)
	}
	if tr.IsEval() {
		t.Error("FineTune did not switch to training mode")
	}
}

func TestCriticWeights(t *testing.T) {
	batch := expreplay.Batch{Weights: []float64{0.25, 1, 0.5, 0.75}}

	for _, weighted := range []bool{false, true} {
		c := DefaultConfig()
		c.ImportanceWeightedCritic = weighted
		tr, _ := newTrainer(t, c)

		weights := tr.criticWeights(batch)
		if len(weights) != c.BatchSize {
			t.Fatalf("got %d weights, want %d", len(weights), c.BatchSize)
		}
		for i, w := range weights {
			want := 1.0
			if weighted {
				want = batch.Weights[i]
			}
			if w != want {
				t.Errorf("weighted = %v: weight[%d] = %v, want %v", weighted,
					i, w, want)
			}
		}

		fillReplay(t, tr, c, c.BatchSize)
		s := newSession(t, tr, c)
		if _, _, err := tr.FineTune(s); err != nil {
			t.Errorf("FineTune() with ImportanceWeightedCritic = %v: %v",
				weighted, err)
		}
	}
}

func TestProposalDistribution(t *testing.T) {
	c := DefaultConfig()
	tr, _ := newTrainer(t, c)
	s := newSession(t, tr, c)
	src := rand.NewSource(51)
	e := c.Embedding

	d, err := tr.ProposalDistribution(s, uniform(src, e.VisionSize()),
		uniform(src, e.ProprioceptionDim))
	if err != nil {
		t.Fatal(err)
	}
	if d.Dims() != c.LatentDim {
		t.Errorf("proposal has %d dimensions, want %d", d.Dims(), c.LatentDim)
	}
	for i, scale := range d.Scale() {
		if scale <= 0 {
			t.Errorf("scale[%d] = %v, want > 0", i, scale)
		}
	}
}

func TestSetGoalInvalidFrame(t *testing.T) {
	c := DefaultConfig()
	tr, _ := newTrainer(t, c)
	if _, err := tr.SetGoal(make([]float64, 3)); err == nil {
		t.Error("expected an error for a goal frame of the wrong size")
	}
}

func TestNewRejectsMismatchedComponents(t *testing.T) {
	c := DefaultConfig()
	replay, err := expreplay.Config{
		MaxReplayCapacity: 16,
		MinReplayCapacity: 1,
		BatchSize:         c.BatchSize + 1,
	}.Create(c.Embedding.VisionSize(), c.Embedding.ProprioceptionDim,
		c.Embedding.ActionDim, 1)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := New(c, replay, nil, WithLogger(quietLogger())); err == nil {
		t.Error("expected an error for a replay buffer batch size mismatch")
	}

	n, err := noise.NewDefaultOrnsteinUhlenbeck(c.Embedding.ActionDim+1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := New(c, nil, n, WithLogger(quietLogger())); err == nil {
		t.Error("expected an error for a noise process size mismatch")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		valid  bool
	}{
		{"Default", func(*Config) {}, true},
		{"GPU", func(c *Config) { c.Device = "cuda" }, false},
		{"ZeroLatent", func(c *Config) { c.LatentDim = 0 }, false},
		{"Gamma", func(c *Config) { c.Gamma = 1.1 }, false},
		{"Tau", func(c *Config) { c.Tau = -0.1 }, false},
		{"QBits", func(c *Config) { c.QBits = 33 }, false},
		{"NoHistory", func(c *Config) { c.HistoryLength = 0 }, false},
		{"NLLDirect", func(c *Config) {
			c.ImitationLoss = NLL
			c.Actor.Head = policy.Direct
		}, false},
		{"UnknownLoss", func(c *Config) { c.ImitationLoss = "l1" }, false},
		{"ShortTransformer", func(c *Config) {
			c.Recognition = network.BackboneConfig{
				Type:      network.TransformerBackbone,
				Hidden:    8,
				ModelDim:  4,
				Heads:     2,
				MaxLength: c.SequenceLength - 1,
			}
		}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c := DefaultConfig()
			test.modify(&c)
			err := c.Validate()
			if test.valid && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			} else if !test.valid && err == nil {
				t.Error("Validate() = nil, want an error")
			}
		})
	}
}

func TestStepMajor(t *testing.T) {
	// Two trajectories of three steps with two features each
	batchMajor := []float64{
		0, 1, 2, 3, 4, 5,
		6, 7, 8, 9, 10, 11,
	}
	want := []float64{
		0, 1, 6, 7,
		2, 3, 8, 9,
		4, 5, 10, 11,
	}

	got := stepMajor(batchMajor, 2, 3)
	if !equal(got, want) {
		t.Errorf("stepMajor() = %v, want %v", got, want)
	}
}

func equal(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func allZero(v []float64) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
