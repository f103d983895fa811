// Package latentplan implements a trainer for latent plan agents.
//
// A latent plan agent embeds vision and proprioception, infers a
// latent plan with a pair of variational encoders, and acts with an
// actor conditioned on the plan and a goal. The Trainer pretrains the
// embedding, both plan encoders, and the actor by imitation, then
// fine-tunes the actor against a critic with off-policy actor-critic
// updates from a prioritized replay buffer.
//
// Gorgonia graphs have a fixed batch size, so each role (pretraining,
// TD targets, critic training, actor training, and inference) has its
// own graph. The pretraining graph holds the canonical embedding, plan
// encoders, and actor; the critic graph holds the canonical critic; and
// the target graph holds the target actor and target critic. Every
// other copy of a network is a replica which is synchronized with its
// canonical network before use.
package latentplan

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/samuelfneumann/golatent/agent/nonlinear/continuous/embedding"
	"github.com/samuelfneumann/golatent/expreplay"
	"github.com/samuelfneumann/golatent/network"
	"github.com/samuelfneumann/golatent/noise"
	"github.com/samuelfneumann/golatent/timestep"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Trainer trains and runs a latent plan agent. A Trainer must not be
// used concurrently.
type Trainer struct {
	config Config
	logger logrus.FieldLogger
	src    rand.Source
	normal distuv.Normal
	eval   bool

	replay expreplay.Replayer
	noise  noise.Process

	pretrain  *pretrainGraph
	target    *targetGraph
	critic    *criticGraph
	actor     *actorGraph
	inference *inferenceGraph

	batchEmbedder *embedding.Runner
	embedder      *embedding.Runner

	pretrainSteps int
	finetuneSteps int
	tdErrors      []float64
	tdTargets     []float64
}

// Option configures optional behaviour of a Trainer
type Option func(*Trainer)

// WithLogger sets the logger of the Trainer. By default, the standard
// logrus logger is used.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(t *Trainer) {
		t.logger = logger
	}
}

// WithSource sets the source of randomness used for latent plan
// sampling and action sampling. By default, a source seeded with the
// Config's Seed is used.
func WithSource(src rand.Source) Option {
	return func(t *Trainer) {
		t.src = src
	}
}

// New returns a new Trainer. The replay buffer must sample batches of
// the Config's BatchSize, and the noise process must have the same
// dimensionality as actions. Either may be nil if fine-tuning or noisy
// actions are not needed.
func New(c Config, replay expreplay.Replayer, n noise.Process,
	opts ...Option) (*Trainer, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}
	if replay != nil && replay.BatchSize() != c.BatchSize {
		return nil, fmt.Errorf("new: replay batch size (%d) != batch size "+
			"(%d)", replay.BatchSize(), c.BatchSize)
	}
	if n != nil && len(n.Sample()) != c.Embedding.ActionDim {
		return nil, fmt.Errorf("new: noise process does not match action "+
			"size %d", c.Embedding.ActionDim)
	}
	if n != nil {
		n.Reset()
	}

	t := &Trainer{
		config: c,
		replay: replay,
		noise:  n,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = logrus.StandardLogger()
	}
	if t.src == nil {
		t.src = rand.NewSource(c.Seed)
	}
	t.normal = distuv.Normal{Mu: 0, Sigma: 1, Src: t.src}

	initWFn, err := c.initWFn()
	if err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}
	init := initWFn.InitWFn()
	s, err := c.solver()
	if err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}

	if t.pretrain, err = newPretrainGraph(c, init, s); err != nil {
		return nil, errors.Wrap(err, "new")
	}
	if t.critic, err = newCriticGraph(c, init, s); err != nil {
		return nil, errors.Wrap(err, "new")
	}
	if t.target, err = newTargetGraph(c, init); err != nil {
		return nil, errors.Wrap(err, "new")
	}
	if t.actor, err = newActorGraph(c, init, s); err != nil {
		return nil, errors.Wrap(err, "new")
	}
	if t.inference, err = newInferenceGraph(c, init); err != nil {
		return nil, errors.Wrap(err, "new")
	}
	t.batchEmbedder, err = embedding.NewRunner(c.Embedding, c.BatchSize, init)
	if err != nil {
		return nil, errors.Wrap(err, "new")
	}
	if t.embedder, err = embedding.NewRunner(c.Embedding, 1, init); err != nil {
		return nil, errors.Wrap(err, "new")
	}

	// Targets start as exact copies of the online networks
	if err := t.SoftUpdate(1); err != nil {
		return nil, errors.Wrap(err, "new")
	}

	t.logger.WithFields(logrus.Fields{
		"embedding":        network.NumParams(t.pretrain.embedding),
		"plan_recognition": network.NumParams(t.pretrain.recognition),
		"plan_proposal":    network.NumParams(t.pretrain.proposal),
		"actor":            network.NumParams(t.pretrain.actor),
		"critic":           network.NumParams(t.critic.critic),
	}).Debug("created latent plan trainer")

	return t, nil
}

// Config returns a copy of the Trainer's configuration
func (t *Trainer) Config() Config {
	return t.config
}

// Eval sets the Trainer to evaluation mode. GetAction and
// ProposalDistribution switch the Trainer to evaluation mode, and
// PreTrain and FineTune switch it back to training mode. No module
// behaves differently between the two modes; the mode only records
// whether the Trainer was last used to act or to learn.
func (t *Trainer) Eval() { t.eval = true }

// Train sets the Trainer to training mode
func (t *Trainer) Train() { t.eval = false }

// IsEval returns whether the Trainer is in evaluation mode
func (t *Trainer) IsEval() bool { return t.eval }

// Seed reseeds the source of randomness used for sampling
func (t *Trainer) Seed(seed uint64) {
	t.src.Seed(seed)
}

// Store adds a transition to the replay buffer
func (t *Trainer) Store(tr timestep.Transition) error {
	if t.replay == nil {
		return fmt.Errorf("store: trainer has no replay buffer")
	}
	return t.replay.Store(tr)
}

// TDErrors returns the absolute TD errors of the most recent
// fine-tuning step
func (t *Trainer) TDErrors() []float64 {
	return append([]float64(nil), t.tdErrors...)
}

// TDTargets returns the TD targets of the most recent fine-tuning step
func (t *Trainer) TDTargets() []float64 {
	return append([]float64(nil), t.tdTargets...)
}

// SoftUpdate moves the target actor and target critic towards the
// actor and critic:
//
//	target ← τ * online + (1 - τ) * target
func (t *Trainer) SoftUpdate(tau float64) error {
	if err := network.Polyak(t.target.actor, t.pretrain.actor, tau); err != nil {
		return fmt.Errorf("softupdate: actor: %v", err)
	}
	if err := network.Polyak(t.target.critic, t.critic.critic, tau); err != nil {
		return fmt.Errorf("softupdate: critic: %v", err)
	}
	return nil
}

// sampleNormal returns n standard normal samples
func (t *Trainer) sampleNormal(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = t.normal.Rand()
	}
	return out
}

// Close releases the resources of every VM owned by the Trainer
func (t *Trainer) Close() error {
	vms := []G.VM{
		t.pretrain.vm,
		t.target.vm,
		t.critic.vm,
		t.actor.vm,
		t.inference.proposalVM,
		t.inference.actionVM,
	}
	for _, vm := range vms {
		if err := vm.Close(); err != nil {
			return fmt.Errorf("close: %v", err)
		}
	}
	if err := t.batchEmbedder.Close(); err != nil {
		return fmt.Errorf("close: %v", err)
	}
	return t.embedder.Close()
}

// zeros adds a (rows, cols) input node of zeros to the graph
func zeros(g *G.ExprGraph, name string, rows, cols int) *G.Node {
	return G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(rows, cols),
		G.WithName(name),
		G.WithInit(G.Zeroes()),
	)
}

// readCopy reads the value of n through a copy of n that no other op
// consumes, so that ops reusing the memory of n in place cannot
// overwrite the value read
func readCopy(n *G.Node, into *G.Value) {
	G.Read(G.Must(G.HadamardProd(n, G.NewConstant(1.0))), into)
}

// input adds a (rows, cols) input node to the graph
func input(g *G.ExprGraph, name string, rows, cols int) *G.Node {
	return G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(rows, cols),
		G.WithName(name),
	)
}
