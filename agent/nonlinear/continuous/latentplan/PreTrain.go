package latentplan

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/samuelfneumann/golatent/agent/nonlinear/continuous/embedding"
	"github.com/samuelfneumann/golatent/agent/nonlinear/continuous/plan"
	"github.com/samuelfneumann/golatent/agent/nonlinear/continuous/policy"
	"github.com/samuelfneumann/golatent/history"
	"github.com/samuelfneumann/golatent/network"
	"github.com/samuelfneumann/golatent/solver"
	"github.com/samuelfneumann/golatent/utils/floatutils"
	"github.com/samuelfneumann/golatent/utils/op"
	"github.com/samuelfneumann/golatent/utils/tensorutils"
	"github.com/sirupsen/logrus"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Trajectories is a batch of demonstration trajectories. Each field is
// flattened in row-major order with the batch as the outermost axis
// and time as the second axis:
//
//	Actions:        (batch, length, actionDim)
//	Video:          (batch, length, channels, height, width)
//	Proprioception: (batch, length, proprioceptionDim)
type Trajectories struct {
	Actions        []float64
	Video          []float64
	Proprioception []float64
}

// validate checks that the Trajectories hold batch trajectories of the
// given length
func (t Trajectories) validate(c Config) error {
	n := c.BatchSize * c.SequenceLength
	e := c.Embedding
	for _, field := range []struct {
		name  string
		data  []float64
		width int
	}{
		{"actions", t.Actions, e.ActionDim},
		{"video", t.Video, e.VisionSize()},
		{"proprioception", t.Proprioception, e.ProprioceptionDim},
	} {
		if len(field.data) != n*field.width {
			return fmt.Errorf("%v: expected %d values (batch %d, length %d, "+
				"width %d) but got %d", field.name, n*field.width,
				c.BatchSize, c.SequenceLength, field.width, len(field.data))
		}
	}
	return nil
}

// stepMajor reorders batch-major data of shape (batch, length, width)
// into step-major data of shape (length, batch, width)
func stepMajor(data []float64, batch, length int) []float64 {
	width := len(data) / (batch * length)
	out := make([]float64, len(data))
	for b := 0; b < batch; b++ {
		for t := 0; t < length; t++ {
			src := (b*length + t) * width
			dst := (t*batch + b) * width
			copy(out[dst:dst+width], data[src:src+width])
		}
	}
	return out
}

// pretrainGraph computes the imitation and latent regularization loss
// over a batch of trajectories and trains the embedding, plan encoders,
// and actor with a single backward pass.
//
// Rows of the inputs are step-major: row t * batch + b holds step t of
// trajectory b.
type pretrainGraph struct {
	g           *G.ExprGraph
	embedding   *embedding.Embedding
	recognition *plan.Recognition
	proposal    *plan.Proposal
	actor       policy.Actor

	video   *G.Node
	proprio *G.Node
	labels  *G.Node
	eps     *G.Node

	loss, kl, penalty, recon             *G.Node
	lossVal, klVal, penaltyVal, reconVal G.Value

	// Trained modules and their solvers
	names   []string
	modules []network.Module
	solvers []G.Solver
	vm      G.VM
}

func newPretrainGraph(c Config, init G.InitWFn,
	s *solver.Solver) (*pretrainGraph, error) {
	g := G.NewGraph()
	e := c.Embedding
	batch, length := c.BatchSize, c.SequenceLength
	rows := batch * length

	emb, err := embedding.New(g, e, init, "embedding")
	if err != nil {
		return nil, fmt.Errorf("newpretraingraph: %v", err)
	}
	recognition, err := plan.NewRecognition(g, e.VisionEmbeddingDim,
		e.ProprioceptionEmbeddingDim, c.LatentDim, c.Recognition, init,
		"plan_recognition")
	if err != nil {
		return nil, fmt.Errorf("newpretraingraph: %v", err)
	}
	proposal, err := plan.NewProposal(g, e.VisionEmbeddingDim,
		e.ProprioceptionEmbeddingDim, e.VisionEmbeddingDim, c.LatentDim,
		c.ProposalHidden, init, "plan_proposal")
	if err != nil {
		return nil, fmt.Errorf("newpretraingraph: %v", err)
	}
	actor, err := policy.New(g, c.Actor, c.actorInputs(), e.ActionDim, init,
		"actor")
	if err != nil {
		return nil, fmt.Errorf("newpretraingraph: %v", err)
	}

	p := &pretrainGraph{
		g:           g,
		embedding:   emb,
		recognition: recognition,
		proposal:    proposal,
		actor:       actor,
		video: G.NewTensor(g, tensor.Float64, 4,
			G.WithShape(rows, e.Channels, e.Height, e.Width),
			G.WithName("video")),
		proprio: input(g, "proprioception", rows, e.ProprioceptionDim),
		labels:  input(g, "action_labels", rows, e.ActionDim),
		eps:     input(g, "eps", rows, c.LatentDim),
	}
	if err := p.buildLoss(c); err != nil {
		return nil, fmt.Errorf("newpretraingraph: %v", err)
	}

	// The action embedding only feeds later steps, so it is not part
	// of the graph for length-1 trajectories
	embModule := network.Module(emb)
	if length == 1 {
		embModule = emb.VisionAndProprioception()
	}
	p.names = []string{"embedding", "plan_recognition", "plan_proposal",
		"actor"}
	p.modules = []network.Module{embModule, recognition, proposal, actor}
	p.solvers = make([]G.Solver, len(p.modules))
	for i := range p.solvers {
		p.solvers[i] = s.Fresh()
	}

	learnables := network.Modules(p.modules).Learnables()
	if _, err := G.Grad(p.loss, learnables...); err != nil {
		return nil, fmt.Errorf("newpretraingraph: could not compute "+
			"gradient: %v", err)
	}
	p.vm = G.NewTapeMachine(g, G.BindDualValues(learnables...))

	return p, nil
}

// buildLoss adds the pretraining loss to the graph:
//
//	β * Σ_t (KL(recognition ‖ proposal_t) + penalty(proposal_t)) +
//		(1/L) * Σ_t reconstruction_t
//
// The actor's window at step t holds the features of the steps before t
// followed by the features of step t itself, as when acting. Steps
// before the start of the trajectory are zero.
func (p *pretrainGraph) buildLoss(c Config) error {
	e := c.Embedding
	batch, length := c.BatchSize, c.SequenceLength

	vision, err := p.embedding.VisionEmbed(p.video)
	if err != nil {
		return err
	}
	proprio, err := p.embedding.ProprioceptionEmbed(p.proprio)
	if err != nil {
		return err
	}

	visionSteps := make([]*G.Node, length)
	proprioSteps := make([]*G.Node, length)
	for t := 0; t < length; t++ {
		if visionSteps[t], err = op.Rows(vision, t*batch, (t+1)*batch); err != nil {
			return err
		}
		if proprioSteps[t], err = op.Rows(proprio, t*batch,
			(t+1)*batch); err != nil {
			return err
		}
	}

	// Hindsight goal: the embedding of the final frame
	goal := visionSteps[length-1]

	recognition, err := p.recognition.Fwd(visionSteps, proprioSteps)
	if err != nil {
		return err
	}

	window, err := history.NewNodeWindow(
		zeros(p.g, "actor_context", batch, c.actorInputs()), c.HistoryLength)
	if err != nil {
		return err
	}
	prevAction := zeros(p.g, "prev_action_embedding", batch,
		e.ActionEmbeddingDim)

	var kl, penalty, recon *G.Node
	for t := 0; t < length; t++ {
		proposal, err := p.proposal.Fwd(visionSteps[t], proprioSteps[t], goal)
		if err != nil {
			return fmt.Errorf("step %d: %v", t, err)
		}

		klT, err := op.GaussianKL(recognition.Mean, recognition.Scale,
			proposal.Mean, proposal.Scale)
		if err != nil {
			return fmt.Errorf("step %d: %v", t, err)
		}
		penaltyT, err := op.StandardNormalPenalty(proposal.Mean,
			proposal.Scale)
		if err != nil {
			return fmt.Errorf("step %d: %v", t, err)
		}

		eps := G.Must(op.Rows(p.eps, t*batch, (t+1)*batch))
		latent, err := proposal.Sample(eps)
		if err != nil {
			return fmt.Errorf("step %d: %v", t, err)
		}

		features, err := policy.StepFeatures(visionSteps[t], proprioSteps[t],
			latent, goal, prevAction)
		if err != nil {
			return fmt.Errorf("step %d: %v", t, err)
		}
		if window, err = window.Push(features); err != nil {
			return fmt.Errorf("step %d: %v", t, err)
		}
		action, err := p.actor.Act(window.Nodes())
		if err != nil {
			return fmt.Errorf("step %d: %v", t, err)
		}

		labels := G.Must(op.Rows(p.labels, t*batch, (t+1)*batch))
		reconT, err := imitationLoss(c.ImitationLoss, action, labels)
		if err != nil {
			return fmt.Errorf("step %d: %v", t, err)
		}

		if t < length-1 {
			if prevAction, err = p.embedding.ActionEmbed(action.Value); err != nil {
				return fmt.Errorf("step %d: %v", t, err)
			}
		}

		kl = accumulate(kl, klT)
		penalty = accumulate(penalty, penaltyT)
		recon = accumulate(recon, reconT)
	}

	reg := G.Must(G.Add(kl, penalty))
	reg = G.Must(G.HadamardProd(reg, G.NewConstant(c.Beta)))
	meanRecon := G.Must(G.HadamardDiv(recon, G.NewConstant(float64(length))))

	p.kl, p.penalty, p.recon = kl, penalty, meanRecon
	p.loss = G.Must(G.Add(reg, meanRecon))

	// The loss terms are consumed by the ops above, so they are read
	// through copies that nothing else consumes
	G.Read(p.loss, &p.lossVal)
	readCopy(p.kl, &p.klVal)
	readCopy(p.penalty, &p.penaltyVal)
	readCopy(p.recon, &p.reconVal)
	return nil
}

// imitationLoss returns the reconstruction loss of an action against
// its labels
func imitationLoss(l ImitationLoss, action *policy.Action,
	labels *G.Node) (*G.Node, error) {
	if l == NLL {
		logProb, err := action.LogProb(labels)
		if err != nil {
			return nil, err
		}
		return G.Neg(G.Must(G.Mean(logProb)))
	}
	return op.MSE(action.Value, labels)
}

// accumulate returns sum + term, treating a nil sum as zero
func accumulate(sum, term *G.Node) *G.Node {
	if sum == nil {
		return term
	}
	return G.Must(G.Add(sum, term))
}

// let feeds a batch of trajectories and latent noise into the graph
func (p *pretrainGraph) let(c Config, b Trajectories, eps []float64) error {
	batch, length := c.BatchSize, c.SequenceLength
	inputs := []struct {
		node *G.Node
		data []float64
	}{
		{p.video, stepMajor(b.Video, batch, length)},
		{p.proprio, stepMajor(b.Proprioception, batch, length)},
		{p.labels, stepMajor(b.Actions, batch, length)},
		{p.eps, eps},
	}
	for _, in := range inputs {
		if err := tensorutils.LetData(in.node, in.data); err != nil {
			return err
		}
	}
	return nil
}

// losses returns the total loss and its terms from the last run
func (p *pretrainGraph) losses() (map[string]float64, error) {
	losses := make(map[string]float64, 4)
	for name, v := range map[string]G.Value{
		"loss":    p.lossVal,
		"kl":      p.klVal,
		"penalty": p.penaltyVal,
		"recon":   p.reconVal,
	} {
		value, err := tensorutils.Scalar(v)
		if err != nil {
			return nil, err
		}
		losses[name] = value
	}
	return losses, nil
}

// run runs the graph once, and if update is true, clips and applies the
// gradients of each trained module. The gradients are only applied if
// the loss and every gradient norm are finite.
func (p *pretrainGraph) run(update bool, clip float64) (map[string]float64,
	error) {
	if update {
		for i, m := range p.modules {
			if err := solver.ZeroGrad(m.Model()); err != nil {
				return nil, fmt.Errorf("run: %v: %v", p.names[i], err)
			}
		}
	}

	defer p.vm.Reset()
	if err := p.vm.RunAll(); err != nil {
		return nil, fmt.Errorf("run: %v", err)
	}
	losses, err := p.losses()
	if err != nil {
		return nil, fmt.Errorf("run: %v", err)
	}
	if !update {
		return losses, nil
	}

	if !floatutils.IsFinite(losses["loss"]) {
		return losses, ErrNonFiniteLoss
	}
	for i, m := range p.modules {
		norm, err := solver.ClipGradNorm(m.Model(), clip)
		if err != nil && !floatutils.IsFinite(norm) {
			return losses, errors.Wrapf(ErrNonFiniteLoss, "%v gradient",
				p.names[i])
		} else if err != nil {
			return losses, fmt.Errorf("run: %v: %v", p.names[i], err)
		}
	}
	for i, m := range p.modules {
		if err := p.solvers[i].Step(m.Model()); err != nil {
			return losses, fmt.Errorf("run: %v: %v", p.names[i], err)
		}
	}
	return losses, nil
}

// PreTrain performs one imitation learning update of the embedding,
// plan encoders, and actor on a batch of trajectories of the Config's
// BatchSize and SequenceLength, returning the total loss.
//
// If the loss or a gradient is not finite, no parameters are changed
// and an error for which IsNonFiniteLoss returns true is returned.
func (t *Trainer) PreTrain(b Trajectories) (float64, error) {
	t.Train()
	return t.pretrainStep(b, true)
}

// PreTrainLoss returns the pretraining loss on a batch of trajectories
// without changing any parameters. Given the same parameters and
// random source state, the loss is deterministic.
func (t *Trainer) PreTrainLoss(b Trajectories) (float64, error) {
	return t.pretrainStep(b, false)
}

func (t *Trainer) pretrainStep(b Trajectories, update bool) (float64, error) {
	c := t.config
	if err := b.validate(c); err != nil {
		return 0, fmt.Errorf("pretrain: %v", err)
	}

	eps := t.sampleNormal(c.BatchSize * c.SequenceLength * c.LatentDim)
	if err := t.pretrain.let(c, b, eps); err != nil {
		return 0, fmt.Errorf("pretrain: %v", err)
	}

	losses, err := t.pretrain.run(update, c.GradNormClip)
	if IsNonFiniteLoss(err) {
		t.logger.WithFields(logrus.Fields{
			"step": t.pretrainSteps,
			"loss": losses["loss"],
		}).Warn("skipping pretraining step with non-finite loss")
		return losses["loss"], errors.Wrap(err, "pretrain")
	} else if err != nil {
		return 0, errors.Wrap(err, "pretrain")
	}

	if update {
		t.pretrainSteps++
		t.logger.WithFields(logrus.Fields{
			"step":    t.pretrainSteps,
			"loss":    losses["loss"],
			"kl":      losses["kl"],
			"penalty": losses["penalty"],
			"recon":   losses["recon"],
		}).Debug("pretraining step")
	}
	return losses["loss"], nil
}
