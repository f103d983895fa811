package latentplan

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"github.com/samuelfneumann/golatent/agent/nonlinear/continuous/critic"
	"github.com/samuelfneumann/golatent/agent/nonlinear/continuous/plan"
	"github.com/samuelfneumann/golatent/agent/nonlinear/continuous/policy"
	"github.com/samuelfneumann/golatent/expreplay"
	"github.com/samuelfneumann/golatent/history"
	"github.com/samuelfneumann/golatent/network"
	"github.com/samuelfneumann/golatent/solver"
	"github.com/samuelfneumann/golatent/utils/floatutils"
	"github.com/samuelfneumann/golatent/utils/tensorutils"
	"github.com/sirupsen/logrus"
	G "gorgonia.org/gorgonia"
)

// planActor adds the proposal and actor at a single step with a fresh,
// zero-filled context to the graph, returning the actor's action
func planActor(g *G.ExprGraph, c Config, proposal *plan.Proposal,
	actor policy.Actor, vision, proprio, goal,
	eps *G.Node) (*policy.Action, error) {
	batch := vision.Shape()[0]

	latent, err := proposal.Fwd(vision, proprio, goal)
	if err != nil {
		return nil, err
	}
	z, err := latent.Sample(eps)
	if err != nil {
		return nil, err
	}

	prevAction := zeros(g, "prev_action_embedding", batch,
		c.Embedding.ActionEmbeddingDim)
	features, err := policy.StepFeatures(vision, proprio, z, goal, prevAction)
	if err != nil {
		return nil, err
	}
	window, err := history.NewNodeWindow(
		zeros(g, "actor_context", batch, c.actorInputs()), c.HistoryLength)
	if err != nil {
		return nil, err
	}
	if window, err = window.Push(features); err != nil {
		return nil, err
	}
	return actor.Act(window.Nodes())
}

// targetGraph computes the action values of the target critic for the
// target actor's greedy actions in the next states
type targetGraph struct {
	g        *G.ExprGraph
	proposal *plan.Proposal // Replica
	actor    policy.Actor
	critic   *critic.Critic

	vision, proprio, goal, eps *G.Node
	qVal                       G.Value
	vm                         G.VM
}

func newTargetGraph(c Config, init G.InitWFn) (*targetGraph, error) {
	g := G.NewGraph()
	e := c.Embedding
	batch := c.BatchSize

	proposal, err := plan.NewProposal(g, e.VisionEmbeddingDim,
		e.ProprioceptionEmbeddingDim, e.VisionEmbeddingDim, c.LatentDim,
		c.ProposalHidden, init, "plan_proposal")
	if err != nil {
		return nil, fmt.Errorf("newtargetgraph: %v", err)
	}
	actor, err := policy.New(g, c.Actor, c.actorInputs(), e.ActionDim, init,
		"target_actor")
	if err != nil {
		return nil, fmt.Errorf("newtargetgraph: %v", err)
	}
	targetCritic, err := critic.New(g, e.VisionEmbeddingDim,
		e.ProprioceptionEmbeddingDim, e.ActionDim, c.CriticHidden,
		c.NonNegativeQ, init, "target_critic")
	if err != nil {
		return nil, fmt.Errorf("newtargetgraph: %v", err)
	}

	t := &targetGraph{
		g:        g,
		proposal: proposal,
		actor:    actor,
		critic:   targetCritic,
		vision:   input(g, "next_vision", batch, e.VisionEmbeddingDim),
		proprio:  input(g, "next_proprioception", batch, e.ProprioceptionEmbeddingDim),
		goal:     input(g, "goal", batch, e.VisionEmbeddingDim),
		eps:      input(g, "eps", batch, c.LatentDim),
	}

	action, err := planActor(g, c, proposal, actor, t.vision, t.proprio,
		t.goal, t.eps)
	if err != nil {
		return nil, fmt.Errorf("newtargetgraph: %v", err)
	}
	q, err := targetCritic.Fwd(t.vision, t.proprio, action.Value)
	if err != nil {
		return nil, fmt.Errorf("newtargetgraph: %v", err)
	}
	G.Read(q, &t.qVal)

	t.vm = G.NewTapeMachine(g)
	return t, nil
}

// criticGraph trains the critic towards TD targets with a weighted
// squared error. The TD errors are read from their own branch, which no
// other op consumes.
type criticGraph struct {
	g      *G.ExprGraph
	critic *critic.Critic

	vision, proprio, action, targets, weights *G.Node
	tdVal, lossVal                            G.Value

	solver G.Solver
	vm     G.VM
}

func newCriticGraph(c Config, init G.InitWFn,
	s *solver.Solver) (*criticGraph, error) {
	g := G.NewGraph()
	e := c.Embedding
	batch := c.BatchSize

	net, err := critic.New(g, e.VisionEmbeddingDim,
		e.ProprioceptionEmbeddingDim, e.ActionDim, c.CriticHidden,
		c.NonNegativeQ, init, "critic")
	if err != nil {
		return nil, fmt.Errorf("newcriticgraph: %v", err)
	}

	cg := &criticGraph{
		g:       g,
		critic:  net,
		vision:  input(g, "vision", batch, e.VisionEmbeddingDim),
		proprio: input(g, "proprioception", batch, e.ProprioceptionEmbeddingDim),
		action:  input(g, "action", batch, e.ActionDim),
		targets: input(g, "td_targets", batch, 1),
		weights: input(g, "importance_weights", batch, 1),
		solver:  s.Fresh(),
	}

	q, err := net.Fwd(cg.vision, cg.proprio, cg.action)
	if err != nil {
		return nil, fmt.Errorf("newcriticgraph: %v", err)
	}
	G.Read(G.Must(G.Sub(cg.targets, q)), &cg.tdVal)

	loss := G.Must(G.Sub(q, cg.targets))
	loss = G.Must(G.Square(loss))
	loss = G.Must(G.HadamardProd(loss, cg.weights))
	loss = G.Must(G.Mean(loss))
	G.Read(loss, &cg.lossVal)

	if _, err := G.Grad(loss, net.Learnables()...); err != nil {
		return nil, fmt.Errorf("newcriticgraph: could not compute "+
			"gradient: %v", err)
	}
	cg.vm = G.NewTapeMachine(g, G.BindDualValues(net.Learnables()...))
	return cg, nil
}

// actorGraph trains a replica of the actor to maximize the critic's
// action values of its own actions
type actorGraph struct {
	g        *G.ExprGraph
	proposal *plan.Proposal // Replica
	actor    policy.Actor   // Replica, trained
	critic   *critic.Critic // Replica

	vision, proprio, goal, eps *G.Node
	lossVal                    G.Value

	solver G.Solver
	vm     G.VM
}

func newActorGraph(c Config, init G.InitWFn,
	s *solver.Solver) (*actorGraph, error) {
	g := G.NewGraph()
	e := c.Embedding
	batch := c.BatchSize

	proposal, err := plan.NewProposal(g, e.VisionEmbeddingDim,
		e.ProprioceptionEmbeddingDim, e.VisionEmbeddingDim, c.LatentDim,
		c.ProposalHidden, init, "plan_proposal")
	if err != nil {
		return nil, fmt.Errorf("newactorgraph: %v", err)
	}
	actor, err := policy.New(g, c.Actor, c.actorInputs(), e.ActionDim, init,
		"actor")
	if err != nil {
		return nil, fmt.Errorf("newactorgraph: %v", err)
	}
	net, err := critic.New(g, e.VisionEmbeddingDim,
		e.ProprioceptionEmbeddingDim, e.ActionDim, c.CriticHidden,
		c.NonNegativeQ, init, "critic")
	if err != nil {
		return nil, fmt.Errorf("newactorgraph: %v", err)
	}

	a := &actorGraph{
		g:        g,
		proposal: proposal,
		actor:    actor,
		critic:   net,
		vision:   input(g, "vision", batch, e.VisionEmbeddingDim),
		proprio:  input(g, "proprioception", batch, e.ProprioceptionEmbeddingDim),
		goal:     input(g, "goal", batch, e.VisionEmbeddingDim),
		eps:      input(g, "eps", batch, c.LatentDim),
		solver:   s.Fresh(),
	}

	action, err := planActor(g, c, proposal, actor, a.vision, a.proprio,
		a.goal, a.eps)
	if err != nil {
		return nil, fmt.Errorf("newactorgraph: %v", err)
	}
	q, err := net.Fwd(a.vision, a.proprio, action.Value)
	if err != nil {
		return nil, fmt.Errorf("newactorgraph: %v", err)
	}

	// -mean(Q) + penalty * mean(a²)
	loss := G.Must(G.Neg(G.Must(G.Mean(q))))
	magnitude := G.Must(G.Mean(G.Must(G.Square(action.Value))))
	magnitude = G.Must(G.HadamardProd(magnitude,
		G.NewConstant(c.ActionPenalty)))
	loss = G.Must(G.Add(loss, magnitude))
	G.Read(loss, &a.lossVal)

	if _, err := G.Grad(loss, actor.Learnables()...); err != nil {
		return nil, fmt.Errorf("newactorgraph: could not compute "+
			"gradient: %v", err)
	}
	a.vm = G.NewTapeMachine(g, G.BindDualValues(actor.Learnables()...))
	return a, nil
}

// tile repeats a single row n times
func tile(row []float64, n int) []float64 {
	out := make([]float64, 0, n*len(row))
	for i := 0; i < n; i++ {
		out = append(out, row...)
	}
	return out
}

// letAll feeds data into input nodes
func letAll(nodes []*G.Node, data [][]float64) error {
	for i := range nodes {
		if err := tensorutils.LetData(nodes[i], data[i]); err != nil {
			return err
		}
	}
	return nil
}

// FineTune performs one off-policy actor-critic update from a batch
// sampled from the replay buffer, acting towards the goal of the
// Session. The critic is trained towards the TD targets
//
//	y = r + γ * (1 - done) * Q'(s', π'(s'))
//
// computed with the target actor and target critic, and the priorities
// of the sampled transitions are set from the absolute TD errors. The
// actor is then trained to maximize the critic's value of its own
// actions, and finally both target networks are soft updated.
//
// If the replay buffer cannot yet be sampled, the error satisfies
// expreplay.IsInsufficientSamples or expreplay.IsEmptyBuffer.
func (t *Trainer) FineTune(s Session) (criticLoss, actorLoss float64,
	err error) {
	if t.replay == nil {
		return 0, 0, fmt.Errorf("finetune: trainer has no replay buffer")
	}
	if err := t.checkSession(s); err != nil {
		return 0, 0, fmt.Errorf("finetune: %v", err)
	}
	t.Train()
	c := t.config
	batch, err := t.replay.SampleBatch()
	if err != nil {
		return 0, 0, fmt.Errorf("finetune: %w", err)
	}
	if batch.Size() != c.BatchSize {
		return 0, 0, fmt.Errorf("finetune: sampled %d transitions but "+
			"batch size is %d", batch.Size(), c.BatchSize)
	}

	// Embed current and next observations
	if err := t.batchEmbedder.Sync(t.pretrain.embedding); err != nil {
		return 0, 0, fmt.Errorf("finetune: %v", err)
	}
	vision, proprio, _, err := t.batchEmbedder.Embed(batch.Vision,
		batch.Proprioception, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("finetune: %v", err)
	}
	nextVision, nextProprio, _, err := t.batchEmbedder.Embed(
		batch.NextVision, batch.NextProprioception, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("finetune: %v", err)
	}
	goal := tile(s.Goal, c.BatchSize)

	targets, err := t.tdTargetsOf(batch, nextVision, nextProprio, goal)
	if err != nil {
		return 0, 0, errors.Wrap(err, "finetune")
	}

	criticLoss, err = t.trainCritic(batch, vision, proprio, targets)
	if err != nil {
		return criticLoss, 0, errors.Wrap(err, "finetune")
	}

	actorLoss, err = t.trainActor(vision, proprio, goal)
	if err != nil {
		return criticLoss, actorLoss, errors.Wrap(err, "finetune")
	}

	if err := t.SoftUpdate(c.Tau); err != nil {
		return criticLoss, actorLoss, fmt.Errorf("finetune: %v", err)
	}

	t.finetuneSteps++
	t.logger.WithFields(logrus.Fields{
		"step":        t.finetuneSteps,
		"critic_loss": criticLoss,
		"actor_loss":  actorLoss,
	}).Debug("fine-tuning step")
	return criticLoss, actorLoss, nil
}

// tdTargetsOf computes the TD targets of a batch
func (t *Trainer) tdTargetsOf(batch expreplay.Batch, nextVision,
	nextProprio, goal []float64) ([]float64, error) {
	c := t.config
	tg := t.target
	if err := network.Set(tg.proposal, t.pretrain.proposal); err != nil {
		return nil, fmt.Errorf("tdtargets: %v", err)
	}

	eps := t.sampleNormal(c.BatchSize * c.LatentDim)
	err := letAll(
		[]*G.Node{tg.vision, tg.proprio, tg.goal, tg.eps},
		[][]float64{nextVision, nextProprio, goal, eps},
	)
	if err != nil {
		return nil, fmt.Errorf("tdtargets: %v", err)
	}

	defer tg.vm.Reset()
	if err := tg.vm.RunAll(); err != nil {
		return nil, fmt.Errorf("tdtargets: %v", err)
	}
	nextQ, err := tensorutils.Float64s(tg.qVal)
	if err != nil {
		return nil, fmt.Errorf("tdtargets: %v", err)
	}

	targets := make([]float64, c.BatchSize)
	for i := range targets {
		targets[i] = batch.Reward[i] + c.Gamma*nextQ[i]*(1-batch.Done[i])
	}
	return targets, nil
}

// criticWeights returns the weights of each squared TD error in the
// critic's loss
func (t *Trainer) criticWeights(batch expreplay.Batch) []float64 {
	if t.config.ImportanceWeightedCritic {
		return batch.Weights
	}
	weights := make([]float64, t.config.BatchSize)
	for i := range weights {
		weights[i] = 1
	}
	return weights
}

// trainCritic updates the critic towards the TD targets and updates the
// priorities of the batch from the TD errors
func (t *Trainer) trainCritic(batch expreplay.Batch, vision,
	proprio, targets []float64) (float64, error) {
	cg := t.critic
	err := letAll(
		[]*G.Node{cg.vision, cg.proprio, cg.action, cg.targets, cg.weights},
		[][]float64{vision, proprio, batch.Action, targets,
			t.criticWeights(batch)},
	)
	if err != nil {
		return 0, fmt.Errorf("traincritic: %v", err)
	}

	model := cg.critic.Model()
	if err := solver.ZeroGrad(model); err != nil {
		return 0, fmt.Errorf("traincritic: %v", err)
	}
	defer cg.vm.Reset()
	if err := cg.vm.RunAll(); err != nil {
		return 0, fmt.Errorf("traincritic: %v", err)
	}

	loss, err := tensorutils.Scalar(cg.lossVal)
	if err != nil {
		return 0, fmt.Errorf("traincritic: %v", err)
	}
	td, err := tensorutils.Float64s(cg.tdVal)
	if err != nil {
		return 0, fmt.Errorf("traincritic: %v", err)
	}

	tdErrors := make([]float64, len(td))
	for i := range td {
		tdErrors[i] = math.Abs(td[i])
	}
	if !floatutils.IsFinite(loss) || !floatutils.AllFinite(tdErrors) {
		t.logger.WithField("critic_loss", loss).Warn("skipping critic " +
			"update with non-finite loss")
		return loss, errors.Wrap(ErrNonFiniteLoss, "critic")
	}
	t.tdErrors, t.tdTargets = tdErrors, targets

	if err := t.replay.UpdatePriorities(batch.Indices, tdErrors); err != nil {
		return loss, fmt.Errorf("traincritic: %v", err)
	}

	norm, err := solver.ClipGradNorm(model, t.config.GradNormClip)
	if err != nil && !floatutils.IsFinite(norm) {
		return loss, errors.Wrap(ErrNonFiniteLoss, "critic gradient")
	} else if err != nil {
		return loss, fmt.Errorf("traincritic: %v", err)
	}
	if err := cg.solver.Step(model); err != nil {
		return loss, fmt.Errorf("traincritic: %v", err)
	}
	return loss, nil
}

// trainActor updates the actor to maximize the critic's action values
func (t *Trainer) trainActor(vision, proprio, goal []float64) (float64,
	error) {
	c := t.config
	ag := t.actor

	// Replicas follow the canonical networks, and the trained actor
	// replica is copied back after the update
	if err := network.Set(ag.proposal, t.pretrain.proposal); err != nil {
		return 0, fmt.Errorf("trainactor: %v", err)
	}
	if err := network.Set(ag.critic, t.critic.critic); err != nil {
		return 0, fmt.Errorf("trainactor: %v", err)
	}
	if err := network.Set(ag.actor, t.pretrain.actor); err != nil {
		return 0, fmt.Errorf("trainactor: %v", err)
	}

	eps := t.sampleNormal(c.BatchSize * c.LatentDim)
	err := letAll(
		[]*G.Node{ag.vision, ag.proprio, ag.goal, ag.eps},
		[][]float64{vision, proprio, goal, eps},
	)
	if err != nil {
		return 0, fmt.Errorf("trainactor: %v", err)
	}

	model := ag.actor.Model()
	if err := solver.ZeroGrad(model); err != nil {
		return 0, fmt.Errorf("trainactor: %v", err)
	}
	if !c.FixClipOrder {
		// Gradients are zero here, so this clip never changes them
		if _, err := solver.ClipGradNorm(model, c.GradNormClip); err != nil {
			return 0, fmt.Errorf("trainactor: %v", err)
		}
	}

	defer ag.vm.Reset()
	if err := ag.vm.RunAll(); err != nil {
		return 0, fmt.Errorf("trainactor: %v", err)
	}
	loss, err := tensorutils.Scalar(ag.lossVal)
	if err != nil {
		return 0, fmt.Errorf("trainactor: %v", err)
	}
	if !floatutils.IsFinite(loss) {
		t.logger.WithField("actor_loss", loss).Warn("skipping actor " +
			"update with non-finite loss")
		return loss, errors.Wrap(ErrNonFiniteLoss, "actor")
	}

	if c.FixClipOrder {
		norm, err := solver.ClipGradNorm(model, c.GradNormClip)
		if err != nil && !floatutils.IsFinite(norm) {
			return loss, errors.Wrap(ErrNonFiniteLoss, "actor gradient")
		} else if err != nil {
			return loss, fmt.Errorf("trainactor: %v", err)
		}
	} else if norm, err := solver.GradNorm(model); err != nil ||
		!floatutils.IsFinite(norm) {
		return loss, errors.Wrap(ErrNonFiniteLoss, "actor gradient")
	}

	if err := ag.solver.Step(model); err != nil {
		return loss, fmt.Errorf("trainactor: %v", err)
	}
	if err := network.Set(t.pretrain.actor, ag.actor); err != nil {
		return loss, fmt.Errorf("trainactor: %v", err)
	}
	return loss, nil
}
