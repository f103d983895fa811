package latentplan

import (
	"fmt"

	"github.com/samuelfneumann/golatent/agent/nonlinear/continuous/plan"
	"github.com/samuelfneumann/golatent/agent/nonlinear/continuous/policy"
	"github.com/samuelfneumann/golatent/distribution"
	"github.com/samuelfneumann/golatent/history"
	"github.com/samuelfneumann/golatent/network"
	"github.com/samuelfneumann/golatent/utils/floatutils"
	"github.com/samuelfneumann/golatent/utils/tensorutils"
	"github.com/sirupsen/logrus"
	G "gorgonia.org/gorgonia"
)

// Session is the state of a single episode of acting towards a goal:
// the goal embedding and the actor's rolling context. Sessions are
// values; GetAction returns the updated Session rather than modifying
// its argument, so callers decide when an episode starts and ends.
type Session struct {
	Goal    []float64
	Context history.Context
}

// Reset returns the Session with the same goal and a fresh context
func (s Session) Reset() Session {
	return Session{Goal: s.Goal, Context: s.Context.Reset()}
}

// inferenceGraph computes a single action from the current
// observation embeddings, the goal, and the actor's context.
//
// Acting runs two graphs. The proposal graph computes the latent
// distribution, and the action graph computes the actor's heads over a
// full window of step features. The latent sample and the current
// step's features are computed numerically in between. Each graph only
// reads nodes that no other op consumes, so ops running in place cannot
// overwrite the values read.
type inferenceGraph struct {
	proposalG *G.ExprGraph
	proposal  *plan.Proposal // Replica

	vision, proprio, goal         *G.Node
	latentMeanVal, latentScaleVal G.Value
	proposalVM                    G.VM

	actionG *G.ExprGraph
	actor   policy.Actor // Replica

	window                       []*G.Node
	valueVal                     G.Value
	logitsVal, meanVal, scaleVal G.Value
	actionVM                     G.VM
}

func newInferenceGraph(c Config, init G.InitWFn) (*inferenceGraph, error) {
	e := c.Embedding
	ig := &inferenceGraph{
		proposalG: G.NewGraph(),
		actionG:   G.NewGraph(),
		window:    make([]*G.Node, c.HistoryLength),
	}

	g := ig.proposalG
	proposal, err := plan.NewProposal(g, e.VisionEmbeddingDim,
		e.ProprioceptionEmbeddingDim, e.VisionEmbeddingDim, c.LatentDim,
		c.ProposalHidden, init, "plan_proposal")
	if err != nil {
		return nil, fmt.Errorf("newinferencegraph: %v", err)
	}
	ig.proposal = proposal
	ig.vision = input(g, "vision", 1, e.VisionEmbeddingDim)
	ig.proprio = input(g, "proprioception", 1, e.ProprioceptionEmbeddingDim)
	ig.goal = input(g, "goal", 1, e.VisionEmbeddingDim)

	latent, err := proposal.Fwd(ig.vision, ig.proprio, ig.goal)
	if err != nil {
		return nil, fmt.Errorf("newinferencegraph: %v", err)
	}
	G.Read(latent.Mean, &ig.latentMeanVal)
	G.Read(latent.Scale, &ig.latentScaleVal)
	ig.proposalVM = G.NewTapeMachine(g)

	g = ig.actionG
	actor, err := policy.New(g, c.Actor, c.actorInputs(), e.ActionDim, init,
		"actor")
	if err != nil {
		return nil, fmt.Errorf("newinferencegraph: %v", err)
	}
	ig.actor = actor
	for i := range ig.window {
		ig.window[i] = input(g, fmt.Sprintf("context%d", i), 1,
			c.actorInputs())
	}

	if mixture, ok := actor.(policy.Mixture); ok {
		heads, err := mixture.Heads(ig.window)
		if err != nil {
			return nil, fmt.Errorf("newinferencegraph: %v", err)
		}
		G.Read(heads.Logits, &ig.logitsVal)
		G.Read(heads.Mean, &ig.meanVal)
		G.Read(heads.Scale, &ig.scaleVal)
	} else {
		action, err := actor.Act(ig.window)
		if err != nil {
			return nil, fmt.Errorf("newinferencegraph: %v", err)
		}
		G.Read(action.Value, &ig.valueVal)
	}
	ig.actionVM = G.NewTapeMachine(g)

	return ig, nil
}

// SetGoal embeds a goal frame, flattened in (channels, height, width)
// order, and returns a new Session acting towards it
func (t *Trainer) SetGoal(frame []float64) (Session, error) {
	c := t.config
	if len(frame) != c.Embedding.VisionSize() {
		return Session{}, fmt.Errorf("setgoal: invalid frame size"+
			"\n\twant(%v)\n\thave(%v)", c.Embedding.VisionSize(), len(frame))
	}
	if err := t.embedder.Sync(t.pretrain.embedding); err != nil {
		return Session{}, fmt.Errorf("setgoal: %v", err)
	}
	goal, err := t.embedder.VisionEmbed(frame)
	if err != nil {
		return Session{}, fmt.Errorf("setgoal: %v", err)
	}

	ctx, err := history.NewContext(c.HistoryLength, c.actorInputs(),
		c.Embedding.ActionEmbeddingDim)
	if err != nil {
		return Session{}, fmt.Errorf("setgoal: %v", err)
	}
	if t.noise != nil {
		t.noise.Reset()
	}
	return Session{Goal: goal, Context: ctx}, nil
}

// checkSession ensures a Session was created for this Trainer's
// configuration
func (t *Trainer) checkSession(s Session) error {
	c := t.config
	if len(s.Goal) != c.Embedding.VisionEmbeddingDim {
		return fmt.Errorf("session has no goal of size %d, use SetGoal",
			c.Embedding.VisionEmbeddingDim)
	}
	if s.Context.Features.Len() != c.HistoryLength ||
		s.Context.Features.Width() != c.actorInputs() {
		return fmt.Errorf("session context does not match configuration")
	}
	return nil
}

// GetAction returns the action for the current vision frame and
// proprioception, along with the Session advanced by one step.
//
// The latent plan is sampled from the proposal given the Session's
// goal. The logistic actor samples its action from its mixture, while
// the direct actor returns its point action. Exploration noise is added
// only if greedy is false. Actions are always in [-1, 1].
func (t *Trainer) GetAction(s Session, vision, proprio []float64,
	greedy bool) ([]float64, Session, error) {
	c := t.config
	e := c.Embedding
	if err := t.checkSession(s); err != nil {
		return nil, s, fmt.Errorf("getaction: %v", err)
	}
	if len(vision) != e.VisionSize() || len(proprio) != e.ProprioceptionDim {
		return nil, s, fmt.Errorf("getaction: invalid observation sizes "+
			"(%d, %d), want (%d, %d)", len(vision), len(proprio),
			e.VisionSize(), e.ProprioceptionDim)
	}
	t.Eval()

	if err := t.embedder.Sync(t.pretrain.embedding); err != nil {
		return nil, s, fmt.Errorf("getaction: %v", err)
	}
	visionEmb, proprioEmb, _, err := t.embedder.Embed(vision, proprio, nil)
	if err != nil {
		return nil, s, fmt.Errorf("getaction: %v", err)
	}

	out, err := t.act(s, visionEmb, proprioEmb)
	if err != nil {
		return nil, s, fmt.Errorf("getaction: %v", err)
	}

	action := out.value
	if out.mixture != nil {
		action = out.mixture.Sample(t.src)
	}
	if !greedy && t.noise != nil {
		n := t.noise.Sample()
		for i := range action {
			action[i] += n[i]
		}
	}
	floatutils.ClipSlice(action, -1, 1)

	if err := t.traceAction(out, action); err != nil {
		return nil, s, fmt.Errorf("getaction: %v", err)
	}

	// Advance the context with this step's features and the embedding
	// of the action taken
	ctx, err := s.Context.Push(out.features)
	if err != nil {
		return nil, s, fmt.Errorf("getaction: %v", err)
	}
	actionEmb, err := t.embedder.ActionEmbed(action)
	if err != nil {
		return nil, s, fmt.Errorf("getaction: %v", err)
	}
	if ctx, err = ctx.Advance(actionEmb); err != nil {
		return nil, s, fmt.Errorf("getaction: %v", err)
	}

	return action, Session{Goal: s.Goal, Context: ctx}, nil
}

// inferenceOutput holds the outputs of a single inference run
type inferenceOutput struct {
	z        []float64
	features []float64
	value    []float64
	mixture  *distribution.LogisticMixture
	latent   *distribution.DiagNormal
}

// propose runs the proposal graph and returns the distribution over
// latent plans
func (t *Trainer) propose(s Session, vision,
	proprio []float64) (*distribution.DiagNormal, error) {
	ig := t.inference
	if err := network.Set(ig.proposal, t.pretrain.proposal); err != nil {
		return nil, err
	}
	if err := letAll([]*G.Node{ig.vision, ig.proprio, ig.goal},
		[][]float64{vision, proprio, s.Goal}); err != nil {
		return nil, err
	}

	defer ig.proposalVM.Reset()
	if err := ig.proposalVM.RunAll(); err != nil {
		return nil, err
	}

	// Scales are positive by construction, but a failure here means
	// the networks have diverged
	mean, err := tensorutils.Float64s(ig.latentMeanVal)
	if err != nil {
		return nil, err
	}
	scale, err := tensorutils.Float64s(ig.latentScaleVal)
	if err != nil {
		return nil, err
	}
	return distribution.NewDiagNormal(mean, scale)
}

// act samples a latent plan from the proposal and runs the actor over
// the Session's context followed by the current step's features
func (t *Trainer) act(s Session, vision, proprio []float64) (inferenceOutput,
	error) {
	c := t.config
	ig := t.inference

	var out inferenceOutput
	var err error
	if out.latent, err = t.propose(s, vision, proprio); err != nil {
		return out, err
	}
	out.z = out.latent.Sample(t.src)

	// Same layout as policy.StepFeatures
	out.features = make([]float64, 0, c.actorInputs())
	for _, part := range [][]float64{vision, proprio, out.z, s.Goal,
		s.Context.PrevActionEmbd} {
		out.features = append(out.features, part...)
	}

	if err := network.Set(ig.actor, t.pretrain.actor); err != nil {
		return out, err
	}

	// The oldest context entry is dropped when this step is pushed
	last := len(ig.window) - 1
	data := make([][]float64, len(ig.window))
	for i := 0; i < last; i++ {
		data[i] = s.Context.Features.At(i + 1)
	}
	data[last] = out.features
	if err := letAll(ig.window, data); err != nil {
		return out, err
	}

	defer ig.actionVM.Reset()
	if err := ig.actionVM.RunAll(); err != nil {
		return out, err
	}

	mixture, ok := ig.actor.(policy.Mixture)
	if !ok {
		out.value, err = tensorutils.Float64s(ig.valueVal)
		return out, err
	}
	logits, err := tensorutils.Float64s(ig.logitsVal)
	if err != nil {
		return out, err
	}
	mu, err := tensorutils.Float64s(ig.meanVal)
	if err != nil {
		return out, err
	}
	mixScale, err := tensorutils.Float64s(ig.scaleVal)
	if err != nil {
		return out, err
	}
	out.mixture, err = distribution.NewLogisticMixture(logits, mu, mixScale,
		c.Embedding.ActionDim, mixture.NumDistribs(), c.QBits)
	return out, err
}

// traceAction logs the log density of the sampled latent plan under
// the proposal and, for the logistic actor, of the action taken under
// the actor's mixture
func (t *Trainer) traceAction(out inferenceOutput, action []float64) error {
	latentLogProb, err := out.latent.LogProb(out.z)
	if err != nil {
		return err
	}
	fields := logrus.Fields{"latent_log_prob": latentLogProb}
	if out.mixture != nil {
		actionLogProb, err := out.mixture.LogProb(action)
		if err != nil {
			return err
		}
		fields["action_log_prob"] = actionLogProb
	}
	t.logger.WithFields(fields).Trace("selected action")
	return nil
}

// ProposalDistribution returns the proposal's distribution over latent
// plans for the current observation and the Session's goal
func (t *Trainer) ProposalDistribution(s Session, vision,
	proprio []float64) (*distribution.DiagNormal, error) {
	if err := t.checkSession(s); err != nil {
		return nil, fmt.Errorf("proposaldistribution: %v", err)
	}
	t.Eval()
	if err := t.embedder.Sync(t.pretrain.embedding); err != nil {
		return nil, fmt.Errorf("proposaldistribution: %v", err)
	}
	visionEmb, proprioEmb, _, err := t.embedder.Embed(vision, proprio, nil)
	if err != nil {
		return nil, fmt.Errorf("proposaldistribution: %v", err)
	}
	latent, err := t.propose(s, visionEmb, proprioEmb)
	if err != nil {
		return nil, fmt.Errorf("proposaldistribution: %v", err)
	}
	return latent, nil
}
