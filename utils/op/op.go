// Package op provides extended Gorgonia graph operations used to build
// the losses and output heads of the latent plan agents.
//
// All operations assume float64 nodes whose first axis is the batch
// axis.
package op

import (
	"fmt"

	"github.com/samuelfneumann/golatent/utils/tensorutils"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// ScaleEpsilon is added to the input of every scale projection so that
// the softplus never sits in its flat region at exactly zero input.
const ScaleEpsilon = 1e-4

// Clamp clamps each element of value to the interval [min, max]. The
// clamp is built from rectifiers so that gradients flow through the
// unclamped elements and are zero for saturated elements.
//
// Clamp computes: x - relu(x - max) + relu(min - x)
func Clamp(value *G.Node, min, max float64) (*G.Node, error) {
	if min > max {
		return nil, fmt.Errorf("clamp: min (%v) > max (%v)", min, max)
	}
	minNode := G.NewConstant(min)
	maxNode := G.NewConstant(max)

	above, err := G.Sub(value, maxNode)
	if err != nil {
		return nil, fmt.Errorf("clamp: %v", err)
	}
	above = G.Must(G.Rectify(above))

	below, err := G.Sub(minNode, value)
	if err != nil {
		return nil, fmt.Errorf("clamp: %v", err)
	}
	below = G.Must(G.Rectify(below))

	out := G.Must(G.Sub(value, above))
	return G.Add(out, below)
}

// Softplus computes log(1 + exp(x)) in a numerically stable manner as
// relu(x) + log(1 + exp(-|x|)).
func Softplus(x *G.Node) (*G.Node, error) {
	pos, err := G.Rectify(x)
	if err != nil {
		return nil, fmt.Errorf("softplus: %v", err)
	}
	neg := G.Must(G.Neg(G.Must(G.Abs(x))))
	tail := G.Must(G.Exp(neg))
	tail = G.Must(G.Add(tail, G.NewConstant(1.0)))
	tail = G.Must(G.Log(tail))
	return G.Add(pos, tail)
}

// LogSumExp calculates the log of the summation of exponentials of
// all logits along the given axis.
//
// Use this in place of Gorgonia's LogSumExp, which has the final sum
// and log interchanged, which is incorrect. The logits must be a matrix
// and along must be 1.
func LogSumExp(logits *G.Node, along int) *G.Node {
	max := G.Must(G.Max(logits, along))

	exponent := G.Must(G.BroadcastSub(logits, max, nil, []byte{1}))
	exponent = G.Must(G.Exp(exponent))

	sum := G.Must(G.Sum(exponent, along))
	log := G.Must(G.Log(sum))

	return G.Must(G.Add(max, log))
}

// LogSoftmax returns the log of the softmax of a matrix of logits
// along its columns.
func LogSoftmax(logits *G.Node) (*G.Node, error) {
	if !logits.IsMatrix() {
		return nil, fmt.Errorf("logsoftmax: logits must be a matrix")
	}
	lse := LogSumExp(logits, 1)
	return G.BroadcastSub(logits, lse, nil, []byte{1})
}

// Softmax returns the softmax of a matrix of logits along its columns.
func Softmax(logits *G.Node) (*G.Node, error) {
	logProbs, err := LogSoftmax(logits)
	if err != nil {
		return nil, fmt.Errorf("softmax: %v", err)
	}
	return G.Exp(logProbs)
}

// Columns returns columns [start, end) of a matrix as a matrix of shape
// (rows, end - start).
func Columns(x *G.Node, start, end int) (*G.Node, error) {
	if !x.IsMatrix() {
		return nil, fmt.Errorf("columns: input must be a matrix")
	}
	if start < 0 || end > x.Shape()[1] || start >= end {
		return nil, fmt.Errorf("columns: invalid column range [%d, %d) for "+
			"%d columns", start, end, x.Shape()[1])
	}
	rows := x.Shape()[0]
	s, err := G.Slice(x, nil, tensorutils.NewSlice(start, end, 1))
	if err != nil {
		return nil, fmt.Errorf("columns: %v", err)
	}
	return G.Reshape(s, tensor.Shape{rows, end - start})
}

// Rows returns rows [start, end) of a matrix as a matrix of shape
// (end - start, cols).
func Rows(x *G.Node, start, end int) (*G.Node, error) {
	if !x.IsMatrix() {
		return nil, fmt.Errorf("rows: input must be a matrix")
	}
	if start < 0 || end > x.Shape()[0] || start >= end {
		return nil, fmt.Errorf("rows: invalid row range [%d, %d) for %d "+
			"rows", start, end, x.Shape()[0])
	}
	cols := x.Shape()[1]
	s, err := G.Slice(x, tensorutils.NewSlice(start, end, 1))
	if err != nil {
		return nil, fmt.Errorf("rows: %v", err)
	}
	return G.Reshape(s, tensor.Shape{end - start, cols})
}

// ConcatFeatures concatenates matrices along the feature axis. All
// inputs must be matrices with the same batch size; no broadcasting is
// performed.
func ConcatFeatures(inputs ...*G.Node) (*G.Node, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("concatfeatures: no inputs")
	}
	batch := -1
	for i, in := range inputs {
		if in == nil {
			return nil, fmt.Errorf("concatfeatures: input %d is nil", i)
		}
		if !in.IsMatrix() {
			return nil, fmt.Errorf("concatfeatures: input %d must be a "+
				"matrix but has shape %v", i, in.Shape())
		}
		if batch < 0 {
			batch = in.Shape()[0]
		} else if in.Shape()[0] != batch {
			return nil, fmt.Errorf("concatfeatures: mismatched batch size "+
				"for input %d \n\twant(%d)\n\thave(%d)", i, batch,
				in.Shape()[0])
		}
	}
	if len(inputs) == 1 {
		return inputs[0], nil
	}
	return G.Concat(1, inputs...)
}

// MSE returns the mean squared error between two nodes of equal shape
func MSE(pred, target *G.Node) (*G.Node, error) {
	if !pred.Shape().Eq(target.Shape()) {
		return nil, fmt.Errorf("mse: shape mismatch %v != %v", pred.Shape(),
			target.Shape())
	}
	diff, err := G.Sub(pred, target)
	if err != nil {
		return nil, fmt.Errorf("mse: %v", err)
	}
	return G.Mean(G.Must(G.Square(diff)))
}

// GaussianKL computes the closed form KL divergence KL(q || p) between
// two diagonal Gaussians with means muQ, muP and standard deviations
// sigmaQ, sigmaP, all of shape (batch, dims). The divergence is summed
// over dims and averaged over the batch, giving a scalar node.
//
// For identical arguments the result is exactly zero.
func GaussianKL(muQ, sigmaQ, muP, sigmaP *G.Node) (*G.Node, error) {
	shape := muQ.Shape()
	for _, n := range []*G.Node{sigmaQ, muP, sigmaP} {
		if !n.Shape().Eq(shape) {
			return nil, fmt.Errorf("gaussiankl: shape mismatch %v != %v",
				n.Shape(), shape)
		}
	}

	logRatio := G.Must(G.Sub(G.Must(G.Log(sigmaP)), G.Must(G.Log(sigmaQ))))

	diff := G.Must(G.Sub(muQ, muP))
	num := G.Must(G.Add(G.Must(G.Square(sigmaQ)), G.Must(G.Square(diff))))
	den := G.Must(G.HadamardProd(G.Must(G.Square(sigmaP)),
		G.NewConstant(2.0)))
	ratio := G.Must(G.HadamardDiv(num, den))

	kl := G.Must(G.Add(logRatio, ratio))
	kl = G.Must(G.Sub(kl, G.NewConstant(0.5)))
	kl = G.Must(G.Sum(kl, 1))

	return G.Mean(kl)
}

// StandardNormalPenalty computes the auxiliary latent penalty
//
//	mean_b( -0.5 * sum_d(1 + σ² - μ² - exp(σ²)) )
//
// which discourages the latent distribution from collapsing.
func StandardNormalPenalty(mu, sigma *G.Node) (*G.Node, error) {
	if !mu.Shape().Eq(sigma.Shape()) {
		return nil, fmt.Errorf("standardnormalpenalty: shape mismatch %v "+
			"!= %v", mu.Shape(), sigma.Shape())
	}
	variance := G.Must(G.Square(sigma))

	inner := G.Must(G.Add(variance, G.NewConstant(1.0)))
	inner = G.Must(G.Sub(inner, G.Must(G.Square(mu))))
	inner = G.Must(G.Sub(inner, G.Must(G.Exp(variance))))

	sum := G.Must(G.Sum(inner, 1))
	sum = G.Must(G.HadamardProd(sum, G.NewConstant(-0.5)))
	return G.Mean(sum)
}

// mixtureComponents reshapes a (batch, dims*k) head into (batch*dims, k)
// so that each row holds the k components of one action dimension.
func mixtureComponents(x *G.Node, k int) (*G.Node, error) {
	if !x.IsMatrix() || x.Shape()[1]%k != 0 {
		return nil, fmt.Errorf("mixturecomponents: invalid mixture head "+
			"shape %v for %d components", x.Shape(), k)
	}
	rows := x.Shape()[0] * x.Shape()[1] / k
	return G.Reshape(x, tensor.Shape{rows, k})
}

// ClampedLogisticMixtureMean returns the expected value of a sample
// from a mixture of k logistic distributions per action dimension
// after the sample is clamped to [-1, 1]. The logits, mu, and scale
// heads have shape (batch, dims*k) and the result has shape (batch,
// dims). For a single logistic with mean μ and scale s:
//
//	E[clamp(X, -1, 1)] = clamp(μ, -1, 1) +
//		s * (softplus(-|μ+1| / s) - softplus(-|μ-1| / s))
//
// Unlike the mixture mean, this depends on every head, is bounded, and
// remains differentiable where the clamp saturates.
func ClampedLogisticMixtureMean(logits, mu, scale *G.Node, k int) (*G.Node,
	error) {
	if !logits.Shape().Eq(mu.Shape()) || !logits.Shape().Eq(scale.Shape()) {
		return nil, fmt.Errorf("clampedlogisticmixturemean: shape mismatch "+
			"%v, %v, %v", logits.Shape(), mu.Shape(), scale.Shape())
	}
	l, err := mixtureComponents(logits, k)
	if err != nil {
		return nil, fmt.Errorf("clampedlogisticmixturemean: %v", err)
	}
	batch, dims := logits.Shape()[0], logits.Shape()[1]/k
	m := G.Must(mixtureComponents(mu, k))
	s := G.Must(mixtureComponents(scale, k))

	clamped, err := Clamp(m, -1, 1)
	if err != nil {
		return nil, fmt.Errorf("clampedlogisticmixturemean: %v", err)
	}

	upper := G.Must(G.Abs(G.Must(G.Add(m, G.NewConstant(1.0)))))
	upper = G.Must(G.Neg(G.Must(G.HadamardDiv(upper, s))))
	lower := G.Must(G.Abs(G.Must(G.Sub(m, G.NewConstant(1.0)))))
	lower = G.Must(G.Neg(G.Must(G.HadamardDiv(lower, s))))

	correction := G.Must(G.Sub(G.Must(Softplus(upper)),
		G.Must(Softplus(lower))))
	correction = G.Must(G.HadamardProd(s, correction))
	expected := G.Must(G.Add(clamped, correction))

	weights, err := Softmax(l)
	if err != nil {
		return nil, fmt.Errorf("clampedlogisticmixturemean: %v", err)
	}
	mean := G.Must(G.Sum(G.Must(G.HadamardProd(weights, expected)), 1))
	return G.Reshape(mean, tensor.Shape{batch, dims})
}

// LogisticMixtureLogProb returns the exact log density of actions x of
// shape (batch, dims) under a mixture of k logistic distributions per
// action dimension. The logits, mu, and scale heads have shape (batch,
// dims*k). Dimensions are independent, so their log densities are
// summed, giving a vector of shape (batch).
func LogisticMixtureLogProb(x, logits, mu, scale *G.Node, k int) (*G.Node,
	error) {
	if !logits.Shape().Eq(mu.Shape()) || !logits.Shape().Eq(scale.Shape()) {
		return nil, fmt.Errorf("logisticmixturelogprob: mismatched head " +
			"shapes")
	}
	batch, dims := x.Shape()[0], x.Shape()[1]
	if logits.Shape()[0] != batch || logits.Shape()[1] != dims*k {
		return nil, fmt.Errorf("logisticmixturelogprob: heads of shape %v "+
			"incompatible with actions of shape %v and %d components",
			logits.Shape(), x.Shape(), k)
	}

	l := G.Must(mixtureComponents(logits, k))
	m := G.Must(mixtureComponents(mu, k))
	s := G.Must(mixtureComponents(scale, k))
	flat := G.Must(G.Reshape(x, tensor.Shape{batch * dims}))

	// Standardized value z = (x - μ) / s for every component
	z := G.Must(G.BroadcastSub(flat, m, []byte{1}, nil))
	z = G.Must(G.HadamardDiv(z, s))

	// log p(x) = -z - log(s) - 2 softplus(-z)
	sp, err := Softplus(G.Must(G.Neg(z)))
	if err != nil {
		return nil, fmt.Errorf("logisticmixturelogprob: %v", err)
	}
	logPdf := G.Must(G.Neg(z))
	logPdf = G.Must(G.Sub(logPdf, G.Must(G.Log(s))))
	logPdf = G.Must(G.Sub(logPdf, G.Must(G.HadamardProd(sp,
		G.NewConstant(2.0)))))

	logWeights := G.Must(LogSoftmax(l))
	joint := G.Must(G.Add(logWeights, logPdf))
	perDim := LogSumExp(joint, 1)
	perDim = G.Must(G.Reshape(perDim, tensor.Shape{batch, dims}))

	return G.Sum(perDim, 1)
}
