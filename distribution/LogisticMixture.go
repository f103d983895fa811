package distribution

import (
	"math"

	"github.com/pkg/errors"
	"github.com/samuelfneumann/golatent/utils/floatutils"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

// uniformEpsilon bounds the uniform base sample away from 0 and 1 so
// that logit(u) stays finite
const uniformEpsilon = 1e-5

// LogisticMixture is a distribution over bounded actions. Each action
// dimension is an independent mixture of k logistic distributions.
// Samples are clamped to [-1, 1] and, if the number of quantization
// bits is positive, snapped to 2^bits evenly spaced levels.
//
// Parameters are laid out dimension-major: the k components of action
// dimension d live at indices [d*k, (d+1)*k).
type LogisticMixture struct {
	weightings []float64
	mu         []float64
	scale      []float64
	dims, k    int
	qbits      int
}

// NewLogisticMixture returns a new LogisticMixture over dims action
// dimensions with k components each. The weightings are unnormalized
// mixture logits. The slices are copied.
func NewLogisticMixture(weightings, mu, scale []float64, dims, k,
	qbits int) (*LogisticMixture, error) {
	if dims <= 0 || k <= 0 {
		return nil, errors.Errorf("newlogisticmixture: invalid size (%d "+
			"dims, %d components)", dims, k)
	}
	n := dims * k
	if len(weightings) != n || len(mu) != n || len(scale) != n {
		return nil, errors.Errorf("newlogisticmixture: expected %d "+
			"parameters per head but got (%d, %d, %d)", n, len(weightings),
			len(mu), len(scale))
	}
	if !floatutils.AllFinite(weightings) || !floatutils.AllFinite(mu) {
		return nil, errors.New("newlogisticmixture: weightings and means " +
			"must be finite")
	}
	if err := checkScale("newlogisticmixture", scale); err != nil {
		return nil, err
	}
	if qbits < 0 {
		return nil, errors.Errorf("newlogisticmixture: quantization bits "+
			"must be >= 0 but got %d", qbits)
	}

	l := &LogisticMixture{
		weightings: make([]float64, n),
		mu:         make([]float64, n),
		scale:      make([]float64, n),
		dims:       dims,
		k:          k,
		qbits:      qbits,
	}
	copy(l.weightings, weightings)
	copy(l.mu, mu)
	copy(l.scale, scale)
	return l, nil
}

// Dims returns the number of action dimensions
func (l *LogisticMixture) Dims() int {
	return l.dims
}

// weights returns the normalized mixture weights of action dimension d
func (l *LogisticMixture) weights(d int) []float64 {
	logits := l.weightings[d*l.k : (d+1)*l.k]
	lse := floats.LogSumExp(logits)

	w := make([]float64, l.k)
	for j, logit := range logits {
		w[j] = math.Exp(logit - lse)
	}
	return w
}

// Sample draws an action. For each dimension a component is chosen
// according to the mixture weights, then a logistic sample is drawn as
// μ + s * logit(u) with u ~ U(0, 1). The result is clamped to [-1, 1].
func (l *LogisticMixture) Sample(src rand.Source) []float64 {
	u := distuv.Uniform{Min: uniformEpsilon, Max: 1 - uniformEpsilon,
		Src: src}

	sample := make([]float64, l.dims)
	for d := range sample {
		component := distuv.NewCategorical(l.weights(d), src)
		j := d*l.k + int(component.Rand())

		base := u.Rand()
		x := l.mu[j] + l.scale[j]*math.Log(base/(1-base))
		x = floatutils.Clip(x, -1, 1)
		sample[d] = floatutils.Quantize(x, l.qbits)
	}
	return sample
}

// LogProb returns the exact log density of the unclamped mixture at x,
// summed over action dimensions.
func (l *LogisticMixture) LogProb(x []float64) (float64, error) {
	if len(x) != l.dims {
		return 0, errors.Errorf("logprob: expected %d dimensions but got %d",
			l.dims, len(x))
	}

	var logProb float64
	joint := make([]float64, l.k)
	for d := range x {
		lse := floats.LogSumExp(l.weightings[d*l.k : (d+1)*l.k])
		for c := 0; c < l.k; c++ {
			j := d*l.k + c
			z := (x[d] - l.mu[j]) / l.scale[j]

			// log logistic pdf: -z - log(s) - 2 softplus(-z)
			logPdf := -z - math.Log(l.scale[j]) - 2*softplus(-z)
			joint[c] = l.weightings[j] - lse + logPdf
		}
		logProb += floats.LogSumExp(joint)
	}
	return logProb, nil
}

// softplus returns log(1 + exp(x)) without overflow
func softplus(x float64) float64 {
	return math.Max(x, 0) + math.Log1p(math.Exp(-math.Abs(x)))
}
