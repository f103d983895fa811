// Package distribution implements the numeric (off-graph) probability
// distributions used when acting: diagonal Gaussians over latent plans
// and mixtures of logistics over bounded actions.
package distribution

import (
	"github.com/pkg/errors"
	"github.com/samuelfneumann/golatent/utils/floatutils"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// ErrNonPositiveScale is returned when a distribution is constructed
// with a scale parameter that is not a finite, strictly positive value.
var ErrNonPositiveScale = errors.New("scale must be finite and positive")

// IsNonPositiveScale returns whether err reports an invalid scale
func IsNonPositiveScale(err error) bool {
	return errors.Cause(err) == ErrNonPositiveScale
}

// checkScale returns an error if any scale is not finite and positive
func checkScale(op string, scale []float64) error {
	for i, s := range scale {
		if !floatutils.IsFinite(s) || s <= 0 {
			return errors.Wrapf(ErrNonPositiveScale, "%v: scale[%d] = %v",
				op, i, s)
		}
	}
	return nil
}

// DiagNormal is a multivariate Gaussian with diagonal covariance
type DiagNormal struct {
	mean  []float64
	scale []float64
}

// NewDiagNormal returns a new DiagNormal with the given means and
// standard deviations. The slices are copied.
func NewDiagNormal(mean, scale []float64) (*DiagNormal, error) {
	if len(mean) != len(scale) {
		return nil, errors.Errorf("newdiagnormal: %d means but %d scales",
			len(mean), len(scale))
	}
	if len(mean) == 0 {
		return nil, errors.New("newdiagnormal: distribution must have at " +
			"least one dimension")
	}
	if !floatutils.AllFinite(mean) {
		return nil, errors.New("newdiagnormal: means must be finite")
	}
	if err := checkScale("newdiagnormal", scale); err != nil {
		return nil, err
	}

	m := make([]float64, len(mean))
	s := make([]float64, len(scale))
	copy(m, mean)
	copy(s, scale)
	return &DiagNormal{mean: m, scale: s}, nil
}

// Dims returns the dimensionality of the distribution
func (d *DiagNormal) Dims() int {
	return len(d.mean)
}

// Mean returns a copy of the mean of the distribution
func (d *DiagNormal) Mean() []float64 {
	out := make([]float64, len(d.mean))
	copy(out, d.mean)
	return out
}

// Scale returns a copy of the standard deviations of the distribution
func (d *DiagNormal) Scale() []float64 {
	out := make([]float64, len(d.scale))
	copy(out, d.scale)
	return out
}

// Sample draws a sample as μ + σ ⊙ ε with ε ~ N(0, I) drawn from src
func (d *DiagNormal) Sample(src rand.Source) []float64 {
	std := distuv.Normal{Mu: 0, Sigma: 1, Src: src}

	sample := make([]float64, len(d.mean))
	for i := range sample {
		sample[i] = d.mean[i] + d.scale[i]*std.Rand()
	}
	return sample
}

// LogProb returns the log density of x
func (d *DiagNormal) LogProb(x []float64) (float64, error) {
	if len(x) != len(d.mean) {
		return 0, errors.Errorf("logprob: expected %d dimensions but got %d",
			len(d.mean), len(x))
	}
	var logProb float64
	for i := range x {
		n := distuv.Normal{Mu: d.mean[i], Sigma: d.scale[i]}
		logProb += n.LogProb(x[i])
	}
	return logProb, nil
}
