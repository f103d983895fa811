package solver

import (
	"fmt"
	"math"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// gradData returns the backing data of the gradient of a learnable.
// A gradient which has not yet been computed has no data.
func gradData(vg G.ValueGrad) ([]float64, error) {
	grad, err := vg.Grad()
	if err != nil {
		return nil, err
	}
	if grad == nil {
		return nil, nil
	}
	dense, ok := grad.(*tensor.Dense)
	if !ok {
		return nil, fmt.Errorf("gradient of type %T is not dense", grad)
	}
	if dense == nil {
		return nil, nil
	}
	data, ok := dense.Data().([]float64)
	if !ok {
		return nil, fmt.Errorf("gradient of dtype %v is not float64",
			dense.Dtype())
	}
	return data, nil
}

// GradNorm returns the global L2 norm of the gradients of a model
func GradNorm(model []G.ValueGrad) (float64, error) {
	var sumSquares float64
	for i, vg := range model {
		data, err := gradData(vg)
		if err != nil {
			return 0, fmt.Errorf("gradnorm: learnable %d: %v", i, err)
		}
		for _, g := range data {
			sumSquares += g * g
		}
	}
	return math.Sqrt(sumSquares), nil
}

// ClipGradNorm rescales the gradients of a model in place so that their
// global L2 norm is at most maxNorm. The norm before clipping is
// returned. A non-finite norm is reported as an error and leaves the
// gradients untouched.
func ClipGradNorm(model []G.ValueGrad, maxNorm float64) (float64, error) {
	if maxNorm <= 0 {
		return 0, fmt.Errorf("clipgradnorm: maximum norm must be positive "+
			"but got %v", maxNorm)
	}

	norm, err := GradNorm(model)
	if err != nil {
		return 0, fmt.Errorf("clipgradnorm: %v", err)
	}
	if math.IsNaN(norm) || math.IsInf(norm, 0) {
		return norm, fmt.Errorf("clipgradnorm: non-finite gradient norm %v",
			norm)
	}

	const eps = 1e-6
	coef := maxNorm / (norm + eps)
	if coef >= 1 {
		return norm, nil
	}

	for _, vg := range model {
		data, _ := gradData(vg)
		for j := range data {
			data[j] *= coef
		}
	}
	return norm, nil
}

// ZeroGrad sets the gradients of a model to zero
func ZeroGrad(model []G.ValueGrad) error {
	for i, vg := range model {
		data, err := gradData(vg)
		if err != nil {
			return fmt.Errorf("zerograd: learnable %d: %v", i, err)
		}
		for j := range data {
			data[j] = 0
		}
	}
	return nil
}
