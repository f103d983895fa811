// Package noise implements exploration noise processes
package noise

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// Process is a noise process producing one sample per action
type Process interface {
	// Sample returns the next noise vector
	Sample() []float64

	// Reset returns the process to its initial state
	Reset()
}

// OrnsteinUhlenbeck implements a temporally correlated
// Ornstein-Uhlenbeck noise process:
//
//	x ← x + θ (μ - x) dt + σ √dt N(0, I)
type OrnsteinUhlenbeck struct {
	theta, mu, sigma, dt float64
	state                []float64
	normal               distuv.Normal
}

// NewOrnsteinUhlenbeck returns a new OrnsteinUhlenbeck process over
// size dimensions whose state starts at mu
func NewOrnsteinUhlenbeck(size int, theta, mu, sigma, dt float64,
	seed uint64) (*OrnsteinUhlenbeck, error) {
	if size <= 0 {
		return nil, fmt.Errorf("newornsteinuhlenbeck: size must be "+
			"positive but got %d", size)
	}
	if theta < 0 || sigma < 0 || dt <= 0 {
		return nil, fmt.Errorf("newornsteinuhlenbeck: invalid parameters "+
			"θ=%v σ=%v dt=%v", theta, sigma, dt)
	}

	o := &OrnsteinUhlenbeck{
		theta:  theta,
		mu:     mu,
		sigma:  sigma,
		dt:     dt,
		state:  make([]float64, size),
		normal: distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewSource(seed)},
	}
	o.Reset()
	return o, nil
}

// NewDefaultOrnsteinUhlenbeck returns an OrnsteinUhlenbeck process with
// θ = 0.15, μ = 0, σ = 0.2, and dt = 0.01
func NewDefaultOrnsteinUhlenbeck(size int,
	seed uint64) (*OrnsteinUhlenbeck, error) {
	return NewOrnsteinUhlenbeck(size, 0.15, 0, 0.2, 1e-2, seed)
}

// Sample advances the process by one step and returns a copy of its
// state
func (o *OrnsteinUhlenbeck) Sample() []float64 {
	sqrtDt := math.Sqrt(o.dt)
	out := make([]float64, len(o.state))
	for i, x := range o.state {
		dx := o.theta*(o.mu-x)*o.dt + o.sigma*sqrtDt*o.normal.Rand()
		o.state[i] = x + dx
		out[i] = o.state[i]
	}
	return out
}

// Reset sets the state of the process back to μ
func (o *OrnsteinUhlenbeck) Reset() {
	for i := range o.state {
		o.state[i] = o.mu
	}
}

// Size returns the dimension of the noise
func (o *OrnsteinUhlenbeck) Size() int {
	return len(o.state)
}
