package solver

import (
	"fmt"

	G "gorgonia.org/gorgonia"
)

// hyperparameters are common to every solver configuration
type hyperparameters struct {
	StepSize float64
	Batch    int
	Clip     float64 // Elementwise gradient clip, <= 0 for none
}

func (h hyperparameters) validate() error {
	if h.StepSize <= 0 {
		return fmt.Errorf("step size must be positive but got %v",
			h.StepSize)
	}
	if h.Batch < 1 {
		return fmt.Errorf("batch size must be >= 1 but got %d", h.Batch)
	}
	return nil
}

func (h hyperparameters) opts() []G.SolverOpt {
	opts := []G.SolverOpt{
		G.WithLearnRate(h.StepSize),
		G.WithBatchSize(float64(h.Batch)),
	}
	if h.Clip > 0 {
		opts = append(opts, G.WithClip(h.Clip))
	}
	return opts
}

// AdamConfig describes an Adam solver
type AdamConfig struct {
	StepSize float64
	Epsilon  float64
	Beta1    float64
	Beta2    float64
	Batch    int
	Clip     float64
}

// NewDefaultAdam returns an Adam Solver with the usual moment decay
// rates. Losses here are already batch means, so batchSize is usually 1.
func NewDefaultAdam(stepSize float64, batchSize int) (*Solver, error) {
	return NewAdam(stepSize, 1e-8, 0.9, 0.999, batchSize, -1)
}

// NewAdam returns a new Adam Solver
func NewAdam(stepSize, epsilon, beta1, beta2 float64, batchSize int,
	clip float64) (*Solver, error) {
	return newSolver(Adam, AdamConfig{
		StepSize: stepSize,
		Epsilon:  epsilon,
		Beta1:    beta1,
		Beta2:    beta2,
		Batch:    batchSize,
		Clip:     clip,
	})
}

func (a AdamConfig) common() hyperparameters {
	return hyperparameters{StepSize: a.StepSize, Batch: a.Batch, Clip: a.Clip}
}

// Create implements Config
func (a AdamConfig) Create() G.Solver {
	opts := append(a.common().opts(), G.WithEps(a.Epsilon),
		G.WithBeta1(a.Beta1), G.WithBeta2(a.Beta2))
	return G.NewAdamSolver(opts...)
}

// Validate implements Config
func (a AdamConfig) Validate() error {
	if err := a.common().validate(); err != nil {
		return err
	}
	if a.Beta1 < 0 || a.Beta1 >= 1 || a.Beta2 < 0 || a.Beta2 >= 1 {
		return fmt.Errorf("moment decay rates must be in [0, 1) but got "+
			"(%v, %v)", a.Beta1, a.Beta2)
	}
	if a.Epsilon <= 0 {
		return fmt.Errorf("epsilon must be positive but got %v", a.Epsilon)
	}
	return nil
}

// ValidType implements Config
func (a AdamConfig) ValidType(t Type) bool { return t == Adam }

// RMSPropConfig describes an RMSProp solver
type RMSPropConfig struct {
	StepSize float64
	Epsilon  float64
	Rho      float64
	Batch    int
	Clip     float64
}

// NewDefaultRMSProp returns an RMSProp Solver with decay rate 0.999
func NewDefaultRMSProp(stepSize float64, batchSize int) (*Solver, error) {
	return NewRMSProp(stepSize, 1e-8, 0.999, batchSize, -1)
}

// NewRMSProp returns a new RMSProp Solver
func NewRMSProp(stepSize, epsilon, rho float64, batchSize int,
	clip float64) (*Solver, error) {
	return newSolver(RMSProp, RMSPropConfig{
		StepSize: stepSize,
		Epsilon:  epsilon,
		Rho:      rho,
		Batch:    batchSize,
		Clip:     clip,
	})
}

func (r RMSPropConfig) common() hyperparameters {
	return hyperparameters{StepSize: r.StepSize, Batch: r.Batch, Clip: r.Clip}
}

// Create implements Config
func (r RMSPropConfig) Create() G.Solver {
	opts := append(r.common().opts(), G.WithEps(r.Epsilon), G.WithRho(r.Rho))
	return G.NewRMSPropSolver(opts...)
}

// Validate implements Config
func (r RMSPropConfig) Validate() error {
	if err := r.common().validate(); err != nil {
		return err
	}
	if r.Rho < 0 || r.Rho >= 1 {
		return fmt.Errorf("decay rate must be in [0, 1) but got %v", r.Rho)
	}
	if r.Epsilon <= 0 {
		return fmt.Errorf("epsilon must be positive but got %v", r.Epsilon)
	}
	return nil
}

// ValidType implements Config
func (r RMSPropConfig) ValidType(t Type) bool { return t == RMSProp }

// VanillaConfig describes plain gradient descent
type VanillaConfig struct {
	StepSize float64
	Batch    int
	Clip     float64
}

// NewVanilla returns a new Vanilla Solver
func NewVanilla(stepSize float64, batchSize int,
	clip float64) (*Solver, error) {
	return newSolver(Vanilla, VanillaConfig{
		StepSize: stepSize,
		Batch:    batchSize,
		Clip:     clip,
	})
}

func (v VanillaConfig) common() hyperparameters {
	return hyperparameters(v)
}

// Create implements Config
func (v VanillaConfig) Create() G.Solver {
	return G.NewVanillaSolver(v.common().opts()...)
}

// Validate implements Config
func (v VanillaConfig) Validate() error { return v.common().validate() }

// ValidType implements Config
func (v VanillaConfig) ValidType(t Type) bool { return t == Vanilla }
