// Package timestep implements the steps of a training run and the
// transitions stored for off-policy fine-tuning.
package timestep

import (
	"fmt"
	"sort"
	"strings"
)

// Phase denotes the training phase a TimeStep belongs to
type Phase int

const (
	PreTrain Phase = iota
	FineTune
)

func (p Phase) String() string {
	switch p {
	case PreTrain:
		return "PreTrain"
	case FineTune:
		return "FineTune"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// TimeStep packages together a single training step and the losses
// observed on it
type TimeStep struct {
	Phase  Phase
	Number int
	Losses map[string]float64
}

// New returns a new TimeStep
func New(p Phase, n int, losses map[string]float64) TimeStep {
	return TimeStep{Phase: p, Number: n, Losses: losses}
}

func (t TimeStep) String() string {
	names := make([]string, 0, len(t.Losses))
	for name := range t.Losses {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "  |  %v: %.4f", name, t.Losses[name])
	}
	return fmt.Sprintf("TimeStep | Phase: %v  |  Step Number: %v%v", t.Phase,
		t.Number, b.String())
}
