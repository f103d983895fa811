// Package network implements the neural network building blocks used
// by the latent plan agents: fully connected layers and MLPs, unrolled
// recurrent layers, attention layers, and convolutional vision
// encoders. All blocks add themselves to a Gorgonia computational graph
// with a fixed batch size.
//
// Networks that need to run at several batch sizes or in several roles
// (online, target, evaluation) are constructed once per graph, and the
// copies are kept in sync with Set and Polyak.
package network

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Module is a collection of learnable parameters living in a single
// computational graph. Learnables are always returned in the same
// order, so two Modules constructed with the same architecture can be
// synchronized index by index.
type Module interface {
	Learnables() G.Nodes
	Model() []G.ValueGrad
}

// modelOf returns the learnables of a Module as ValueGrads
func modelOf(learnables G.Nodes) []G.ValueGrad {
	model := make([]G.ValueGrad, 0, len(learnables))
	for _, node := range learnables {
		model = append(model, node)
	}
	return model
}

// checkCompatible ensures two Modules have learnables with matching
// shapes
func checkCompatible(dest, source Module) error {
	destNodes := dest.Learnables()
	sourceNodes := source.Learnables()
	if len(destNodes) != len(sourceNodes) {
		return fmt.Errorf("incompatible modules: %d learnables != %d "+
			"learnables", len(destNodes), len(sourceNodes))
	}
	for i := range destNodes {
		if !destNodes[i].Shape().Eq(sourceNodes[i].Shape()) {
			return fmt.Errorf("incompatible modules: learnable %v has "+
				"shape %v but source learnable %v has shape %v",
				destNodes[i].Name(), destNodes[i].Shape(),
				sourceNodes[i].Name(), sourceNodes[i].Shape())
		}
	}
	return nil
}

// Set sets the weights of dest to be equal to the weights of source
func Set(dest, source Module) error {
	if err := checkCompatible(dest, source); err != nil {
		return fmt.Errorf("set: %v", err)
	}

	sourceNodes := source.Learnables()
	for i, destLearnable := range dest.Learnables() {
		sourceWeights, ok := sourceNodes[i].Value().(*tensor.Dense)
		if !ok {
			return fmt.Errorf("set: learnable %v has no dense value",
				sourceNodes[i].Name())
		}
		err := G.Let(destLearnable, sourceWeights.Clone().(*tensor.Dense))
		if err != nil {
			return fmt.Errorf("set: %v", err)
		}
	}
	return nil
}

// Polyak sets the weights of dest to be a polyak average between its
// existing weights and the weights of source:
//
//	dest ← τ * source + (1 - τ) * dest
//
// With τ = 1, dest becomes an exact copy of source. With τ = 0, dest is
// left unchanged.
func Polyak(dest, source Module, tau float64) error {
	if tau < 0 || tau > 1 {
		return fmt.Errorf("polyak: τ must be in [0, 1] but got %v", tau)
	}
	if err := checkCompatible(dest, source); err != nil {
		return fmt.Errorf("polyak: %v", err)
	}
	if tau == 0 {
		return nil
	} else if tau == 1 {
		return Set(dest, source)
	}

	sourceNodes := source.Learnables()
	nodes := dest.Learnables()
	for i := range nodes {
		weights := nodes[i].Value().(*tensor.Dense)
		sourceWeights := sourceNodes[i].Value().(*tensor.Dense)

		weights, err := weights.MulScalar(1-tau, true)
		if err != nil {
			return fmt.Errorf("polyak: %v", err)
		}

		sourceWeights, err = sourceWeights.MulScalar(tau, true)
		if err != nil {
			return fmt.Errorf("polyak: %v", err)
		}

		var newWeights *tensor.Dense
		newWeights, err = weights.Add(sourceWeights)
		if err != nil {
			return fmt.Errorf("polyak: %v", err)
		}

		if err := G.Let(nodes[i], newWeights); err != nil {
			return fmt.Errorf("polyak: %v", err)
		}
	}
	return nil
}

// Values returns a copy of the current value of each learnable of a
// Module, in learnable order.
func Values(m Module) []*tensor.Dense {
	nodes := m.Learnables()
	values := make([]*tensor.Dense, len(nodes))
	for i, node := range nodes {
		values[i] = node.Value().(*tensor.Dense).Clone().(*tensor.Dense)
	}
	return values
}

// CheckValues returns an error if values cannot be loaded into m with
// SetValues.
func CheckValues(m Module, values []*tensor.Dense) error {
	nodes := m.Learnables()
	if len(nodes) != len(values) {
		return fmt.Errorf("checkvalues: expected %d parameter tensors but "+
			"got %d", len(nodes), len(values))
	}
	for i, node := range nodes {
		if values[i] == nil {
			return fmt.Errorf("checkvalues: nil value for learnable %v",
				node.Name())
		}
		if !node.Shape().Eq(values[i].Shape()) {
			return fmt.Errorf("checkvalues: learnable %v has shape %v but "+
				"value has shape %v", node.Name(), node.Shape(),
				values[i].Shape())
		}
	}
	return nil
}

// SetValues sets the learnables of a Module to copies of values. Shapes
// are validated before any learnable is modified.
func SetValues(m Module, values []*tensor.Dense) error {
	if err := CheckValues(m, values); err != nil {
		return fmt.Errorf("setvalues: %v", err)
	}
	for i, node := range m.Learnables() {
		if err := G.Let(node, values[i].Clone().(*tensor.Dense)); err != nil {
			return fmt.Errorf("setvalues: %v", err)
		}
	}
	return nil
}

// NumParams returns the total number of scalar parameters in a Module
func NumParams(m Module) int {
	n := 0
	for _, node := range m.Learnables() {
		n += node.Shape().TotalSize()
	}
	return n
}

// Modules combines several Modules into a single Module whose
// learnables are the concatenation of each Module's learnables.
type Modules []Module

// Learnables returns the learnables of all Modules in order
func (m Modules) Learnables() G.Nodes {
	var learnables G.Nodes
	for _, module := range m {
		learnables = append(learnables, module.Learnables()...)
	}
	return learnables
}

// Model returns the learnables of all Modules with their gradients
func (m Modules) Model() []G.ValueGrad {
	return modelOf(m.Learnables())
}

// newWeights adds a new learnable matrix to the graph
func newWeights(g *G.ExprGraph, name string, init G.InitWFn,
	rows, cols int) *G.Node {
	return G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(rows, cols),
		G.WithName(name),
		G.WithInit(init),
	)
}
