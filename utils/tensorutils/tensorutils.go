// Package tensorutils provides utilities for slicing tensors and
// moving data between flat slices and Gorgonia values.
package tensorutils

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Slice implements a struct that can be used for slicing tensors.
//
// Given a tensor T and a Slice S, T.Slice(..., S, ...) is equivalent to
// T[..., S.start:S.end:S.step, ...]
type Slice struct {
	start, end, step int
}

// Start returns the start index for the tensor slice
func (s Slice) Start() int {
	return s.start
}

// End returns the ending index for the tensor slice
func (s Slice) End() int {
	return s.end
}

// Step returns the step for the tensor slice
func (s Slice) Step() int {
	return s.step
}

// NewSlice returns a new Slice that can be used to slice tensors
func NewSlice(start, stop, step int) Slice {
	return Slice{start, stop, step}
}

// LetData sets the value of an input node to a dense tensor with the
// node's shape backed by data. The data is not copied.
func LetData(node *G.Node, data []float64) error {
	if want := node.Shape().TotalSize(); len(data) != want {
		return fmt.Errorf("letdata: invalid data length for node %v"+
			"\n\twant(%v)\n\thave(%v)", node.Name(), want, len(data))
	}
	t := tensor.New(
		tensor.WithShape(node.Shape().Clone()...),
		tensor.WithBacking(data),
	)
	return G.Let(node, t)
}

// Float64s returns a copy of the data of a float64 Gorgonia value
func Float64s(v G.Value) ([]float64, error) {
	if v == nil {
		return nil, fmt.Errorf("float64s: nil value")
	}
	switch data := v.Data().(type) {
	case []float64:
		out := make([]float64, len(data))
		copy(out, data)
		return out, nil
	case float64:
		return []float64{data}, nil
	default:
		return nil, fmt.Errorf("float64s: unsupported data type %T", data)
	}
}

// Scalar returns the float64 held by a scalar Gorgonia value
func Scalar(v G.Value) (float64, error) {
	data, err := Float64s(v)
	if err != nil {
		return 0, fmt.Errorf("scalar: %v", err)
	}
	if len(data) != 1 {
		return 0, fmt.Errorf("scalar: value has %d elements", len(data))
	}
	return data[0], nil
}
