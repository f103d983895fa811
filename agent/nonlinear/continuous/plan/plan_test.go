package plan

import (
	"fmt"
	"testing"

	"github.com/samuelfneumann/golatent/network"
	"github.com/samuelfneumann/golatent/utils/floatutils"
	"github.com/samuelfneumann/golatent/utils/tensorutils"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

const (
	batch      = 2
	visionDim  = 4
	proprioDim = 3
	latentDim  = 5
)

func input(g *G.ExprGraph, name string, cols int) *G.Node {
	return G.NewMatrix(g, tensor.Float64, G.WithShape(batch, cols),
		G.WithName(name), G.WithInit(G.Gaussian(0, 2)))
}

func sequence(g *G.ExprGraph, name string, length, cols int) []*G.Node {
	seq := make([]*G.Node, length)
	for i := range seq {
		seq[i] = input(g, fmt.Sprintf("%v%d", name, i), cols)
	}
	return seq
}

// run executes the graph and returns the values of the mean and scale
func run(t *testing.T, g *G.ExprGraph, l *Latent) ([]float64, []float64) {
	var meanVal, scaleVal G.Value
	G.Read(l.Mean, &meanVal)
	G.Read(l.Scale, &scaleVal)

	vm := G.NewTapeMachine(g)
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		t.Fatal(err)
	}

	mean, err := tensorutils.Float64s(meanVal)
	if err != nil {
		t.Fatal(err)
	}
	scale, err := tensorutils.Float64s(scaleVal)
	if err != nil {
		t.Fatal(err)
	}
	return mean, scale
}

func TestRecognitionScalePositive(t *testing.T) {
	backbones := []network.BackboneConfig{
		{Type: network.LSTMBackbone, Bidirectional: true, Hidden: 6},
		{Type: network.LSTMBackbone, Hidden: 4},
		{Type: network.TransformerBackbone, Hidden: 8, ModelDim: 4,
			Heads: 2, MaxLength: 5},
	}

	for _, b := range backbones {
		for _, length := range []int{1, 3} {
			g := G.NewGraph()
			r, err := NewRecognition(g, visionDim, proprioDim, latentDim, b,
				G.GlorotU(1), "recognition")
			if err != nil {
				t.Fatal(err)
			}

			vision := sequence(g, "vision", length, visionDim)
			proprio := sequence(g, "proprio", length, proprioDim)
			l, err := r.Fwd(vision, proprio)
			if err != nil {
				t.Fatal(err)
			}
			if want := (tensor.Shape{batch, latentDim}); !l.Scale.Shape().Eq(want) {
				t.Errorf("%v: scale shape %v, want %v", b.Type,
					l.Scale.Shape(), want)
			}

			mean, scale := run(t, g, l)
			if !floatutils.AllFinite(mean) {
				t.Errorf("%v: non-finite mean %v", b.Type, mean)
			}
			if !floatutils.AllPositive(scale) {
				t.Errorf("%v (length %d): non-positive scale %v", b.Type,
					length, scale)
			}
		}
	}
}

func TestRecognitionRejectsEmptySequence(t *testing.T) {
	g := G.NewGraph()
	r, err := NewRecognition(g, visionDim, proprioDim, latentDim,
		network.BackboneConfig{Type: network.LSTMBackbone, Hidden: 4},
		G.GlorotU(1), "recognition")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := r.Fwd(nil, nil); err == nil {
		t.Error("expected an error for an empty sequence")
	}

	vision := sequence(g, "vision", 2, visionDim)
	proprio := sequence(g, "proprio", 1, proprioDim)
	if _, err := r.Fwd(vision, proprio); err == nil {
		t.Error("expected an error for mismatched sequence lengths")
	}
}

func TestProposal(t *testing.T) {
	g := G.NewGraph()
	p, err := NewProposal(g, visionDim, proprioDim, visionDim, latentDim,
		[]int{8, 8}, G.GlorotU(1), "proposal")
	if err != nil {
		t.Fatal(err)
	}

	vision := input(g, "vision", visionDim)
	proprio := input(g, "proprio", proprioDim)
	goal := input(g, "goal", visionDim)
	l, err := p.Fwd(vision, proprio, goal)
	if err != nil {
		t.Fatal(err)
	}

	_, scale := run(t, g, l)
	if len(scale) != batch*latentDim {
		t.Fatalf("scale has %d elements, want %d", len(scale),
			batch*latentDim)
	}
	if !floatutils.AllPositive(scale) {
		t.Errorf("non-positive scale %v", scale)
	}

	// Wrong goal width fails at concatenation
	bad := input(g, "bad", visionDim+1)
	if _, err := p.Fwd(vision, proprio, bad); err == nil {
		t.Error("expected an error for a goal of the wrong size")
	}
}

func TestLatentSample(t *testing.T) {
	g := G.NewGraph()
	mean := G.NewMatrix(g, tensor.Float64, G.WithShape(1, 2),
		G.WithName("mean"), G.WithValue(tensor.New(tensor.WithShape(1, 2),
			tensor.WithBacking([]float64{1, -1}))))
	scale := G.NewMatrix(g, tensor.Float64, G.WithShape(1, 2),
		G.WithName("scale"), G.WithValue(tensor.New(tensor.WithShape(1, 2),
			tensor.WithBacking([]float64{2, 0.5}))))
	eps := G.NewMatrix(g, tensor.Float64, G.WithShape(1, 2),
		G.WithName("eps"), G.WithValue(tensor.New(tensor.WithShape(1, 2),
			tensor.WithBacking([]float64{0.5, -2}))))

	l := &Latent{Mean: mean, Scale: scale}
	sample, err := l.Sample(eps)
	if err != nil {
		t.Fatal(err)
	}
	var sampleVal G.Value
	G.Read(sample, &sampleVal)

	vm := G.NewTapeMachine(g)
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		t.Fatal(err)
	}

	got, err := tensorutils.Float64s(sampleVal)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{2, -2}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	wrong := G.NewMatrix(g, tensor.Float64, G.WithShape(2, 2),
		G.WithName("wrong"), G.WithInit(G.Zeroes()))
	if _, err := l.Sample(wrong); err == nil {
		t.Error("expected an error for noise of the wrong shape")
	}
}
