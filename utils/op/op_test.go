package op

import (
	"math"
	"testing"

	"github.com/samuelfneumann/golatent/utils/tensorutils"
	"gonum.org/v1/gonum/floats"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func matrix(g *G.ExprGraph, name string, rows, cols int,
	data ...float64) *G.Node {
	return G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(rows, cols),
		G.WithName(name),
		G.WithValue(tensor.New(
			tensor.WithShape(rows, cols),
			tensor.WithBacking(data),
		)),
	)
}

// run computes out and returns its data
func run(t *testing.T, out *G.Node) []float64 {
	t.Helper()
	var val G.Value
	G.Read(out, &val)

	vm := G.NewTapeMachine(out.Graph())
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		t.Fatal(err)
	}
	data, err := tensorutils.Float64s(val)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestClamp(t *testing.T) {
	g := G.NewGraph()
	x := matrix(g, "x", 1, 4, -2, -0.5, 0.5, 2)
	out, err := Clamp(x, -1, 1)
	if err != nil {
		t.Fatal(err)
	}

	want := []float64{-1, -0.5, 0.5, 1}
	if got := run(t, out); !floats.EqualApprox(got, want, 1e-12) {
		t.Errorf("Clamp() = %v, want %v", got, want)
	}

	if _, err := Clamp(x, 1, -1); err == nil {
		t.Error("expected an error for min > max")
	}
}

func TestSoftplus(t *testing.T) {
	in := []float64{-30, -1, 0, 1, 30}
	g := G.NewGraph()
	out, err := Softplus(matrix(g, "x", 1, len(in), in...))
	if err != nil {
		t.Fatal(err)
	}

	got := run(t, out)
	for i, x := range in {
		want := math.Log1p(math.Exp(x))
		if math.Abs(got[i]-want) > 1e-9 {
			t.Errorf("Softplus(%v) = %v, want %v", x, got[i], want)
		}
	}
}

func TestSoftmax(t *testing.T) {
	g := G.NewGraph()
	logits := matrix(g, "logits", 2, 3, 1, 2, 3, -100, 0, 100)
	out, err := Softmax(logits)
	if err != nil {
		t.Fatal(err)
	}

	got := run(t, out)
	for row := 0; row < 2; row++ {
		sum := floats.Sum(got[row*3 : (row+1)*3])
		if math.Abs(sum-1) > 1e-12 {
			t.Errorf("row %d sums to %v, want 1", row, sum)
		}
	}
	if got[0] >= got[1] || got[1] >= got[2] {
		t.Errorf("Softmax() = %v is not increasing in the logits", got[:3])
	}
}

func TestRowsAndColumns(t *testing.T) {
	g := G.NewGraph()
	x := matrix(g, "x", 3, 3, 0, 1, 2, 3, 4, 5, 6, 7, 8)

	cols, err := Columns(x, 1, 3)
	if err != nil {
		t.Fatal(err)
	}
	rows, err := Rows(x, 2, 3)
	if err != nil {
		t.Fatal(err)
	}
	concat, err := ConcatFeatures(cols, cols)
	if err != nil {
		t.Fatal(err)
	}
	if !concat.Shape().Eq(tensor.Shape{3, 4}) {
		t.Errorf("ConcatFeatures() has shape %v, want (3, 4)", concat.Shape())
	}

	if got, want := run(t, cols), []float64{1, 2, 4, 5, 7, 8}; !floats.Equal(
		got, want) {
		t.Errorf("Columns() = %v, want %v", got, want)
	}

	g = G.NewGraph()
	x = matrix(g, "x", 3, 3, 0, 1, 2, 3, 4, 5, 6, 7, 8)
	rows, _ = Rows(x, 2, 3)
	if got, want := run(t, rows), []float64{6, 7, 8}; !floats.Equal(got,
		want) {
		t.Errorf("Rows() = %v, want %v", got, want)
	}

	if _, err := Columns(x, 2, 4); err == nil {
		t.Error("expected an error for an out of range column")
	}
	if _, err := Rows(x, 1, 1); err == nil {
		t.Error("expected an error for an empty row range")
	}
}

func TestConcatFeaturesBatchMismatch(t *testing.T) {
	g := G.NewGraph()
	a := matrix(g, "a", 2, 1, 0, 0)
	b := matrix(g, "b", 3, 1, 0, 0, 0)
	if _, err := ConcatFeatures(a, b); err == nil {
		t.Error("expected an error for mismatched batch sizes")
	}
	if _, err := ConcatFeatures(); err == nil {
		t.Error("expected an error for no inputs")
	}
}

func TestMSE(t *testing.T) {
	g := G.NewGraph()
	pred := matrix(g, "pred", 2, 2, 1, 2, 3, 4)
	target := matrix(g, "target", 2, 2, 1, 0, 3, 0)
	out, err := MSE(pred, target)
	if err != nil {
		t.Fatal(err)
	}

	// (0 + 4 + 0 + 16) / 4
	if got := run(t, out); math.Abs(got[0]-5) > 1e-12 {
		t.Errorf("MSE() = %v, want 5", got[0])
	}
}

func TestGaussianKL(t *testing.T) {
	tests := []struct {
		name                   string
		muQ, sigmaQ, muP, sigP []float64
		want                   float64
	}{
		{"Identical", []float64{0.3, -2}, []float64{0.5, 2},
			[]float64{0.3, -2}, []float64{0.5, 2}, 0},
		{"ShiftedMean", []float64{0, 0}, []float64{1, 1},
			[]float64{1, 1}, []float64{1, 1}, 1},
		{"WiderPrior", []float64{0, 0}, []float64{1, 1},
			[]float64{0, 0}, []float64{2, 2},
			2 * (math.Log(2) + 1.0/8 - 0.5)},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			g := G.NewGraph()
			out, err := GaussianKL(
				matrix(g, "muQ", 1, 2, test.muQ...),
				matrix(g, "sigmaQ", 1, 2, test.sigmaQ...),
				matrix(g, "muP", 1, 2, test.muP...),
				matrix(g, "sigmaP", 1, 2, test.sigP...),
			)
			if err != nil {
				t.Fatal(err)
			}
			if got := run(t, out); math.Abs(got[0]-test.want) > 1e-12 {
				t.Errorf("GaussianKL() = %v, want %v", got[0], test.want)
			}
		})
	}
}

func TestStandardNormalPenalty(t *testing.T) {
	g := G.NewGraph()
	out, err := StandardNormalPenalty(matrix(g, "mu", 1, 1, 0),
		matrix(g, "sigma", 1, 1, 1))
	if err != nil {
		t.Fatal(err)
	}

	want := -0.5 * (2 - math.E)
	if got := run(t, out); math.Abs(got[0]-want) > 1e-12 {
		t.Errorf("StandardNormalPenalty() = %v, want %v", got[0], want)
	}
}

func TestClampedLogisticMixtureMean(t *testing.T) {
	g := G.NewGraph()

	// Two action dimensions with two components each: the first is
	// symmetric about zero and the second sits far above the clamp
	logits := matrix(g, "logits", 1, 4, 0, 0, 0, 0)
	mu := matrix(g, "mu", 1, 4, -0.5, 0.5, 50, 60)
	scale := matrix(g, "scale", 1, 4, 0.3, 0.3, 0.1, 0.1)
	out, err := ClampedLogisticMixtureMean(logits, mu, scale, 2)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Shape().Eq(tensor.Shape{1, 2}) {
		t.Fatalf("mean has shape %v, want (1, 2)", out.Shape())
	}

	got := run(t, out)
	if math.Abs(got[0]) > 1e-12 {
		t.Errorf("symmetric mixture mean = %v, want 0", got[0])
	}
	if math.Abs(got[1]-1) > 1e-9 {
		t.Errorf("saturated mixture mean = %v, want 1", got[1])
	}
}

func TestLogisticMixtureLogProb(t *testing.T) {
	g := G.NewGraph()
	x := matrix(g, "x", 2, 1, 0, 1)
	logits := matrix(g, "logits", 2, 1, 0, 0)
	mu := matrix(g, "mu", 2, 1, 0, 0)
	scale := matrix(g, "scale", 2, 1, 1, 1)
	out, err := LogisticMixtureLogProb(x, logits, mu, scale, 1)
	if err != nil {
		t.Fatal(err)
	}

	// The standard logistic density is e^-x / (1 + e^-x)^2
	logistic := func(v float64) float64 {
		return -v - 2*math.Log1p(math.Exp(-v))
	}
	got := run(t, out)
	for i, v := range []float64{0, 1} {
		if want := logistic(v); math.Abs(got[i]-want) > 1e-9 {
			t.Errorf("log density at %v = %v, want %v", v, got[i], want)
		}
	}
}
