package critic

import (
	"testing"

	"github.com/samuelfneumann/golatent/network"
	"github.com/samuelfneumann/golatent/utils/tensorutils"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func TestCritic(t *testing.T) {
	for _, nonNegative := range []bool{false, true} {
		g := G.NewGraph()
		c, err := New(g, 4, 3, 2, []int{8}, nonNegative, G.GlorotU(1),
			"critic")
		if err != nil {
			t.Fatal(err)
		}

		input := func(name string, cols int) *G.Node {
			return G.NewMatrix(g, tensor.Float64, G.WithShape(16, cols),
				G.WithName(name), G.WithInit(G.Gaussian(0, 5)))
		}
		q, err := c.Fwd(input("vision", 4), input("proprio", 3),
			input("action", 2))
		if err != nil {
			t.Fatal(err)
		}
		if want := (tensor.Shape{16, 1}); !q.Shape().Eq(want) {
			t.Fatalf("q shape %v, want %v", q.Shape(), want)
		}

		var qVal G.Value
		G.Read(q, &qVal)
		vm := G.NewTapeMachine(g)
		if err := vm.RunAll(); err != nil {
			t.Fatal(err)
		}
		vm.Close()

		values, err := tensorutils.Float64s(qVal)
		if err != nil {
			t.Fatal(err)
		}
		if nonNegative {
			for i, v := range values {
				if v < 0 {
					t.Errorf("q[%d] = %v < 0 with a non-negative critic", i, v)
				}
			}
		}

		if _, err := c.Fwd(input("bad", 5), input("proprio2", 3),
			input("action2", 2)); err == nil {
			t.Error("expected an error for inputs of the wrong size")
		}
	}
}

func TestCriticSet(t *testing.T) {
	g1, g2 := G.NewGraph(), G.NewGraph()
	c1, err := New(g1, 2, 2, 1, []int{4, 4}, false, G.GlorotU(1), "critic")
	if err != nil {
		t.Fatal(err)
	}
	c2, err := New(g2, 2, 2, 1, []int{4, 4}, false, G.GlorotU(1), "critic")
	if err != nil {
		t.Fatal(err)
	}
	if err := network.Set(c2, c1); err != nil {
		t.Fatal(err)
	}

	for i, node := range c1.Learnables() {
		want := node.Value().Data().([]float64)
		got := c2.Learnables()[i].Value().Data().([]float64)
		for j := range want {
			if got[j] != want[j] {
				t.Fatalf("learnable %d differs after Set", i)
			}
		}
	}
}
