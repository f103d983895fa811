package expreplay

import (
	"math"
	"testing"

	"github.com/samuelfneumann/golatent/timestep"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats/scalar"
)

func newTestBuffer(t *testing.T, c Config) *Prioritized {
	t.Helper()
	p, err := NewPrioritized(c, 2, 1, 1, rand.NewSource(1))
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func transition(i int) timestep.Transition {
	v := float64(i)
	return timestep.NewTransition([]float64{v, v}, []float64{v}, []float64{v},
		v, []float64{v + 1, v + 1}, []float64{v + 1}, i%2 == 0)
}

func TestPrioritizedSampleErrors(t *testing.T) {
	p := newTestBuffer(t, Config{MaxReplayCapacity: 4, MinReplayCapacity: 2,
		BatchSize: 2, Alpha: 0.6, Beta: 0.4, Epsilon: 1e-6})

	if _, err := p.SampleBatch(); !IsEmptyBuffer(err) {
		t.Errorf("expected empty buffer error but got %v", err)
	}
	if err := p.Store(transition(0)); err != nil {
		t.Fatal(err)
	}
	if _, err := p.SampleBatch(); !IsInsufficientSamples(err) {
		t.Errorf("expected insufficient samples error but got %v", err)
	}

	bad := transition(1)
	bad.Action = []float64{1, 2}
	if err := p.Store(bad); err == nil {
		t.Error("expected error storing a transition with the wrong size")
	}
}

func TestPrioritizedBatchContents(t *testing.T) {
	p := newTestBuffer(t, Config{MaxReplayCapacity: 3, MinReplayCapacity: 1,
		BatchSize: 3, Alpha: 1, Beta: 1, Epsilon: 1e-6})
	for i := 0; i < 5; i++ {
		if err := p.Store(transition(i)); err != nil {
			t.Fatal(err)
		}
	}
	if p.Capacity() != 3 {
		t.Fatalf("capacity: want(3) have(%d)", p.Capacity())
	}

	b, err := p.SampleBatch()
	if err != nil {
		t.Fatal(err)
	}
	if b.Size() != 3 {
		t.Fatalf("batch size: want(3) have(%d)", b.Size())
	}
	for i, index := range b.Indices {
		// Positions 0 and 1 were overwritten by transitions 3 and 4
		stored := map[int]float64{0: 3, 1: 4, 2: 2}[index]
		if b.Reward[i] != stored || b.Action[i] != stored ||
			b.Vision[2*i] != stored || b.NextProprioception[i] != stored+1 {
			t.Errorf("batch row %d does not match stored transition %v", i,
				stored)
		}
		wantDone := 0.0
		if int(stored)%2 == 0 {
			wantDone = 1
		}
		if b.Done[i] != wantDone {
			t.Errorf("done: want(%v) have(%v)", wantDone, b.Done[i])
		}
		if !scalar.EqualWithinAbs(b.Weights[i], 1, 1e-12) {
			t.Errorf("equal priorities should give unit weights but got %v",
				b.Weights[i])
		}
	}
}

func TestPrioritizedUpdatePriorities(t *testing.T) {
	p := newTestBuffer(t, Config{MaxReplayCapacity: 4, MinReplayCapacity: 1,
		BatchSize: 2, Alpha: 1, Beta: 1, Epsilon: 0.5})
	for i := 0; i < 4; i++ {
		if err := p.Store(transition(i)); err != nil {
			t.Fatal(err)
		}
	}

	if err := p.UpdatePriorities([]int{0, 1}, []float64{-2, 0}); err != nil {
		t.Fatal(err)
	}
	if got := p.Priority(0); !scalar.EqualWithinAbs(got, 2.5, 1e-12) {
		t.Errorf("priority of index 0: want(2.5) have(%v)", got)
	}
	if got := p.Priority(1); !scalar.EqualWithinAbs(got, 0.5, 1e-12) {
		t.Errorf("priority of index 1: want(0.5) have(%v)", got)
	}

	// New transitions enter at the maximum priority seen
	if err := p.Store(transition(4)); err != nil {
		t.Fatal(err)
	}
	if got := p.Priority(0); !scalar.EqualWithinAbs(got, 2.5, 1e-12) {
		t.Errorf("new transition priority: want(2.5) have(%v)", got)
	}

	err := p.UpdatePriorities([]int{0}, []float64{math.NaN()})
	if !IsInvalidPriority(err) {
		t.Errorf("expected invalid priority error but got %v", err)
	}
	if err := p.UpdatePriorities([]int{7}, []float64{1}); err == nil {
		t.Error("expected error for out of range index")
	}
}

func TestPrioritizedSamplingFollowsPriorities(t *testing.T) {
	p := newTestBuffer(t, Config{MaxReplayCapacity: 2, MinReplayCapacity: 1,
		BatchSize: 1, Alpha: 1, Beta: 1, Epsilon: 0})
	for i := 0; i < 2; i++ {
		if err := p.Store(transition(i)); err != nil {
			t.Fatal(err)
		}
	}
	if err := p.UpdatePriorities([]int{0, 1}, []float64{9, 1}); err != nil {
		t.Fatal(err)
	}

	counts := make([]int, 2)
	const n = 5000
	for i := 0; i < n; i++ {
		b, err := p.SampleBatch()
		if err != nil {
			t.Fatal(err)
		}
		counts[b.Indices[0]]++
	}
	if frac := float64(counts[0]) / n; math.Abs(frac-0.9) > 0.03 {
		t.Errorf("index 0 sampled with frequency %v but want ~0.9", frac)
	}
}

func TestSumTreeFind(t *testing.T) {
	s := newSumTree(3)
	s.set(0, 1)
	s.set(1, 2)
	s.set(2, 3)

	if s.total() != 6 {
		t.Errorf("total: want(6) have(%v)", s.total())
	}
	tests := []struct {
		mass float64
		want int
	}{{0, 0}, {0.99, 0}, {1, 1}, {2.5, 1}, {3, 2}, {5.99, 2}, {6, 2}}
	for _, test := range tests {
		if got := s.find(test.mass); got != test.want {
			t.Errorf("find(%v): want(%d) have(%d)", test.mass, test.want, got)
		}
	}
}
