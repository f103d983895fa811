package expreplay

import (
	"fmt"
	"math"
	"sync"

	"github.com/samuelfneumann/golatent/timestep"
	"github.com/samuelfneumann/golatent/utils/floatutils"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// Prioritized implements a proportional prioritized experience replay
// buffer. Transitions are stored in flat, circular caches and removed
// in a FiFo manner once the buffer is full. Transition i is sampled
// with probability p_i^α / Σ_k p_k^α where p_i = |δ_i| + ε, and new
// transitions enter with the largest priority seen so far.
type Prioritized struct {
	wait             sync.WaitGroup // Guards the batch copies
	visionCache      []float64
	proprioCache     []float64
	nextVisionCache  []float64
	nextProprioCache []float64
	actionCache      []float64
	rewardCache      []float64
	doneCache        []float64

	priorities  *sumTree
	maxPriority float64
	rng         rand.Source

	currentInUsePos int
	isFull          bool

	alpha, beta, eps float64

	minCapacity int
	maxCapacity int
	batchSize   int
	visionSize  int
	proprioSize int
	actionSize  int
}

// NewPrioritized returns a new Prioritized buffer storing transitions
// with the given vision, proprioception, and action sizes.
func NewPrioritized(c Config, visionSize, proprioSize, actionSize int,
	src rand.Source) (*Prioritized, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("newprioritized: %v", err)
	}
	if visionSize <= 0 || proprioSize <= 0 || actionSize <= 0 {
		return nil, fmt.Errorf("newprioritized: sizes must be positive")
	}

	n := c.MaxReplayCapacity
	return &Prioritized{
		visionCache:      make([]float64, n*visionSize),
		proprioCache:     make([]float64, n*proprioSize),
		nextVisionCache:  make([]float64, n*visionSize),
		nextProprioCache: make([]float64, n*proprioSize),
		actionCache:      make([]float64, n*actionSize),
		rewardCache:      make([]float64, n),
		doneCache:        make([]float64, n),

		priorities:  newSumTree(n),
		maxPriority: 1.0,
		rng:         src,

		alpha: c.Alpha,
		beta:  c.Beta,
		eps:   c.Epsilon,

		minCapacity: c.MinReplayCapacity,
		maxCapacity: n,
		batchSize:   c.BatchSize,
		visionSize:  visionSize,
		proprioSize: proprioSize,
		actionSize:  actionSize,
	}, nil
}

// String returns the string representation of the buffer
func (p *Prioritized) String() string {
	return fmt.Sprintf("Prioritized | Capacity: %v/%v  |  Batch Size: %v  "+
		"|  Max Priority: %.4f", p.Capacity(), p.MaxCapacity(), p.BatchSize(),
		p.maxPriority)
}

// BatchSize returns the number of samples sampled using SampleBatch()
func (p *Prioritized) BatchSize() int {
	return p.batchSize
}

// Capacity returns the current number of elements in the buffer that
// are available for sampling
func (p *Prioritized) Capacity() int {
	if p.isFull {
		return p.MaxCapacity()
	}
	return p.currentInUsePos
}

// MaxCapacity returns the maximum number of elements that are allowed
// in the buffer
func (p *Prioritized) MaxCapacity() int {
	return p.maxCapacity
}

// MinCapacity returns the minimum number of elements required in the
// buffer before sampling is allowed
func (p *Prioritized) MinCapacity() int {
	return p.minCapacity
}

// Store adds a transition to the buffer, overwriting the oldest
// transition if the buffer is full
func (p *Prioritized) Store(t timestep.Transition) error {
	if err := t.Validate(p.visionSize, p.proprioSize, p.actionSize); err != nil {
		return fmt.Errorf("store: %v", err)
	}

	index := p.currentInUsePos
	if !p.isFull && index+1 == p.MaxCapacity() {
		p.isFull = true
	}

	visionInd := index * p.visionSize
	copyInto(p.visionCache, visionInd, visionInd+p.visionSize, t.Vision)
	copyInto(p.nextVisionCache, visionInd, visionInd+p.visionSize,
		t.NextVision)

	proprioInd := index * p.proprioSize
	copyInto(p.proprioCache, proprioInd, proprioInd+p.proprioSize,
		t.Proprioception)
	copyInto(p.nextProprioCache, proprioInd, proprioInd+p.proprioSize,
		t.NextProprioception)

	actionInd := index * p.actionSize
	copyInto(p.actionCache, actionInd, actionInd+p.actionSize, t.Action)

	p.rewardCache[index] = t.Reward
	p.doneCache[index] = t.DoneMask()
	p.priorities.set(index, math.Pow(p.maxPriority, p.alpha))

	p.currentInUsePos = (p.currentInUsePos + 1) % p.MaxCapacity()
	return nil
}

// sampleIndices draws batchSize buffer positions by stratified
// proportional sampling: the total priority mass is split into
// batchSize equal segments and one position is drawn from each.
func (p *Prioritized) sampleIndices() []int {
	total := p.priorities.total()
	segment := total / float64(p.batchSize)

	indices := make([]int, p.batchSize)
	for i := range indices {
		u := distuv.Uniform{
			Min: segment * float64(i),
			Max: segment * float64(i+1),
			Src: p.rng,
		}
		indices[i] = p.priorities.find(u.Rand())
	}
	return indices
}

// SampleBatch samples and returns a batch of transitions from the
// replay buffer together with their importance sampling weights,
// normalized so that the largest weight in the batch is 1.
func (p *Prioritized) SampleBatch() (Batch, error) {
	if p.Capacity() == 0 {
		return Batch{}, &ExpReplayError{Op: "sample", Err: errEmptyCache}
	}
	if p.Capacity() < p.MinCapacity() {
		return Batch{}, &ExpReplayError{Op: "sample",
			Err: errInsufficientSamples}
	}

	indices := p.sampleIndices()
	b := Batch{
		Vision:             make([]float64, p.batchSize*p.visionSize),
		NextVision:         make([]float64, p.batchSize*p.visionSize),
		Proprioception:     make([]float64, p.batchSize*p.proprioSize),
		NextProprioception: make([]float64, p.batchSize*p.proprioSize),
		Action:             make([]float64, p.batchSize*p.actionSize),
		Reward:             make([]float64, p.batchSize),
		Done:               make([]float64, p.batchSize),
		Weights:            make([]float64, p.batchSize),
		Indices:            indices,
	}

	// Fill the batches, one goroutine per cache
	gather := func(dst, cache []float64, size int) {
		for i, index := range indices {
			copyInto(dst, i*size, (i+1)*size,
				cache[index*size:(index+1)*size])
		}
		p.wait.Done()
	}
	p.wait.Add(5)
	go gather(b.Vision, p.visionCache, p.visionSize)
	go gather(b.NextVision, p.nextVisionCache, p.visionSize)
	go gather(b.Proprioception, p.proprioCache, p.proprioSize)
	go gather(b.NextProprioception, p.nextProprioCache, p.proprioSize)
	go gather(b.Action, p.actionCache, p.actionSize)

	total := p.priorities.total()
	n := float64(p.Capacity())
	maxWeight := 0.0
	for i, index := range indices {
		b.Reward[i] = p.rewardCache[index]
		b.Done[i] = p.doneCache[index]

		if total > 0 {
			prob := p.priorities.get(index) / total
			b.Weights[i] = math.Pow(n*prob, -p.beta)
		} else {
			b.Weights[i] = 1
		}
		maxWeight = math.Max(maxWeight, b.Weights[i])
	}
	for i := range b.Weights {
		b.Weights[i] /= maxWeight
	}

	p.wait.Wait()
	return b, nil
}

// UpdatePriorities sets the priority of the transition at each index
// to |tdError| + ε
func (p *Prioritized) UpdatePriorities(indices []int,
	tdErrors []float64) error {
	if len(indices) != len(tdErrors) {
		return fmt.Errorf("updatepriorities: %d indices but %d TD errors",
			len(indices), len(tdErrors))
	}
	for i, index := range indices {
		if index < 0 || index >= p.Capacity() {
			return fmt.Errorf("updatepriorities: index %d out of range "+
				"[0, %d)", index, p.Capacity())
		}
		if !floatutils.IsFinite(tdErrors[i]) {
			return &ExpReplayError{Op: "updatepriorities",
				Err: errInvalidPriority}
		}
	}

	for i, index := range indices {
		priority := math.Abs(tdErrors[i]) + p.eps
		p.maxPriority = math.Max(p.maxPriority, priority)
		p.priorities.set(index, math.Pow(priority, p.alpha))
	}
	return nil
}

// Priority returns the priority |δ| + ε raised to α of the transition at
// the given index
func (p *Prioritized) Priority(index int) float64 {
	return p.priorities.get(index)
}
