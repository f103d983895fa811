package expreplay

// sumTree is a binary tree whose leaves hold priorities and whose
// internal nodes hold the sum of their children, allowing proportional
// sampling and priority updates in O(log n).
type sumTree struct {
	nodes  []float64 // nodes[1] is the root, leaves start at size
	size   int       // number of leaves, a power of two
	leaves int       // number of usable leaves
}

// newSumTree returns a sumTree with n zero-priority leaves
func newSumTree(n int) *sumTree {
	size := 1
	for size < n {
		size *= 2
	}
	return &sumTree{nodes: make([]float64, 2*size), size: size, leaves: n}
}

// set sets the priority of leaf i
func (s *sumTree) set(i int, priority float64) {
	node := i + s.size
	s.nodes[node] = priority
	for node > 1 {
		node /= 2
		s.nodes[node] = s.nodes[2*node] + s.nodes[2*node+1]
	}
}

// get returns the priority of leaf i
func (s *sumTree) get(i int) float64 {
	return s.nodes[i+s.size]
}

// total returns the sum of all priorities
func (s *sumTree) total() float64 {
	return s.nodes[1]
}

// find returns the leaf i such that the cumulative priority of leaves
// before i is <= mass < that cumulative priority plus leaf i's priority
func (s *sumTree) find(mass float64) int {
	node := 1
	for node < s.size {
		left := 2 * node
		if mass < s.nodes[left] {
			node = left
		} else {
			mass -= s.nodes[left]
			node = left + 1
		}
	}

	// Floating point error may walk past the last positive leaf
	i := node - s.size
	for i > 0 && (i >= s.leaves || s.nodes[i+s.size] == 0) {
		i--
	}
	return i
}
