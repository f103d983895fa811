package history

import (
	"fmt"

	G "gorgonia.org/gorgonia"
)

// NodeWindow is a fixed-length sliding window of graph nodes, used to
// give sequence models a rolling context while a computational graph is
// being unrolled.
type NodeWindow struct {
	nodes []*G.Node
}

// NewNodeWindow returns a NodeWindow of the given length with every
// position holding fill.
func NewNodeWindow(fill *G.Node, length int) (NodeWindow, error) {
	if length <= 0 {
		return NodeWindow{}, fmt.Errorf("newnodewindow: length must be "+
			"positive but got %d", length)
	}
	if fill == nil {
		return NodeWindow{}, fmt.Errorf("newnodewindow: nil fill node")
	}
	nodes := make([]*G.Node, length)
	for i := range nodes {
		nodes[i] = fill
	}
	return NodeWindow{nodes: nodes}, nil
}

// Push returns a new NodeWindow with the oldest node dropped and n
// appended. The receiver is unchanged.
func (w NodeWindow) Push(n *G.Node) (NodeWindow, error) {
	if !n.Shape().Eq(w.nodes[0].Shape()) {
		return w, fmt.Errorf("push: node %v has shape %v but window holds "+
			"shape %v", n.Name(), n.Shape(), w.nodes[0].Shape())
	}
	nodes := make([]*G.Node, len(w.nodes))
	copy(nodes, w.nodes[1:])
	nodes[len(nodes)-1] = n
	return NodeWindow{nodes: nodes}, nil
}

// Nodes returns the nodes of the window from oldest to newest
func (w NodeWindow) Nodes() []*G.Node {
	out := make([]*G.Node, len(w.nodes))
	copy(out, w.nodes)
	return out
}

// Len returns the number of nodes in the window
func (w NodeWindow) Len() int {
	return len(w.nodes)
}
