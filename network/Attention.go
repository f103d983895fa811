package network

import (
	"fmt"
	"math"

	"github.com/samuelfneumann/golatent/utils/op"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

const layerNormEpsilon = 1e-5

// LayerNorm implements layer normalization over the feature dimension
// with a learned gain and bias.
type LayerNorm struct {
	gain *G.Node
	bias *G.Node
	size int
}

// NewLayerNorm adds the parameters of a new layer normalization layer
// to the graph.
func NewLayerNorm(g *G.ExprGraph, size int, name string) *LayerNorm {
	gain := G.NewMatrix(g, tensor.Float64, G.WithShape(1, size),
		G.WithName(name+"_gain"), G.WithInit(G.Ones()))
	bias := G.NewMatrix(g, tensor.Float64, G.WithShape(1, size),
		G.WithName(name+"_bias"), G.WithInit(G.Zeroes()))

	return &LayerNorm{gain: gain, bias: bias, size: size}
}

// Fwd adds layer normalization of x, of shape (batch, size), to the
// graph.
func (l *LayerNorm) Fwd(x *G.Node) (*G.Node, error) {
	if !x.IsMatrix() || x.Shape()[1] != l.size {
		return nil, fmt.Errorf("fwd: layer norm expects (batch, %d) input "+
			"but got %v", l.size, x.Shape())
	}

	mean := G.Must(G.Mean(x, 1))
	centred := G.Must(G.BroadcastSub(x, mean, nil, []byte{1}))

	variance := G.Must(G.Mean(G.Must(G.Square(centred)), 1))
	variance = G.Must(G.Add(variance, G.NewConstant(layerNormEpsilon)))
	std := G.Must(G.Sqrt(variance))

	out := G.Must(G.BroadcastHadamardDiv(centred, std, nil, []byte{1}))
	out = G.Must(G.BroadcastHadamardProd(out, l.gain, nil, []byte{0}))
	return G.BroadcastAdd(out, l.bias, nil, []byte{0})
}

// Learnables returns the gain and bias of the layer
func (l *LayerNorm) Learnables() G.Nodes {
	return G.Nodes{l.gain, l.bias}
}

// Model returns the learnables of the layer with their gradients
func (l *LayerNorm) Model() []G.ValueGrad {
	return modelOf(l.Learnables())
}

// MultiHeadAttention implements scaled dot-product attention with
// multiple heads over sequences of (batch, dim) step nodes.
type MultiHeadAttention struct {
	query, key, value, out *Linear
	heads                  int
	dim                    int
}

// NewMultiHeadAttention adds the parameters of a new multi-head
// attention layer over features of size dim to the graph. The number
// of heads must divide dim.
func NewMultiHeadAttention(g *G.ExprGraph, dim, heads int, init G.InitWFn,
	name string) (*MultiHeadAttention, error) {
	if heads <= 0 || dim%heads != 0 {
		return nil, fmt.Errorf("newmultiheadattention: %d heads do not "+
			"divide model dimension %d", heads, dim)
	}

	var layers [4]*Linear
	for i, suffix := range []string{"q", "k", "v", "o"} {
		l, err := NewLinear(g, dim, dim, init, nil, name+"_"+suffix)
		if err != nil {
			return nil, fmt.Errorf("newmultiheadattention: %v", err)
		}
		layers[i] = l
	}

	return &MultiHeadAttention{
		query: layers[0],
		key:   layers[1],
		value: layers[2],
		out:   layers[3],
		heads: heads,
		dim:   dim,
	}, nil
}

// project applies a linear projection to every step of a sequence
func project(l *Linear, seq []*G.Node) ([]*G.Node, error) {
	out := make([]*G.Node, len(seq))
	for t, x := range seq {
		var err error
		if out[t], err = l.Fwd(x); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Attend adds attention of each query step over all memory steps to
// the graph, returning one (batch, dim) output per query step.
func (m *MultiHeadAttention) Attend(queries, memory []*G.Node) ([]*G.Node,
	error) {
	if err := checkSequence(queries, m.dim); err != nil {
		return nil, fmt.Errorf("attend: queries: %v", err)
	}
	if err := checkSequence(memory, m.dim); err != nil {
		return nil, fmt.Errorf("attend: memory: %v", err)
	}

	q, err := project(m.query, queries)
	if err != nil {
		return nil, fmt.Errorf("attend: %v", err)
	}
	k, err := project(m.key, memory)
	if err != nil {
		return nil, fmt.Errorf("attend: %v", err)
	}
	v, err := project(m.value, memory)
	if err != nil {
		return nil, fmt.Errorf("attend: %v", err)
	}

	headDim := m.dim / m.heads
	scale := G.NewConstant(1 / math.Sqrt(float64(headDim)))
	batch := queries[0].Shape()[0]

	outputs := make([]*G.Node, len(queries))
	for t := range queries {
		heads := make([]*G.Node, m.heads)
		for h := 0; h < m.heads; h++ {
			start, end := h*headDim, (h+1)*headDim
			qh := G.Must(op.Columns(q[t], start, end))

			// Attention logits of query t over every memory step
			scores := make([]*G.Node, len(memory))
			for s := range memory {
				kh := G.Must(op.Columns(k[s], start, end))
				score := G.Must(G.Sum(G.Must(G.HadamardProd(qh, kh)), 1))
				score = G.Must(G.HadamardProd(score, scale))
				scores[s] = G.Must(G.Reshape(score, tensor.Shape{batch, 1}))
			}
			logits, err := op.ConcatFeatures(scores...)
			if err != nil {
				return nil, fmt.Errorf("attend: %v", err)
			}
			weights := G.Must(op.Softmax(logits))

			// Weighted sum of the values
			var head *G.Node
			for s := range memory {
				vh := G.Must(op.Columns(v[s], start, end))
				w := G.Must(op.Columns(weights, s, s+1))
				weighted := G.Must(G.BroadcastHadamardProd(vh, w, nil,
					[]byte{1}))
				if head == nil {
					head = weighted
				} else {
					head = G.Must(G.Add(head, weighted))
				}
			}
			heads[h] = head
		}

		concat, err := op.ConcatFeatures(heads...)
		if err != nil {
			return nil, fmt.Errorf("attend: %v", err)
		}
		if outputs[t], err = m.out.Fwd(concat); err != nil {
			return nil, fmt.Errorf("attend: %v", err)
		}
	}
	return outputs, nil
}

// Learnables returns the learnable nodes of the layer
func (m *MultiHeadAttention) Learnables() G.Nodes {
	return Modules{m.query, m.key, m.value, m.out}.Learnables()
}

// Model returns the learnables of the layer with their gradients
func (m *MultiHeadAttention) Model() []G.ValueGrad {
	return modelOf(m.Learnables())
}
