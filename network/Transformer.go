package network

import (
	"fmt"

	"github.com/samuelfneumann/golatent/utils/op"
	G "gorgonia.org/gorgonia"
)

// feedForward is the position-wise feed forward block of a transformer
// layer
type feedForward struct {
	hidden *Linear
	out    *Linear
}

func newFeedForward(g *G.ExprGraph, dim, hidden int, init G.InitWFn,
	name string) (*feedForward, error) {
	h, err := NewLinear(g, dim, hidden, init, ReLU(), name+"_ff0")
	if err != nil {
		return nil, err
	}
	o, err := NewLinear(g, hidden, dim, init, nil, name+"_ff1")
	if err != nil {
		return nil, err
	}
	return &feedForward{hidden: h, out: o}, nil
}

func (f *feedForward) fwd(x *G.Node) (*G.Node, error) {
	h, err := f.hidden.Fwd(x)
	if err != nil {
		return nil, err
	}
	return f.out.Fwd(h)
}

// residual computes norm(x + y) for each step of two sequences
func residual(norm *LayerNorm, x, y []*G.Node) ([]*G.Node, error) {
	out := make([]*G.Node, len(x))
	for t := range x {
		sum, err := G.Add(x[t], y[t])
		if err != nil {
			return nil, err
		}
		if out[t], err = norm.Fwd(sum); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// EncoderLayer implements a post-norm transformer encoder layer:
// self-attention followed by a feed forward block, each with a residual
// connection and layer normalization.
type EncoderLayer struct {
	attn         *MultiHeadAttention
	ff           *feedForward
	norm1, norm2 *LayerNorm
}

// NewEncoderLayer adds the parameters of a new encoder layer to the
// graph.
func NewEncoderLayer(g *G.ExprGraph, dim, heads, ffHidden int,
	init G.InitWFn, name string) (*EncoderLayer, error) {
	attn, err := NewMultiHeadAttention(g, dim, heads, init, name+"_attn")
	if err != nil {
		return nil, fmt.Errorf("newencoderlayer: %v", err)
	}
	ff, err := newFeedForward(g, dim, ffHidden, init, name)
	if err != nil {
		return nil, fmt.Errorf("newencoderlayer: %v", err)
	}
	return &EncoderLayer{
		attn:  attn,
		ff:    ff,
		norm1: NewLayerNorm(g, dim, name+"_ln1"),
		norm2: NewLayerNorm(g, dim, name+"_ln2"),
	}, nil
}

// Fwd adds the encoder layer over seq to the graph
func (e *EncoderLayer) Fwd(seq []*G.Node) ([]*G.Node, error) {
	attended, err := e.attn.Attend(seq, seq)
	if err != nil {
		return nil, fmt.Errorf("fwd: %v", err)
	}
	x, err := residual(e.norm1, seq, attended)
	if err != nil {
		return nil, fmt.Errorf("fwd: %v", err)
	}

	ff := make([]*G.Node, len(x))
	for t := range x {
		if ff[t], err = e.ff.fwd(x[t]); err != nil {
			return nil, fmt.Errorf("fwd: %v", err)
		}
	}
	return residual(e.norm2, x, ff)
}

// Learnables returns the learnable nodes of the layer
func (e *EncoderLayer) Learnables() G.Nodes {
	return Modules{e.attn, e.ff.hidden, e.ff.out, e.norm1,
		e.norm2}.Learnables()
}

// Model returns the learnables of the layer with their gradients
func (e *EncoderLayer) Model() []G.ValueGrad {
	return modelOf(e.Learnables())
}

// DecoderLayer implements a post-norm transformer decoder layer:
// self-attention over the target sequence, cross-attention from the
// target sequence to an encoded memory, and a feed forward block.
type DecoderLayer struct {
	self, cross         *MultiHeadAttention
	ff                  *feedForward
	norm1, norm2, norm3 *LayerNorm
}

// NewDecoderLayer adds the parameters of a new decoder layer to the
// graph.
func NewDecoderLayer(g *G.ExprGraph, dim, heads, ffHidden int,
	init G.InitWFn, name string) (*DecoderLayer, error) {
	self, err := NewMultiHeadAttention(g, dim, heads, init, name+"_self")
	if err != nil {
		return nil, fmt.Errorf("newdecoderlayer: %v", err)
	}
	cross, err := NewMultiHeadAttention(g, dim, heads, init, name+"_cross")
	if err != nil {
		return nil, fmt.Errorf("newdecoderlayer: %v", err)
	}
	ff, err := newFeedForward(g, dim, ffHidden, init, name)
	if err != nil {
		return nil, fmt.Errorf("newdecoderlayer: %v", err)
	}
	return &DecoderLayer{
		self:  self,
		cross: cross,
		ff:    ff,
		norm1: NewLayerNorm(g, dim, name+"_ln1"),
		norm2: NewLayerNorm(g, dim, name+"_ln2"),
		norm3: NewLayerNorm(g, dim, name+"_ln3"),
	}, nil
}

// Fwd adds the decoder layer over the target sequence attending to
// memory to the graph
func (d *DecoderLayer) Fwd(target, memory []*G.Node) ([]*G.Node, error) {
	attended, err := d.self.Attend(target, target)
	if err != nil {
		return nil, fmt.Errorf("fwd: %v", err)
	}
	x, err := residual(d.norm1, target, attended)
	if err != nil {
		return nil, fmt.Errorf("fwd: %v", err)
	}

	crossed, err := d.cross.Attend(x, memory)
	if err != nil {
		return nil, fmt.Errorf("fwd: %v", err)
	}
	x, err = residual(d.norm2, x, crossed)
	if err != nil {
		return nil, fmt.Errorf("fwd: %v", err)
	}

	ff := make([]*G.Node, len(x))
	for t := range x {
		if ff[t], err = d.ff.fwd(x[t]); err != nil {
			return nil, fmt.Errorf("fwd: %v", err)
		}
	}
	return residual(d.norm3, x, ff)
}

// Learnables returns the learnable nodes of the layer
func (d *DecoderLayer) Learnables() G.Nodes {
	return Modules{d.self, d.cross, d.ff.hidden, d.ff.out, d.norm1,
		d.norm2, d.norm3}.Learnables()
}

// Model returns the learnables of the layer with their gradients
func (d *DecoderLayer) Model() []G.ValueGrad {
	return modelOf(d.Learnables())
}

// Transformer is a Backbone that projects each step of a sequence to
// the model dimension, adds a learned positional embedding, encodes the
// sequence with self-attention, and decodes it with cross-attention to
// the encoded memory. Only the final step of the decoder output is
// returned.
type Transformer struct {
	input     *Linear
	positions *G.Node // (maxLen, dim)
	encoder   *EncoderLayer
	decoder   *DecoderLayer

	inputs int
	dim    int
	maxLen int
}

// NewTransformer adds the parameters of a new Transformer backbone to
// the graph. The backbone accepts sequences of at most maxLen steps of
// (batch, inputs) nodes.
func NewTransformer(g *G.ExprGraph, inputs, dim, heads, ffHidden,
	maxLen int, init G.InitWFn, name string) (*Transformer, error) {
	if maxLen <= 0 {
		return nil, fmt.Errorf("newtransformer: maximum sequence length "+
			"must be positive but got %d", maxLen)
	}
	input, err := NewLinear(g, inputs, dim, init, nil, name+"_in")
	if err != nil {
		return nil, fmt.Errorf("newtransformer: %v", err)
	}
	encoder, err := NewEncoderLayer(g, dim, heads, ffHidden, init,
		name+"_enc")
	if err != nil {
		return nil, fmt.Errorf("newtransformer: %v", err)
	}
	decoder, err := NewDecoderLayer(g, dim, heads, ffHidden, init,
		name+"_dec")
	if err != nil {
		return nil, fmt.Errorf("newtransformer: %v", err)
	}
	positions := newWeights(g, name+"_pos", G.Gaussian(0, 0.02), maxLen, dim)

	return &Transformer{
		input:     input,
		positions: positions,
		encoder:   encoder,
		decoder:   decoder,
		inputs:    inputs,
		dim:       dim,
		maxLen:    maxLen,
	}, nil
}

// Encode adds the Transformer over seq to the graph and returns the
// decoder output at the final step, of shape (batch, dim).
func (t *Transformer) Encode(seq []*G.Node) (*G.Node, error) {
	if err := checkSequence(seq, t.inputs); err != nil {
		return nil, fmt.Errorf("encode: %v", err)
	}
	if len(seq) > t.maxLen {
		return nil, fmt.Errorf("encode: sequence of length %d exceeds "+
			"maximum length %d", len(seq), t.maxLen)
	}

	embedded := make([]*G.Node, len(seq))
	for i, x := range seq {
		proj, err := t.input.Fwd(x)
		if err != nil {
			return nil, fmt.Errorf("encode: %v", err)
		}
		pos, err := op.Rows(t.positions, i, i+1)
		if err != nil {
			return nil, fmt.Errorf("encode: %v", err)
		}
		embedded[i] = G.Must(G.BroadcastAdd(proj, pos, nil, []byte{0}))
	}

	memory, err := t.encoder.Fwd(embedded)
	if err != nil {
		return nil, fmt.Errorf("encode: %v", err)
	}
	decoded, err := t.decoder.Fwd(embedded, memory)
	if err != nil {
		return nil, fmt.Errorf("encode: %v", err)
	}
	return decoded[len(decoded)-1], nil
}

// OutputSize returns the number of features output by Encode
func (t *Transformer) OutputSize() int {
	return t.dim
}

// Learnables returns the learnable nodes of the Transformer
func (t *Transformer) Learnables() G.Nodes {
	learnables := t.input.Learnables()
	learnables = append(learnables, t.positions)
	learnables = append(learnables, t.encoder.Learnables()...)
	return append(learnables, t.decoder.Learnables()...)
}

// Model returns the learnables of the Transformer with their gradients
func (t *Transformer) Model() []G.ValueGrad {
	return modelOf(t.Learnables())
}
