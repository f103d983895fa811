package network

import (
	"fmt"

	"github.com/samuelfneumann/golatent/utils/op"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// ConvLayer describes a single convolutional layer with square kernels
// and no padding.
type ConvLayer struct {
	Filters int
	Kernel  int
	Stride  int
}

// outSize returns the spatial output size of the layer for an input of
// the given size
func (c ConvLayer) outSize(in int) int {
	return (in-c.Kernel)/c.Stride + 1
}

// VisionEncoder encodes images of shape (batch, channels, height,
// width) into a flat embedding. Images pass through a stack of ReLU
// convolutions, then a spatial soft-argmax computes the expected image
// coordinate of each feature map, and finally an MLP maps the 2 * C
// coordinates to the embedding.
type VisionEncoder struct {
	filters []*G.Node
	layers  []ConvLayer
	fc      *MLP
	coords  *G.Node // (outH * outW, 2)

	channels, height, width int
	outC, outH, outW        int
	name                    string
}

// NewVisionEncoder adds the parameters of a new VisionEncoder to the
// graph.
func NewVisionEncoder(g *G.ExprGraph, channels, height, width int,
	layers []ConvLayer, hidden []int, outputs int, init G.InitWFn,
	act *Activation, name string) (*VisionEncoder, error) {
	if len(layers) == 0 {
		return nil, fmt.Errorf("newvisionencoder: at least one " +
			"convolutional layer is required")
	}

	filters := make([]*G.Node, len(layers))
	c, h, w := channels, height, width
	for i, layer := range layers {
		if layer.Filters <= 0 || layer.Kernel <= 0 || layer.Stride <= 0 {
			return nil, fmt.Errorf("newvisionencoder: invalid layer %d: %+v",
				i, layer)
		}
		if layer.Kernel > h || layer.Kernel > w {
			return nil, fmt.Errorf("newvisionencoder: kernel of layer %d "+
				"(%d) exceeds its input size (%d, %d)", i, layer.Kernel, h, w)
		}

		filters[i] = G.NewTensor(
			g,
			tensor.Float64,
			4,
			G.WithShape(layer.Filters, c, layer.Kernel, layer.Kernel),
			G.WithName(fmt.Sprintf("%v_conv%d", name, i)),
			G.WithInit(init),
		)
		c, h, w = layer.Filters, layer.outSize(h), layer.outSize(w)
	}

	fc, err := NewMLP(g, 2*c, hidden, outputs, init, act, nil, name+"_head")
	if err != nil {
		return nil, fmt.Errorf("newvisionencoder: %v", err)
	}

	coords := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(h*w, 2),
		G.WithName(name+"_coords"),
		G.WithValue(imageCoords(h, w)),
	)

	return &VisionEncoder{
		filters:  filters,
		layers:   layers,
		fc:       fc,
		coords:   coords,
		channels: channels,
		height:   height,
		width:    width,
		outC:     c,
		outH:     h,
		outW:     w,
		name:     name,
	}, nil
}

// imageCoords returns the normalized (x, y) coordinate of each pixel of
// an h x w feature map in row-major pixel order. Coordinates range over
// [0, 1] along each axis.
func imageCoords(h, w int) *tensor.Dense {
	linspace := func(n, i int) float64 {
		if n == 1 {
			return 0
		}
		return float64(i) / float64(n-1)
	}

	backing := make([]float64, 0, 2*h*w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			backing = append(backing, linspace(w, x), linspace(h, y))
		}
	}
	return tensor.New(tensor.WithShape(h*w, 2), tensor.WithBacking(backing))
}

// Fwd adds the VisionEncoder's forward pass on images im of shape
// (batch, channels, height, width) to the graph. The returned node has
// shape (batch, outputs).
func (v *VisionEncoder) Fwd(im *G.Node) (*G.Node, error) {
	shape := im.Shape()
	if shape.Dims() != 4 || shape[1] != v.channels || shape[2] != v.height ||
		shape[3] != v.width {
		return nil, fmt.Errorf("fwd: vision encoder %v expects images of "+
			"shape (batch, %d, %d, %d) but got %v", v.name, v.channels,
			v.height, v.width, shape)
	}
	batch := shape[0]

	x := im
	for i, layer := range v.layers {
		conv, err := G.Conv2d(
			x,
			v.filters[i],
			tensor.Shape{layer.Kernel, layer.Kernel},
			[]int{0, 0},
			[]int{layer.Stride, layer.Stride},
			[]int{1, 1},
		)
		if err != nil {
			return nil, fmt.Errorf("fwd: conv layer %d: %v", i, err)
		}
		x = G.Must(G.Rectify(conv))
	}

	// Spatial soft-argmax: the expected (x, y) coordinate of each
	// feature map under a softmax over its pixels
	flat, err := G.Reshape(x, tensor.Shape{batch * v.outC, v.outH * v.outW})
	if err != nil {
		return nil, fmt.Errorf("fwd: %v", err)
	}
	softmax, err := op.Softmax(flat)
	if err != nil {
		return nil, fmt.Errorf("fwd: %v", err)
	}
	keypoints := G.Must(G.Mul(softmax, v.coords))
	keypoints = G.Must(G.Reshape(keypoints, tensor.Shape{batch, 2 * v.outC}))

	return v.fc.Fwd(keypoints)
}

// Outputs returns the size of the embedding
func (v *VisionEncoder) Outputs() int {
	return v.fc.Outputs()
}

// Learnables returns the learnable nodes of the VisionEncoder
func (v *VisionEncoder) Learnables() G.Nodes {
	learnables := make(G.Nodes, 0, len(v.filters))
	learnables = append(learnables, v.filters...)
	return append(learnables, v.fc.Learnables()...)
}

// Model returns the learnables with their gradients
func (v *VisionEncoder) Model() []G.ValueGrad {
	return modelOf(v.Learnables())
}
