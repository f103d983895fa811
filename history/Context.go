package history

import "fmt"

// Context is the rolling context of an actor between calls: a window of
// per-step actor input features and the embedding of the previous
// action. The zero-value of a Context is not usable; use NewContext.
type Context struct {
	Features       Window
	PrevActionEmbd []float64
}

// NewContext returns a fresh, zero-filled Context
func NewContext(length, featureWidth, actionEmbeddingWidth int) (Context,
	error) {
	w, err := NewWindow(length, featureWidth)
	if err != nil {
		return Context{}, fmt.Errorf("newcontext: %v", err)
	}
	if actionEmbeddingWidth <= 0 {
		return Context{}, fmt.Errorf("newcontext: action embedding width "+
			"must be positive but got %d", actionEmbeddingWidth)
	}
	return Context{
		Features:       w,
		PrevActionEmbd: make([]float64, actionEmbeddingWidth),
	}, nil
}

// Push returns a Context with features appended to the window
func (c Context) Push(features []float64) (Context, error) {
	w, err := c.Features.Push(features)
	if err != nil {
		return c, fmt.Errorf("push: %v", err)
	}
	return Context{Features: w, PrevActionEmbd: c.PrevActionEmbd}, nil
}

// Advance returns a Context which remembers actionEmbedding as the
// embedding of the previous action.
func (c Context) Advance(actionEmbedding []float64) (Context, error) {
	if len(actionEmbedding) != len(c.PrevActionEmbd) {
		return c, fmt.Errorf("advance: invalid action embedding width "+
			"\n\twant(%v)\n\thave(%v)", len(c.PrevActionEmbd),
			len(actionEmbedding))
	}
	embd := make([]float64, len(actionEmbedding))
	copy(embd, actionEmbedding)
	return Context{Features: c.Features, PrevActionEmbd: embd}, nil
}

// Reset returns a zero-filled Context of the same size
func (c Context) Reset() Context {
	return Context{
		Features:       c.Features.Reset(),
		PrevActionEmbd: make([]float64, len(c.PrevActionEmbd)),
	}
}
