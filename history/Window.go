// Package history implements fixed-length rolling histories. Every
// history is an immutable value: pushing returns a new history with the
// oldest entry dropped, so callers own episode boundaries explicitly.
package history

import (
	"fmt"
)

// Window is a fixed-length sliding window of equal-width []float64
// entries, ordered from oldest to newest. A new Window is filled with
// zeros.
type Window struct {
	entries [][]float64
	width   int
}

// NewWindow returns a zero-filled Window holding length entries of the
// given width.
func NewWindow(length, width int) (Window, error) {
	if length <= 0 || width <= 0 {
		return Window{}, fmt.Errorf("newwindow: length and width must be "+
			"positive but got (%d, %d)", length, width)
	}
	entries := make([][]float64, length)
	for i := range entries {
		entries[i] = make([]float64, width)
	}
	return Window{entries: entries, width: width}, nil
}

// Push returns a new Window with the oldest entry dropped and a copy of
// v appended as the newest entry. The receiver is unchanged.
func (w Window) Push(v []float64) (Window, error) {
	if len(v) != w.width {
		return w, fmt.Errorf("push: invalid entry width \n\twant(%v)"+
			"\n\thave(%v)", w.width, len(v))
	}
	newest := make([]float64, len(v))
	copy(newest, v)

	// Entries are never mutated, so the shifted window may share them
	entries := make([][]float64, len(w.entries))
	copy(entries, w.entries[1:])
	entries[len(entries)-1] = newest

	return Window{entries: entries, width: w.width}, nil
}

// At returns a copy of the entry at position i, where 0 is the oldest
func (w Window) At(i int) []float64 {
	out := make([]float64, w.width)
	copy(out, w.entries[i])
	return out
}

// Len returns the number of entries in the Window, which never changes
func (w Window) Len() int {
	return len(w.entries)
}

// Width returns the number of features in each entry
func (w Window) Width() int {
	return w.width
}

// Flatten returns all entries concatenated from oldest to newest
func (w Window) Flatten() []float64 {
	out := make([]float64, 0, len(w.entries)*w.width)
	for _, e := range w.entries {
		out = append(out, e...)
	}
	return out
}

// Reset returns a zero-filled Window of the same size
func (w Window) Reset() Window {
	reset, _ := NewWindow(w.Len(), w.width)
	return reset
}
