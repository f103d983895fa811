package tracker

import (
	"encoding/gob"
	"fmt"
	"os"
	"sort"

	ts "github.com/samuelfneumann/golatent/timestep"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// Series is a sequence of loss values and the training steps they
// were observed on
type Series struct {
	Steps  []int
	Values []float64
}

// Len returns the number of points in the Series
func (s Series) Len() int {
	return len(s.Values)
}

// Losses tracks every loss reported on TimeSteps of a single training
// phase. Each loss is stored as its own Series, keyed by the loss name.
type Losses struct {
	phase    ts.Phase
	series   map[string]Series
	filename string
}

// NewLosses returns a new Losses Tracker which tracks the losses of
// the given phase and saves them to filename
func NewLosses(phase ts.Phase, filename string) *Losses {
	return &Losses{
		phase:    phase,
		series:   make(map[string]Series),
		filename: filename,
	}
}

// Track records the losses of a TimeStep. TimeSteps of other phases are
// ignored.
func (l *Losses) Track(step ts.TimeStep) {
	if step.Phase != l.phase {
		return
	}
	for name, value := range step.Losses {
		s := l.series[name]
		s.Steps = append(s.Steps, step.Number)
		s.Values = append(s.Values, value)
		l.series[name] = s
	}
}

// Series returns the tracked Series of the loss with the given name
func (l *Losses) Series(name string) Series {
	return l.series[name]
}

// Names returns the sorted names of all tracked losses
func (l *Losses) Names() []string {
	names := make([]string, 0, len(l.series))
	for name := range l.series {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Save saves the tracked losses to disk
func (l *Losses) Save() error {
	file, err := os.Create(l.filename)
	if err != nil {
		return fmt.Errorf("save: could not open save file: %v", err)
	}
	defer file.Close()

	enc := gob.NewEncoder(file)
	if err := enc.Encode(l.series); err != nil {
		return fmt.Errorf("save: could not encode losses: %v", err)
	}
	return nil
}

// Plot renders every tracked loss as a line against the training step
// and saves the figure to filename. The image format is taken from the
// file extension.
func (l *Losses) Plot(filename string) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%v Losses", l.phase)
	p.X.Label.Text = "Step"
	p.Y.Label.Text = "Loss"

	for i, name := range l.Names() {
		s := l.series[name]
		pts := make(plotter.XYs, s.Len())
		for j := range pts {
			pts[j].X = float64(s.Steps[j])
			pts[j].Y = s.Values[j]
		}

		line, err := plotter.NewLine(pts)
		if err != nil {
			return fmt.Errorf("plot: could not plot %v: %v", name, err)
		}
		line.Color = plotutil.Color(i)
		p.Add(line)
		p.Legend.Add(name, line)
	}

	if err := p.Save(8*vg.Inch, 5*vg.Inch, filename); err != nil {
		return fmt.Errorf("plot: could not save plot: %v", err)
	}
	return nil
}
