// Package progressbar implements functionality of printing a progress
// bar to the terminal window
package progressbar

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// ProgressBar implements a progress bar that must be manually
// managed: Display must be called whenever an updated progress bar
// should be printed. Each Display redraws the bar in place on the
// current line of the output.
//
// ProgressBar does not use concurrency.
type ProgressBar struct {
	out         io.Writer
	width       int
	maxProgress int
	progress    int
	status      string
	startTime   time.Time
	bar         strings.Builder
}

// New returns a new ProgressBar which is width characters wide,
// reaches 100% after max calls to Increment, and prints to out.
func New(out io.Writer, width, max int) *ProgressBar {
	if max <= 0 {
		max = 1
	}
	return &ProgressBar{
		out:         out,
		width:       width,
		maxProgress: max,
		startTime:   time.Now(),
	}
}

// Increment increments the internal progress counter. Each time an
// iteration is performed, Increment should be called.
func (p *ProgressBar) Increment() {
	if p.progress < p.maxProgress {
		p.progress++
	}
}

// SetStatus sets a short status message printed after the bar, such as
// the most recent loss
func (p *ProgressBar) SetStatus(format string, args ...interface{}) {
	p.status = fmt.Sprintf(format, args...)
}

// Fraction returns the completed fraction of the progress bar
func (p *ProgressBar) Fraction() float64 {
	return float64(p.progress) / float64(p.maxProgress)
}

// String returns the current progress bar without the elapsed time
func (p *ProgressBar) String() string {
	filled := p.progress * p.width / p.maxProgress

	p.bar.Reset()
	p.bar.WriteString("|")
	p.bar.WriteString(strings.Repeat("█", filled))
	p.bar.WriteString(strings.Repeat(" ", p.width-filled))
	fmt.Fprintf(&p.bar, "| [%.2f%%]", 100*p.Fraction())
	if p.status != "" {
		fmt.Fprintf(&p.bar, " %v", p.status)
	}
	return p.bar.String()
}

// Display prints the progress bar, replacing the previously printed
// progress bar
func (p *ProgressBar) Display() {
	elapsed := time.Since(p.startTime).Truncate(time.Second)
	fmt.Fprintf(p.out, "\r\033[K%v [elapsed: %v]", p.String(), elapsed)
}

// Close ends the line of the progress bar
func (p *ProgressBar) Close() {
	fmt.Fprintln(p.out)
}
