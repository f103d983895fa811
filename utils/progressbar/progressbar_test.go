package progressbar

import (
	"bytes"
	"strings"
	"testing"
)

func TestProgressBar(t *testing.T) {
	var out bytes.Buffer
	p := New(&out, 10, 4)

	for i := 0; i < 6; i++ {
		p.Increment()
	}
	if p.Fraction() != 1 {
		t.Errorf("Fraction() = %v after overshooting, want 1", p.Fraction())
	}

	p = New(&out, 10, 4)
	p.Increment()
	p.SetStatus("loss: %.1f", 0.5)
	want := "|" + strings.Repeat("█", 2) + strings.Repeat(" ", 8) +
		"| [25.00%] loss: 0.5"
	if got := p.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}

	p.Display()
	p.Close()
	if !strings.Contains(out.String(), want) {
		t.Errorf("output %q does not contain the bar", out.String())
	}
}
