package tracker

import (
	"path/filepath"
	"testing"

	ts "github.com/samuelfneumann/golatent/timestep"
)

func TestLosses(t *testing.T) {
	dir := t.TempDir()
	l := NewLosses(ts.FineTune, filepath.Join(dir, "losses.bin"))

	for i := 1; i <= 3; i++ {
		l.Track(ts.New(ts.FineTune, i, map[string]float64{
			"critic": float64(i),
			"actor":  -float64(i),
		}))
		l.Track(ts.New(ts.PreTrain, i, map[string]float64{"loss": 1}))
	}

	names := l.Names()
	if len(names) != 2 || names[0] != "actor" || names[1] != "critic" {
		t.Fatalf("Names() = %v, want [actor critic]", names)
	}
	critic := l.Series("critic")
	if critic.Len() != 3 || critic.Steps[2] != 3 || critic.Values[2] != 3 {
		t.Errorf("critic series = %+v", critic)
	}

	if err := l.Save(); err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadLosses(filepath.Join(dir, "losses.bin"))
	if err != nil {
		t.Fatal(err)
	}
	if got := loaded["actor"]; got.Len() != 3 || got.Values[0] != -1 {
		t.Errorf("loaded actor series = %+v", got)
	}

	if err := l.Plot(filepath.Join(dir, "losses.png")); err != nil {
		t.Error(err)
	}
}

func TestLoadLossesMissingFile(t *testing.T) {
	if _, err := LoadLosses(filepath.Join(t.TempDir(), "none.bin")); err == nil {
		t.Error("expected an error for a missing file")
	}
}
