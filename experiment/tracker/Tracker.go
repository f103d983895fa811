// Package tracker implements Trackers, which track and save data
// during training
package tracker

import (
	"encoding/gob"
	"fmt"
	"os"

	ts "github.com/samuelfneumann/golatent/timestep"
)

// Tracker keeps track of training data and saves the data after
// training has finished
type Tracker interface {
	Track(t ts.TimeStep)
	Save() error
}

// LoadLosses loads and returns the data saved by a Losses Tracker
func LoadLosses(filename string) (map[string]Series, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("loadlosses: could not open data file: %v",
			err)
	}
	defer file.Close()

	dec := gob.NewDecoder(file)
	var data map[string]Series
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("loadlosses: could not decode data: %v", err)
	}
	return data, nil
}
