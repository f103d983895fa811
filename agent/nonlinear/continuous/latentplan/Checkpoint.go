package latentplan

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/samuelfneumann/golatent/network"
	"github.com/sirupsen/logrus"
	"gorgonia.org/tensor"
)

// Keys of the modules stored in a checkpoint
const (
	EmbeddingKey    = "embedding"
	RecognitionKey  = "plan_recognition"
	ProposalKey     = "plan_proposal"
	ActorKey        = "actor"
	TargetActorKey  = "target_actor"
	CriticKey       = "critic"
	TargetCriticKey = "target_critic"
)

// CheckpointKeys lists every key of a checkpoint
var CheckpointKeys = []string{
	EmbeddingKey,
	RecognitionKey,
	ProposalKey,
	ActorKey,
	TargetActorKey,
	CriticKey,
	TargetCriticKey,
}

// ModuleState is the full parameter state of a single module: the
// shape and row-major values of each of its learnables, in learnable
// order
type ModuleState struct {
	Shapes [][]int
	Values [][]float64
}

// Checkpoint maps each checkpoint key to the state of its module
type Checkpoint map[string]ModuleState

// modules returns the canonical module of each checkpoint key
func (t *Trainer) modules() map[string]network.Module {
	return map[string]network.Module{
		EmbeddingKey:    t.pretrain.embedding,
		RecognitionKey:  t.pretrain.recognition,
		ProposalKey:     t.pretrain.proposal,
		ActorKey:        t.pretrain.actor,
		TargetActorKey:  t.target.actor,
		CriticKey:       t.critic.critic,
		TargetCriticKey: t.target.critic,
	}
}

// stateOf returns the ModuleState of a module
func stateOf(m network.Module) ModuleState {
	values := network.Values(m)
	state := ModuleState{
		Shapes: make([][]int, len(values)),
		Values: make([][]float64, len(values)),
	}
	for i, v := range values {
		state.Shapes[i] = []int(v.Shape().Clone())
		state.Values[i] = v.Data().([]float64)
	}
	return state
}

// dense converts a ModuleState to tensors
func (m ModuleState) dense() ([]*tensor.Dense, error) {
	if len(m.Shapes) != len(m.Values) {
		return nil, fmt.Errorf("%d shapes but %d values", len(m.Shapes),
			len(m.Values))
	}
	out := make([]*tensor.Dense, len(m.Values))
	for i := range m.Values {
		size := 1
		for _, dim := range m.Shapes[i] {
			size *= dim
		}
		if size != len(m.Values[i]) || len(m.Shapes[i]) == 0 {
			return nil, fmt.Errorf("parameter %d has shape %v but %d values",
				i, m.Shapes[i], len(m.Values[i]))
		}
		out[i] = tensor.New(
			tensor.WithShape(m.Shapes[i]...),
			tensor.WithBacking(append([]float64(nil), m.Values[i]...)),
		)
	}
	return out, nil
}

// Checkpoint returns the parameter state of all seven modules
func (t *Trainer) Checkpoint() Checkpoint {
	c := make(Checkpoint, len(CheckpointKeys))
	for key, m := range t.modules() {
		c[key] = stateOf(m)
	}
	return c
}

// Restore sets the parameters of all seven modules from a Checkpoint.
// Every key and shape is validated before any parameter is changed, so
// that either all modules are restored or none are. A missing or
// incompatible module results in a *CheckpointError.
func (t *Trainer) Restore(c Checkpoint) error {
	modules := t.modules()
	values := make(map[string][]*tensor.Dense, len(modules))

	for _, key := range CheckpointKeys {
		state, ok := c[key]
		if !ok {
			return &CheckpointError{Key: key, Err: fmt.Errorf("missing key")}
		}
		v, err := state.dense()
		if err != nil {
			return &CheckpointError{Key: key, Err: err}
		}
		if err := network.CheckValues(modules[key], v); err != nil {
			return &CheckpointError{Key: key, Err: err}
		}
		values[key] = v
	}

	for _, key := range CheckpointKeys {
		if err := network.SetValues(modules[key], values[key]); err != nil {
			return &CheckpointError{Key: key, Err: err}
		}
	}
	return nil
}

// GobEncode implements the gob.GobEncoder interface
func (t *Trainer) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(t.Checkpoint()); err != nil {
		return nil, fmt.Errorf("gobencode: %v", err)
	}
	return buf.Bytes(), nil
}

// GobDecode implements the gob.GobDecoder interface. The Trainer must
// already have been constructed with New using a compatible Config.
func (t *Trainer) GobDecode(data []byte) error {
	var c Checkpoint
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&c); err != nil {
		return fmt.Errorf("gobdecode: %v", err)
	}
	return t.Restore(c)
}

// Save saves a checkpoint of the Trainer to a file. The checkpoint is
// written to a temporary file in the same directory, which is then
// renamed, so an existing checkpoint is never left partially written.
func (t *Trainer) Save(filename string) error {
	data, err := t.GobEncode()
	if err != nil {
		return errors.Wrap(err, "save")
	}

	tmp, err := os.CreateTemp(filepath.Dir(filename),
		filepath.Base(filename)+".tmp")
	if err != nil {
		return errors.Wrap(err, "save")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "save")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "save")
	}
	if err := os.Rename(tmp.Name(), filename); err != nil {
		return errors.Wrap(err, "save")
	}

	t.logger.WithField("file", filename).Info("saved checkpoint")
	return nil
}

// Load restores the Trainer from a checkpoint file written by Save
func (t *Trainer) Load(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return errors.Wrap(err, "load")
	}
	if err := t.GobDecode(data); err != nil {
		return errors.Wrapf(err, "load %v", filename)
	}

	t.logger.WithFields(logrus.Fields{
		"file":    filename,
		"modules": len(CheckpointKeys),
	}).Info("loaded checkpoint")
	return nil
}
