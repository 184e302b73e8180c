package main

import (
	"encoding/gob"
	"fmt"
	"os"
)

// Snapshot is a self-contained copy of a dense field's parameters together
// with the architecture needed to restore them. It is the only persistent
// artifact of a training run: written whenever the validation loss improves,
// overwritten in place, read back once before evaluation.
type Snapshot struct {
	Dim     int
	Width   int
	Depth   int
	Weights [][]float64
	Biases  [][]float64
}

// Save writes the snapshot as gob, replacing any previous file atomically
// via a rename so a crash mid-write cannot lose the last good checkpoint.
func (s *Snapshot) Save(path string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	if err := gob.NewEncoder(f).Encode(s); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("checkpoint: encode: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("checkpoint: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	return nil
}

// LoadSnapshot reads a snapshot written by Save.
func LoadSnapshot(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: %w", err)
	}
	defer f.Close()

	var s Snapshot
	if err := gob.NewDecoder(f).Decode(&s); err != nil {
		return nil, fmt.Errorf("checkpoint: decode: %w", err)
	}
	return &s, nil
}
