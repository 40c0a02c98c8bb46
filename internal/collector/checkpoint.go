package collector

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"eventscope/internal/storage"
)

// Checkpoint records how far a query has scanned, including windows that held
// no events and therefore left the output untouched.
type Checkpoint struct {
	LastScannedBlock uint64 `json:"last_scanned_block"`
	// OutputLastBlock is the last stored block when the checkpoint was taken.
	// A checkpoint whose value no longer matches the output is stale.
	OutputLastBlock *uint64 `json:"output_last_block,omitempty"`
	UpdatedAt       string  `json:"updated_at"`
}

// Matches reports whether the checkpoint was taken against an output whose
// last stored block is lastStored.
func (c Checkpoint) Matches(lastStored *uint64) bool {
	switch {
	case c.OutputLastBlock == nil && lastStored == nil:
		return true
	case c.OutputLastBlock == nil || lastStored == nil:
		return false
	default:
		return *c.OutputLastBlock == *lastStored
	}
}

// CheckpointStore persists a checkpoint next to a query output.
type CheckpointStore struct {
	path string
}

func NewCheckpointStore(path string) *CheckpointStore {
	return &CheckpointStore{path: path}
}

// CheckpointPath returns the checkpoint file of an output file.
func CheckpointPath(outputPath string) string {
	return outputPath + ".checkpoint"
}

func (c *CheckpointStore) Path() string {
	return c.path
}

func (c *CheckpointStore) Load() (Checkpoint, bool, error) {
	stat, err := os.Stat(c.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Checkpoint{}, false, nil
		}
		return Checkpoint{}, false, fmt.Errorf("stat checkpoint: %w", err)
	}
	if stat.IsDir() {
		return Checkpoint{}, false, fmt.Errorf("checkpoint path is a directory")
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("read checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, false, fmt.Errorf("parse checkpoint: %w", err)
	}
	return cp, true, nil
}

func (c *CheckpointStore) Save(lastScanned uint64, outputLast *uint64) error {
	cp := Checkpoint{
		LastScannedBlock: lastScanned,
		OutputLastBlock:  outputLast,
		UpdatedAt:        time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	return storage.WriteFileAtomic(c.path, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}
