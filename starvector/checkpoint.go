package starvector

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// checkpoint ids follow the upstream naming scheme: the namespace is fixed
// and the repository encodes the parameter count and task.
const (
	Namespace = "starvector"
	Task      = "im2svg"
)

var ErrUnknownModelSize = errors.New("unknown model size")

// ModelID maps a model size selector to its checkpoint id, e.g.
// "1b" -> "starvector/starvector-1b-im2svg".
func ModelID(size string) (string, error) {
	switch strings.ToLower(size) {
	case "1b", "8b":
		return fmt.Sprintf("%s/%s-%s-%s", Namespace, Namespace, strings.ToLower(size), Task), nil
	default:
		return "", fmt.Errorf("%w %q (expected \"1b\" or \"8b\")", ErrUnknownModelSize, size)
	}
}

// Checkpoint is a pretrained weight set resolved to a local directory.
type Checkpoint struct {
	ID  string
	Dir string

	// WeightFiles are the weight shards, relative to Dir.
	WeightFiles []string

	// Size is the total weight bytes, used only for logging.
	Size int64
}

// ProcessorConfigPath returns the path of the preprocessing configuration,
// which may not exist; the processor falls back to its defaults then.
func (c *Checkpoint) ProcessorConfigPath() string {
	return filepath.Join(c.Dir, "preprocessor_config.json")
}

// FindCheckpoint locates the checkpoint for id under modelsDir and verifies
// it is complete enough to hand to the engine: a model config and at least
// one weight shard. It never reads the weights; the engine does that.
func FindCheckpoint(modelsDir, id string) (*Checkpoint, error) {
	dir := filepath.Join(modelsDir, filepath.FromSlash(id))
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		return nil, fmt.Errorf("checkpoint %s not found under %s (download it there first)", id, modelsDir)
	}

	if _, err := os.Stat(filepath.Join(dir, "config.json")); err != nil {
		return nil, fmt.Errorf("checkpoint %s is missing config.json: %w", id, err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	c := &Checkpoint{ID: id, Dir: dir}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if !isWeightFile(name) {
			continue
		}

		fi, err := entry.Info()
		if err != nil {
			return nil, err
		}

		c.WeightFiles = append(c.WeightFiles, name)
		c.Size += fi.Size()
	}

	if len(c.WeightFiles) == 0 {
		return nil, fmt.Errorf("checkpoint %s has no weight files in %s", id, dir)
	}

	return c, nil
}

func isWeightFile(name string) bool {
	return strings.HasSuffix(name, ".safetensors") ||
		strings.HasSuffix(name, ".bin") && strings.HasPrefix(name, "pytorch_model")
}
