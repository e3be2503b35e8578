package starvector

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModelID(t *testing.T) {
	cases := map[string]string{
		"1b": "starvector/starvector-1b-im2svg",
		"8b": "starvector/starvector-8b-im2svg",
		"8B": "starvector/starvector-8b-im2svg",
	}

	for size, expect := range cases {
		t.Run(size, func(t *testing.T) {
			id, err := ModelID(size)
			require.NoError(t, err)
			assert.Equal(t, expect, id)
		})
	}

	for _, size := range []string{"", "2b", "70b", "starvector-1b"} {
		t.Run("invalid "+size, func(t *testing.T) {
			_, err := ModelID(size)
			require.ErrorIs(t, err, ErrUnknownModelSize)
		})
	}
}

func writeCheckpoint(t *testing.T, modelsDir, id string, files map[string]int) string {
	t.Helper()

	dir := filepath.Join(modelsDir, filepath.FromSlash(id))
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for name, size := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), make([]byte, size), 0o644))
	}
	return dir
}

func TestFindCheckpoint(t *testing.T) {
	modelsDir := t.TempDir()
	id := "starvector/starvector-1b-im2svg"

	dir := writeCheckpoint(t, modelsDir, id, map[string]int{
		"config.json":                      64,
		"preprocessor_config.json":         64,
		"model-00001-of-00002.safetensors": 1024,
		"model-00002-of-00002.safetensors": 512,
		"tokenizer.json":                   128,
	})

	c, err := FindCheckpoint(modelsDir, id)
	require.NoError(t, err)
	assert.Equal(t, id, c.ID)
	assert.Equal(t, dir, c.Dir)
	assert.ElementsMatch(t, []string{"model-00001-of-00002.safetensors", "model-00002-of-00002.safetensors"}, c.WeightFiles)
	assert.Equal(t, int64(1536), c.Size)
	assert.Equal(t, filepath.Join(dir, "preprocessor_config.json"), c.ProcessorConfigPath())
}

func TestFindCheckpointMissing(t *testing.T) {
	_, err := FindCheckpoint(t.TempDir(), "starvector/starvector-8b-im2svg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestFindCheckpointNoConfig(t *testing.T) {
	modelsDir := t.TempDir()
	id := "starvector/starvector-1b-im2svg"
	writeCheckpoint(t, modelsDir, id, map[string]int{"model.safetensors": 16})

	_, err := FindCheckpoint(modelsDir, id)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config.json")
}

func TestFindCheckpointNoWeights(t *testing.T) {
	modelsDir := t.TempDir()
	id := "starvector/starvector-1b-im2svg"
	writeCheckpoint(t, modelsDir, id, map[string]int{"config.json": 16})

	_, err := FindCheckpoint(modelsDir, id)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no weight files")
}

func TestIsWeightFile(t *testing.T) {
	assert.True(t, isWeightFile("model.safetensors"))
	assert.True(t, isWeightFile("pytorch_model-00001-of-00002.bin"))
	assert.False(t, isWeightFile("config.json"))
	assert.False(t, isWeightFile("training_args.bin"))
}
