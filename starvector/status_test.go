package starvector

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusWriterCapturesErrors(t *testing.T) {
	devnull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	require.NoError(t, err)
	defer devnull.Close()

	w := NewStatusWriter(devnull)

	_, err = w.Write([]byte("loading checkpoint shard 1/2\n"))
	require.NoError(t, err)
	assert.Empty(t, w.LastErrMsg)

	_, err = w.Write([]byte("RuntimeError: unable to mmap weights\n"))
	require.NoError(t, err)
	assert.Equal(t, "RuntimeError: unable to mmap weights", w.LastErrMsg)

	// later plain output must not clear the captured error
	_, err = w.Write([]byte("shutting down\n"))
	require.NoError(t, err)
	assert.Equal(t, "RuntimeError: unable to mmap weights", w.LastErrMsg)
}
