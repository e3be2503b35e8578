package starvector

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	requests []EngineRequest
	svg      string
	err      error

	started chan struct{} // closed when Generate is entered, if non-nil
	release chan struct{} // Generate blocks on this, if non-nil
}

func (f *fakeEngine) Generate(ctx context.Context, req EngineRequest) (string, error) {
	f.requests = append(f.requests, req)
	if f.started != nil {
		close(f.started)
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.svg, f.err
}

func (f *fakeEngine) Close() error { return nil }

func testImage(t *testing.T) string {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 16, 16))))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestGenerateDefaults(t *testing.T) {
	engine := &fakeEngine{svg: "<svg/>"}
	m := NewStubModel("starvector/starvector-1b-im2svg", engine)

	svg, err := m.Generate(context.Background(), testImage(t), GenerateOptions{Temperature: DefaultTemperature})
	require.NoError(t, err)
	assert.Equal(t, "<svg/>", svg)

	require.Len(t, engine.requests, 1)
	req := engine.requests[0]
	assert.Equal(t, DefaultMaxTokens, req.MaxLength)
	assert.True(t, req.DoSample)
	assert.Equal(t, []int{3, 224, 224}, req.Shape)
}

func TestGenerateValidation(t *testing.T) {
	engine := &fakeEngine{}
	m := NewStubModel("starvector/starvector-1b-im2svg", engine)

	_, err := m.Generate(context.Background(), testImage(t), GenerateOptions{MaxTokens: -5})
	require.Error(t, err)

	_, err = m.Generate(context.Background(), testImage(t), GenerateOptions{Temperature: 2})
	require.Error(t, err)

	assert.Empty(t, engine.requests, "engine must not run for rejected knobs")
}

func TestGenerateBadBase64(t *testing.T) {
	engine := &fakeEngine{}
	m := NewStubModel("starvector/starvector-1b-im2svg", engine)

	_, err := m.Generate(context.Background(), "%%%", GenerateOptions{})

	var imageErr *ImageError
	require.ErrorAs(t, err, &imageErr)
	assert.Empty(t, engine.requests)
}

func TestGenerateEngineError(t *testing.T) {
	engine := &fakeEngine{err: &GenerationError{Err: errors.New("oom")}}
	m := NewStubModel("starvector/starvector-1b-im2svg", engine)

	_, err := m.Generate(context.Background(), testImage(t), GenerateOptions{})

	var generationErr *GenerationError
	require.ErrorAs(t, err, &generationErr)
}

func TestGenerateSingleSlot(t *testing.T) {
	engine := &fakeEngine{
		svg:     "<svg/>",
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	m := NewStubModel("starvector/starvector-1b-im2svg", engine)

	img := testImage(t)

	first := make(chan error, 1)
	go func() {
		_, err := m.Generate(context.Background(), img, GenerateOptions{})
		first <- err
	}()

	// wait until the first call holds the inference slot
	<-engine.started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Generate(ctx, img, GenerateOptions{})
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, engine.requests, 1, "second generation must not reach the engine while the slot is held")

	close(engine.release)
	require.NoError(t, <-first)
}
