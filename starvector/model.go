// Package starvector loads a pretrained StarVector image-to-SVG checkpoint
// and turns raster images into SVG markup. Weights live in an engine runner
// subprocess; this package does checkpoint resolution, image preprocessing
// and request plumbing around the runner's single generation call.
package starvector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/vectorink/starvectord/format"
)

const (
	DefaultMaxTokens   = 2048
	DefaultTemperature = 0.1
)

// Options configure Load.
type Options struct {
	// ModelSize selects the checkpoint: "1b" or "8b".
	ModelSize string

	// ModelsDir is the directory containing checkpoint directories.
	ModelsDir string
}

// GenerateOptions are the per-request sampling knobs. Zero values are valid:
// MaxTokens 0 means the default, Temperature 0 means greedy decoding.
type GenerateOptions struct {
	MaxTokens   int
	Temperature float64
}

// Model is one loaded checkpoint. A single instance lives for the whole
// process; concurrent Generate calls are serialized by a one-slot semaphore
// since the engine holds no more than one decoding state.
type Model struct {
	ID     string
	Device string

	checkpoint *Checkpoint
	processor  *Processor
	engine     Engine
	sem        *semaphore.Weighted
}

// Load resolves the checkpoint for opts.ModelSize, starts the engine runner
// pinned to full-precision CPU execution, and blocks until the weights are
// resident. The allocation is large (8GB+ for 1b, 24GB+ for 8b) and loading
// takes minutes; there is no retry, callers should treat an error as fatal.
func Load(ctx context.Context, opts Options) (*Model, error) {
	id, err := ModelID(opts.ModelSize)
	if err != nil {
		return nil, err
	}

	checkpoint, err := FindCheckpoint(opts.ModelsDir, id)
	if err != nil {
		return nil, err
	}

	processor, err := LoadProcessor(checkpoint.ProcessorConfigPath())
	if err != nil {
		return nil, err
	}

	slog.Info("loading checkpoint", "model", id, "dir", checkpoint.Dir, "size", format.HumanBytes(checkpoint.Size), "device", "cpu")

	start := time.Now()
	engine, err := startEngine(checkpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to load model: %w", err)
	}

	if err := engine.waitUntilRunning(ctx); err != nil {
		_ = engine.Close()
		return nil, fmt.Errorf("failed to load model: %w", err)
	}

	slog.Info("model loaded", "model", id, "duration", format.HumanDuration(time.Since(start)))

	return &Model{
		ID:         id,
		Device:     "cpu",
		checkpoint: checkpoint,
		processor:  processor,
		engine:     engine,
		sem:        semaphore.NewWeighted(1),
	}, nil
}

// NewStubModel builds a Model around a caller-supplied engine, bypassing
// checkpoint resolution. Used by tests and the server's test harness.
func NewStubModel(id string, engine Engine) *Model {
	return &Model{
		ID:        id,
		Device:    "cpu",
		processor: DefaultProcessor(),
		engine:    engine,
		sem:       semaphore.NewWeighted(1),
	}
}

// Generate decodes the base64 image, preprocesses it, and runs the engine's
// generation call. It blocks for the full generation, 30 seconds to several
// minutes on CPU. Exactly one generation runs at a time; waiting callers are
// released if their context is canceled.
func (m *Model) Generate(ctx context.Context, imageBase64 string, opts GenerateOptions) (string, error) {
	if opts.MaxTokens == 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	if opts.MaxTokens < 0 {
		return "", fmt.Errorf("max_tokens must be positive, got %d", opts.MaxTokens)
	}
	if opts.Temperature < 0 || opts.Temperature > 1 {
		return "", fmt.Errorf("temperature must be in [0,1], got %g", opts.Temperature)
	}

	imageData, err := DecodeImage(imageBase64)
	if err != nil {
		return "", err
	}

	pixels, err := m.processor.Process(imageData)
	if err != nil {
		return "", err
	}

	if err := m.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer m.sem.Release(1)

	start := time.Now()
	slog.Info("generating svg", "model", m.ID, "max_tokens", opts.MaxTokens, "temperature", opts.Temperature)

	svg, err := m.engine.Generate(ctx, EngineRequest{
		PixelValues: pixels.Data().([]float32),
		Shape:       []int(pixels.Shape()),
		MaxLength:   opts.MaxTokens,
		Temperature: opts.Temperature,
		DoSample:    opts.Temperature > 0,
	})
	if err != nil {
		return "", err
	}

	slog.Info("svg generated", "model", m.ID, "duration", format.HumanDuration(time.Since(start)), "bytes", len(svg))
	return svg, nil
}

// Close stops the engine runner and releases its memory.
func (m *Model) Close() error {
	if m.engine == nil {
		return nil
	}
	return m.engine.Close()
}
