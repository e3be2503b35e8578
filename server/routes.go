// Package server exposes one loaded StarVector model over a minimal JSON
// HTTP API: /health, /info and /generate. It is a development server for
// local testing; there is no auth, batching or rate limiting.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vectorink/starvectord/api"
	"github.com/vectorink/starvectord/envconfig"
	"github.com/vectorink/starvectord/starvector"
)

// Generator is the slice of [starvector.Model] the handlers need; tests
// substitute a deterministic stub.
type Generator interface {
	Generate(ctx context.Context, imageBase64 string, opts starvector.GenerateOptions) (string, error)
}

// Server holds the one model this process serves. The model pointer is nil
// while the checkpoint loads and is set exactly once; readiness never
// reverts.
type Server struct {
	modelID string
	device  string
	model   atomic.Pointer[generatorHolder]
}

// indirection because atomic.Pointer needs a concrete type
type generatorHolder struct {
	g Generator
}

func NewServer(modelID string) *Server {
	return &Server{modelID: modelID, device: "cpu"}
}

// SetModel marks the server ready. Called once, after loading completes.
func (s *Server) SetModel(g Generator) {
	s.model.Store(&generatorHolder{g: g})
}

func (s *Server) generator() (Generator, bool) {
	if h := s.model.Load(); h != nil {
		return h.g, true
	}
	return nil, false
}

func (s *Server) HealthHandler(c *gin.Context) {
	if _, ok := s.generator(); !ok {
		c.JSON(http.StatusServiceUnavailable, api.HealthResponse{Status: "loading"})
		return
	}

	c.JSON(http.StatusOK, api.HealthResponse{Status: "ready", Model: s.modelID})
}

func (s *Server) InfoHandler(c *gin.Context) {
	if s.modelID == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server not initialized"})
		return
	}

	_, loaded := s.generator()
	c.JSON(http.StatusOK, api.InfoResponse{
		Model:  s.modelID,
		Device: s.device,
		Loaded: loaded,
	})
}

func (s *Server) GenerateHandler(c *gin.Context) {
	var req api.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Image == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no image provided"})
		return
	}

	opts := starvector.GenerateOptions{
		MaxTokens:   starvector.DefaultMaxTokens,
		Temperature: starvector.DefaultTemperature,
	}
	if req.MaxTokens != nil {
		opts.MaxTokens = *req.MaxTokens
	}
	if req.Temperature != nil {
		opts.Temperature = *req.Temperature
	}

	model, ok := s.generator()
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "model not loaded"})
		return
	}

	if opts.MaxTokens <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "max_tokens must be a positive integer"})
		return
	}
	if opts.Temperature < 0 || opts.Temperature > 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "temperature must be in [0,1]"})
		return
	}

	svg, err := model.Generate(c.Request.Context(), req.Image, opts)
	if err != nil {
		var imageErr *starvector.ImageError
		var generationErr *starvector.GenerationError
		switch {
		case errors.As(err, &imageErr):
			slog.Error("rejected image payload", "error", err)
		case errors.As(err, &generationErr):
			slog.Error("generation failed", "error", err)
		default:
			slog.Error("generate request failed", "error", err)
		}

		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, api.GenerateResponse{
		SVGCode: svg,
		Model:   s.modelID,
		Device:  s.device,
	})
}

// GenerateRoutes builds the gin engine with all routes attached.
func (s *Server) GenerateRoutes() *gin.Engine {
	if !envconfig.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/health", s.HealthHandler)
	r.GET("/info", s.InfoHandler)
	r.POST("/generate", s.GenerateHandler)

	return r
}

// requestLogger logs one line per request with a correlation id; generation
// requests run for minutes so the id is what ties a slow response back to
// the engine logs emitted in between.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := uuid.New().String()
		c.Set("request_id", requestID)

		start := time.Now()
		c.Next()

		slog.Info("request",
			"id", requestID,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start).Round(time.Millisecond).String(),
		)
	}
}

// Options configure Serve.
type Options struct {
	ModelSize string
	ModelsDir string
}

// Serve starts listening immediately and loads the checkpoint in the
// background, so /health reports "loading" during the minutes the weights
// take to become resident. A load failure shuts the listener down and is
// returned; there is no retry.
func Serve(ctx context.Context, ln net.Listener, opts Options) error {
	modelID, err := starvector.ModelID(opts.ModelSize)
	if err != nil {
		return err
	}

	s := NewServer(modelID)
	srv := &http.Server{Handler: s.GenerateRoutes()}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		m, err := starvector.Load(ctx, starvector.Options{
			ModelSize: opts.ModelSize,
			ModelsDir: opts.ModelsDir,
		})
		if err != nil {
			return err
		}

		s.SetModel(m)
		slog.Info("server ready", "model", modelID, "addr", ln.Addr())
		return nil
	})

	g.Go(func() error {
		slog.Info("listening", "addr", ln.Addr())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)

		if gen, ok := s.generator(); ok {
			if m, ok := gen.(*starvector.Model); ok {
				_ = m.Close()
			}
		}
		return nil
	})

	return g.Wait()
}
