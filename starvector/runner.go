package starvector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/vectorink/starvectord/envconfig"
)

// Engine runs the actual generation. The production implementation is a
// runner subprocess; tests substitute a deterministic stub.
type Engine interface {
	Generate(ctx context.Context, req EngineRequest) (string, error)
	Close() error
}

// EngineRequest is the wire format posted to the runner's /generate route.
// PixelValues is the flattened preprocessed image in the given shape.
type EngineRequest struct {
	PixelValues []float32 `json:"pixel_values"`
	Shape       []int     `json:"shape"`
	MaxLength   int       `json:"max_length"`
	Temperature float64   `json:"temperature"`
	DoSample    bool      `json:"do_sample"`
}

type engineResponse struct {
	SVG   string `json:"svg"`
	Error string `json:"error"`
}

type engineStatus struct {
	Status   string  `json:"status"` // "loading" or "ready"
	Progress float32 `json:"progress"`
}

// engineProcess is a starvector-runner subprocess serving HTTP on an
// ephemeral localhost port. It owns the checkpoint memory; this process only
// ships tensors in and SVG text out.
type engineProcess struct {
	port   int
	cmd    *exec.Cmd
	status *StatusWriter
	done   chan error // receives the exit error once, when the process ends

	loadProgress float32
}

func runnerBinary() (string, error) {
	if bin := envconfig.Runner(); bin != "" {
		if _, err := os.Stat(bin); err != nil {
			return "", fmt.Errorf("STARVECTOR_RUNNER %q: %w", bin, err)
		}
		return bin, nil
	}

	bin, err := exec.LookPath("starvector-runner")
	if err != nil {
		return "", errors.New("starvector-runner not found on PATH (set STARVECTOR_RUNNER or install the engine)")
	}
	return bin, nil
}

// startEngine launches the runner for the checkpoint pinned to full-precision
// CPU execution and returns without waiting for the weights to be resident;
// call waitUntilRunning next.
func startEngine(checkpoint *Checkpoint) (*engineProcess, error) {
	bin, err := runnerBinary()
	if err != nil {
		return nil, err
	}

	port := 0
	if a, err := net.ResolveTCPAddr("tcp", "localhost:0"); err == nil {
		var l *net.TCPListener
		if l, err = net.ListenTCP("tcp", a); err == nil {
			port = l.Addr().(*net.TCPAddr).Port
			l.Close()
		}
	}
	if port == 0 {
		slog.Debug("ephemeral port probe failed, picking a random port")
		port = rand.Intn(65535-49152) + 49152
	}

	e := &engineProcess{
		port:   port,
		status: NewStatusWriter(os.Stderr),
		done:   make(chan error, 1),
	}

	e.cmd = exec.Command(bin,
		"--checkpoint", checkpoint.Dir,
		"--device", "cpu",
		"--dtype", "float32",
		"--port", strconv.Itoa(port),
	)
	e.cmd.Env = os.Environ()
	e.cmd.Stdout = os.Stdout
	e.cmd.Stderr = e.status

	slog.Info("starting engine runner", "cmd", e.cmd)
	if err := e.cmd.Start(); err != nil {
		return nil, fmt.Errorf("error starting runner: %w", err)
	}

	go func() {
		err := e.cmd.Wait()
		if err != nil && e.status.LastErrMsg != "" {
			slog.Error("engine runner terminated", "error", err)
			e.done <- errors.New(e.status.LastErrMsg)
		} else {
			e.done <- err
		}
	}()

	return e, nil
}

func (e *engineProcess) getStatus(ctx context.Context) (engineStatus, error) {
	if e.cmd.ProcessState != nil {
		return engineStatus{}, fmt.Errorf("runner process no longer running: %d %s", e.cmd.ProcessState.ExitCode(), e.status.LastErrMsg)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://127.0.0.1:%d/health", e.port), nil)
	if err != nil {
		return engineStatus{}, err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return engineStatus{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return engineStatus{}, err
	}

	var status engineStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return engineStatus{}, fmt.Errorf("runner health response: %w", err)
	}

	return status, nil
}

// waitUntilRunning blocks until the runner reports ready. The stall timer
// resets whenever load progress advances, so a slow disk does not trip the
// timeout but a hung runner does.
func (e *engineProcess) waitUntilRunning(ctx context.Context) error {
	start := time.Now()
	stallDuration := envconfig.LoadTimeout()
	stallTimer := time.Now().Add(stallDuration)

	slog.Info("waiting for engine runner to load the checkpoint")
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("gave up waiting for the runner to start: %w", ctx.Err())
		case err := <-e.done:
			return fmt.Errorf("runner process has terminated: %w", err)
		default:
		}

		if time.Now().After(stallTimer) {
			return fmt.Errorf("timed out waiting for the runner to load - progress %0.2f - %s", e.loadProgress, e.status.LastErrMsg)
		}

		statusCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
		status, err := e.getStatus(statusCtx)
		cancel()
		if err == nil && status.Status == "ready" {
			slog.Info("engine runner ready", "load_duration", time.Since(start).Round(time.Second).String())
			return nil
		}

		if err == nil && status.Progress != e.loadProgress {
			slog.Debug("checkpoint load progress", "progress", status.Progress)
			e.loadProgress = status.Progress
			stallTimer = time.Now().Add(stallDuration)
		}

		time.Sleep(250 * time.Millisecond)
	}
}

// GenerationError is a failure inside the engine's decoding loop, as opposed
// to a bad request payload.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string { return fmt.Sprintf("generation failed: %v", e.Err) }
func (e *GenerationError) Unwrap() error { return e.Err }

func (e *engineProcess) Generate(ctx context.Context, req EngineRequest) (string, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("http://127.0.0.1:%d/generate", e.port), bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return "", &GenerationError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &GenerationError{Err: err}
	}

	var engineResp engineResponse
	if err := json.Unmarshal(body, &engineResp); err != nil {
		return "", &GenerationError{Err: fmt.Errorf("runner response: %w", err)}
	}

	if resp.StatusCode >= 400 || engineResp.Error != "" {
		msg := engineResp.Error
		if msg == "" {
			msg = resp.Status
		}
		return "", &GenerationError{Err: errors.New(msg)}
	}

	return engineResp.SVG, nil
}

func (e *engineProcess) Close() error {
	if e.cmd == nil || e.cmd.Process == nil {
		return nil
	}

	slog.Debug("stopping engine runner", "pid", e.cmd.Process.Pid)
	if err := e.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}

	// if the process already exited, waitUntilRunning may have drained the
	// exit error; only wait for the reaper while the process is still up
	if e.cmd.ProcessState == nil {
		<-e.done
	}
	return nil
}
