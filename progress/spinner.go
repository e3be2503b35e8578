// Package progress renders a terminal spinner while the CLI waits on a
// long-running server call.
package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

var parts = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

type Spinner struct {
	w       io.Writer
	message string
	started time.Time

	mu      sync.Mutex
	value   int
	stopped bool
	done    chan struct{}
}

// NewSpinner starts a spinner on w. When w is not a terminal nothing is
// animated; the message is printed once so piped output stays readable.
func NewSpinner(w io.Writer, message string) *Spinner {
	s := &Spinner{
		w:       w,
		message: message,
		started: time.Now(),
		done:    make(chan struct{}),
	}

	if f, ok := w.(*os.File); !ok || !term.IsTerminal(int(f.Fd())) {
		fmt.Fprintf(w, "%s...\n", message)
		s.stopped = true
		close(s.done)
		return s
	}

	go s.run()
	return s
}

func (s *Spinner) run() {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.Lock()
			if !s.stopped {
				fmt.Fprintf(s.w, "\r%s %s ", s.message, parts[s.value])
				s.value = (s.value + 1) % len(parts)
			}
			s.mu.Unlock()
		}
	}
}

// Stop clears the spinner line and prints the elapsed time.
func (s *Spinner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	s.stopped = true
	close(s.done)

	fmt.Fprintf(s.w, "\r%s\r%s (%.1fs)\n", strings.Repeat(" ", len(s.message)+4), s.message, time.Since(s.started).Seconds())
}
