package starvector

import (
	"bytes"
	"os"
)

// StatusWriter tees engine stderr through to the parent's stderr while
// remembering the last line that looked like an error, so load failures can
// be reported with their root cause instead of just an exit code.
type StatusWriter struct {
	LastErrMsg string
	out        *os.File
}

func NewStatusWriter(out *os.File) *StatusWriter {
	return &StatusWriter{out: out}
}

var errorPrefixes = []string{
	"error:",
	"Error:",
	"RuntimeError",
	"OSError",
	"Killed",
	"out of memory",
}

func (w *StatusWriter) Write(b []byte) (int, error) {
	var errMsg string
	for _, prefix := range errorPrefixes {
		if _, after, ok := bytes.Cut(b, []byte(prefix)); ok {
			errMsg = prefix + string(bytes.TrimSpace(after))
		}
	}

	if errMsg != "" {
		w.LastErrMsg = errMsg
	}

	return w.out.Write(b)
}
