// Package envconfig resolves STARVECTOR_* environment variables. Command
// line flags take precedence; these exist so the downstream app's test
// harness can point at a non-default server without editing scripts.
package envconfig

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Host returns the listen address, from STARVECTOR_HOST. Accepts "host",
// ":port" or "host:port"; missing pieces fall back to the given defaults.
func Host(defaultHost string, defaultPort int) string {
	hostport := strings.Trim(os.Getenv("STARVECTOR_HOST"), "\"' ")
	if hostport == "" {
		return net.JoinHostPort(defaultHost, strconv.Itoa(defaultPort))
	}

	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		// no port in the value
		return net.JoinHostPort(hostport, strconv.Itoa(defaultPort))
	}

	if host == "" {
		host = defaultHost
	}
	if port == "" {
		port = strconv.Itoa(defaultPort)
	}

	return net.JoinHostPort(host, port)
}

// Models returns the checkpoint directory, from STARVECTOR_MODELS, defaulting
// to $HOME/.starvector/models.
func Models() string {
	if dir := strings.Trim(os.Getenv("STARVECTOR_MODELS"), "\"' "); dir != "" {
		return dir
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".starvector", "models")
	}

	return filepath.Join(home, ".starvector", "models")
}

// Runner returns the path to the model engine binary, from STARVECTOR_RUNNER.
// Empty means look up "starvector-runner" on PATH.
func Runner() string {
	return strings.Trim(os.Getenv("STARVECTOR_RUNNER"), "\"' ")
}

// Debug reports whether STARVECTOR_DEBUG is set to a truthy value.
func Debug() bool {
	if s := strings.Trim(os.Getenv("STARVECTOR_DEBUG"), "\"' "); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return true
		}
		return b
	}
	return false
}

// LoadTimeout returns how long to wait for the engine to report ready
// without making load progress, from STARVECTOR_LOAD_TIMEOUT. Zero or
// negative values disable the timeout. Default is 5 minutes.
func LoadTimeout() time.Duration {
	if s := strings.Trim(os.Getenv("STARVECTOR_LOAD_TIMEOUT"), "\"' "); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			if d <= 0 {
				return time.Duration(1<<63 - 1)
			}
			return d
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			if n <= 0 {
				return time.Duration(1<<63 - 1)
			}
			return time.Duration(n) * time.Second
		}
	}
	return 5 * time.Minute
}

type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap lists every recognized variable with its current value, for
// `starvectord serve --help` style diagnostics and startup logging.
func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"STARVECTOR_HOST":         {"STARVECTOR_HOST", Host("localhost", 8000), "Listen address for the server (default \"localhost:8000\")"},
		"STARVECTOR_MODELS":       {"STARVECTOR_MODELS", Models(), "Directory containing checkpoint directories"},
		"STARVECTOR_RUNNER":       {"STARVECTOR_RUNNER", Runner(), "Path to the starvector-runner binary (default: found on PATH)"},
		"STARVECTOR_DEBUG":        {"STARVECTOR_DEBUG", Debug(), "Show additional debug information (e.g. STARVECTOR_DEBUG=1)"},
		"STARVECTOR_LOAD_TIMEOUT": {"STARVECTOR_LOAD_TIMEOUT", LoadTimeout(), "Stall timeout for checkpoint loading (default \"5m\")"},
	}
}

func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}
