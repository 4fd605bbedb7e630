package logging

import (
	"io"
	"os"
	"time"

	"github.com/hashicorp/go-hclog"
)

const (
	envLevel = "SPRITECOMPOSER_LOG_LEVEL"
	envJSON  = "SPRITECOMPOSER_JSON_LOG"
)

// NewLogger creates an hclog logger writing UTC timestamps to output (stderr when nil).
func NewLogger(name string, level string, output io.Writer) hclog.Logger {
	if output == nil {
		output = os.Stderr
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:       name,
		Level:      hclog.LevelFromString(level),
		JSONFormat: os.Getenv(envJSON) == "1",
		Output:     output,
		TimeFormat: "2006-01-02T15:04:05Z",
		TimeFn: func() time.Time {
			return time.Now().UTC()
		},
	})
}

// Level resolves the effective level: an explicit flag wins, then the
// environment, then "info". verbose forces "debug".
func Level(flag string, verbose bool) string {
	if verbose {
		return "debug"
	}
	if flag != "" {
		return flag
	}
	if env := os.Getenv(envLevel); env != "" {
		return env
	}
	return "info"
}
