package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide root logger. Packages derive child loggers
// from it through the With* helpers rather than logging on it directly.
var Logger zerolog.Logger

// Level names accepted by Init. Anything else falls back to info.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration. A nil Output writes to stdout.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init builds the root logger and sets the global level. Call once at
// process start, before any package derives a child logger.
func Init(cfg Config) {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}
	if !cfg.JSONOutput {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}
	Logger = zerolog.New(output).With().Timestamp().Logger()
}

func parseLevel(level Level) zerolog.Level {
	parsed, err := zerolog.ParseLevel(string(level))
	if err != nil || parsed == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return parsed
}

// WithComponent derives a logger tagged with the subsystem name.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithWorker derives a logger tagged with a worker name.
func WithWorker(worker string) zerolog.Logger {
	return Logger.With().Str("worker", worker).Logger()
}

// WithJobID derives a logger tagged with a job id, for correlating the
// lifecycle of one job across dispatcher and worker.
func WithJobID(jobID string) zerolog.Logger {
	return Logger.With().Str("job_id", jobID).Logger()
}

// WithHost derives a logger tagged with a target device address.
func WithHost(host string) zerolog.Logger {
	return Logger.With().Str("host", host).Logger()
}
