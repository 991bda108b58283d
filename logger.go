package gpuprobe

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/gogpu/gpuprobe/internal/probelog"
)

// nopHandler is a slog.Handler that silently discards all log records.
// The Enabled method returns false so the caller skips message formatting
// entirely, making disabled logging effectively zero-cost.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

// newNopLogger creates a logger that silently discards all output.
func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr stores the active logger. Accessed atomically so that
// SetLogger can be called concurrently with logging from any goroutine.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	l := newNopLogger()
	loggerPtr.Store(l)
}

// SetLogger configures the logger for gpuprobe and all its sub-packages,
// including the device backends. By default gpuprobe produces no log
// output. Pass nil to restore silent behavior.
//
// Log levels used by gpuprobe:
//   - [slog.LevelDebug]: state transitions, buffer sizes, dispatch counts
//   - [slog.LevelInfo]: the adapter a run executed on
//   - [slog.LevelWarn]: release errors, capture brackets that failed to close
//
// Example:
//
//	gpuprobe.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)
	probelog.SetLogger(l)
}

// Logger returns the current logger used by gpuprobe.
//
// Logger is safe for concurrent use.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}
