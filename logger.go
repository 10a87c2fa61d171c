package framegraph

import (
	"log/slog"
	"sync/atomic"
)

// silent is the default logger. Its handler reports every level as
// disabled, so log calls return before formatting attributes.
var silent = slog.New(slog.DiscardHandler)

// current is read by task goroutines while SetLogger may store a new value.
var current atomic.Pointer[slog.Logger]

func init() { current.Store(silent) }

// SetLogger configures the logger shared by framegraph and its sub-packages.
// By default nothing is logged. Pass nil to restore the silent default.
//
// Log levels used:
//   - [slog.LevelDebug]: graph construction, execution order, resource lifetimes
//   - [slog.LevelInfo]: schedule instantiation, command buffer tasks added to a graph
//   - [slog.LevelWarn]: task failures, aborted runs, timed out command buffers
//
// Example:
//
//	framegraph.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = silent
	}
	current.Store(l)
}

// Logger returns the current logger. Sub-packages (taskman, passman,
// cbtasks, ring, gfx/halgfx) call this instead of keeping their own copy.
func Logger() *slog.Logger { return current.Load() }
