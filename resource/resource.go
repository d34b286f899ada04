// Package resource tracks open file handles and extraction-session objects
// for a single pipeline invocation and guarantees best-effort cleanup when
// the scope exits.
//
// One Tracker per top-level pipeline run; it is never shared across
// concurrent runs. ForceCleanup is idempotent and never returns an error —
// individual cleanup failures are logged, not raised, so cleanup can sit on
// both success and error paths without masking the original failure.
package resource

import (
	"io"
	"log/slog"
	"sync"
)

// Tracker records resources for later cleanup.
type Tracker struct {
	mu       sync.Mutex
	files    map[string]struct{}
	sessions []io.Closer
	logger   *slog.Logger
}

// NewTracker creates a tracker. A nil logger falls back to slog.Default.
func NewTracker(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		files:  make(map[string]struct{}),
		logger: logger,
	}
}

// Register records a file path as active. Informational only: file handles
// themselves are closed by whoever opened them or via RegisterSession.
func (t *Tracker) Register(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.files[path] = struct{}{}
	t.logger.Debug("resource: file registered", "path", path)
}

// RegisterSession records a closable extraction session for cleanup.
// Nil sessions are ignored.
func (t *Tracker) RegisterSession(c io.Closer) {
	if c == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions = append(t.sessions, c)
	t.logger.Debug("resource: session registered", "sessions", len(t.sessions))
}

// ActiveFiles returns a copy of the tracked file paths.
func (t *Tracker) ActiveFiles() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	paths := make([]string, 0, len(t.files))
	for p := range t.files {
		paths = append(paths, p)
	}
	return paths
}

// ForceCleanup closes every registered session and clears the tracked sets.
// Per-session close failures are logged and skipped. Safe to call more than
// once; subsequent calls are no-ops.
func (t *Tracker) ForceCleanup() {
	t.mu.Lock()
	sessions := t.sessions
	t.sessions = nil
	files := len(t.files)
	t.files = make(map[string]struct{})
	t.mu.Unlock()

	cleaned := 0
	for _, s := range sessions {
		if err := s.Close(); err != nil {
			t.logger.Warn("resource: session close failed", "error", err)
			continue
		}
		cleaned++
	}
	if cleaned > 0 || files > 0 {
		t.logger.Debug("resource: cleanup completed", "sessions_closed", cleaned, "files_released", files)
	}
}
