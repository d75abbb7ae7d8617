package debug

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"
)

// Logger writes category-tagged lines. A nil *Logger is valid and discards
// everything, so components can take one unconditionally.
type Logger struct {
	mu       sync.Mutex
	w        io.Writer
	closer   io.Closer
	counters map[string]int
}

// New returns a logger writing to w.
func New(w io.Writer) *Logger {
	return &Logger{
		w:        w,
		counters: make(map[string]int),
	}
}

// DefaultPath is ~/.config/go-audionaut/debug.log
func DefaultPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".config", "go-audionaut", "debug.log")
}

// Enable starts debug logging to path (truncated). Empty path means DefaultPath.
func Enable(path string) (*Logger, error) {
	if path == "" {
		path = DefaultPath()
	}

	// Ensure directory exists
	os.MkdirAll(filepath.Dir(path), 0755)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}

	l := New(f)
	l.closer = f
	l.Log("debug", "=== Debug logging started ===")
	return l, nil
}

// Close stops logging and closes the underlying file, if any
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.w = nil
	if l.closer != nil {
		err := l.closer.Close()
		l.closer = nil
		return err
	}
	return nil
}

// Log writes a message to the debug log
func (l *Logger) Log(category, format string, args ...any) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.w == nil {
		return
	}

	ts := time.Now().Format("15:04:05.000")
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(l.w, "[%s] %-10s %s\n", ts, category, msg)
	if f, ok := l.w.(*os.File); ok {
		f.Sync() // flush immediately so we see logs even on crash
	}
}

// Warn logs under the "warn" category with the originating category prefixed
func (l *Logger) Warn(category, format string, args ...any) {
	l.Log("warn", category+": "+format, args...)
}

// LogEvery logs only every N calls (use for high-frequency events like ticks)
func (l *Logger) LogEvery(n int, category, format string, args ...any) {
	if l == nil || n <= 0 {
		return
	}
	l.mu.Lock()
	key := category + format
	l.counters[key]++
	count := l.counters[key]
	l.mu.Unlock()

	if count%n == 0 {
		l.Log(category, format+" (every %d, count=%d)", append(args, n, count)...)
	}
}

// Dump writes a deep, human readable dump of v (project state, patches)
func (l *Logger) Dump(category string, v any) {
	if l == nil {
		return
	}
	cfg := spew.ConfigState{Indent: "  ", DisablePointerAddresses: true, SortKeys: true}
	l.Log(category, "%s", cfg.Sdump(v))
}
