// Package logger provides verbose logging for the mizan CLI.
// Nothing is written unless the --verbose flag turned it on; output goes to
// stderr so it never mixes with answers or JSON on stdout.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

var (
	mu      sync.RWMutex
	verbose bool
	output  io.Writer = os.Stderr
)

// SetVerbose enables or disables verbose logging.
func SetVerbose(v bool) {
	mu.Lock()
	defer mu.Unlock()
	verbose = v
}

// IsVerbose returns true if verbose mode is enabled.
func IsVerbose() bool {
	mu.RLock()
	defer mu.RUnlock()
	return verbose
}

// SetOutput sets the output writer for verbose logs.
// Defaults to os.Stderr. Useful for testing.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
}

// emit holds the write lock so concurrent callers never interleave on output.
func emit(level, prefix, format string, args []any) {
	mu.Lock()
	defer mu.Unlock()
	if !verbose {
		return
	}
	fmt.Fprintf(output, "[%s] %s%s\n", level, prefix, fmt.Sprintf(format, args...))
}

// Debug prints a message if verbose mode is enabled.
func Debug(format string, args ...any) { emit("DEBUG", "", format, args) }

// Info prints an informational message if verbose mode is enabled.
func Info(format string, args ...any) { emit("INFO", "", format, args) }

// Warn prints a warning message if verbose mode is enabled.
func Warn(format string, args ...any) { emit("WARN", "", format, args) }

// Elapsed prints a debug message followed by the time since start,
// rounded to the millisecond.
func Elapsed(start time.Time, format string, args ...any) {
	emit("DEBUG", "", format+" (took %s)", append(args, time.Since(start).Round(time.Millisecond)))
}

// Section prints a section header if verbose mode is enabled.
func Section(name string) {
	mu.Lock()
	defer mu.Unlock()
	if verbose {
		fmt.Fprintf(output, "\n=== %s ===\n", name)
	}
}

// Scoped prefixes every message with a fixed set of key=value pairs, so
// lines from concurrent queries can be told apart.
type Scoped struct {
	prefix string
}

// With returns a Scoped logger carrying key=value.
func With(key, value string) Scoped {
	return Scoped{}.With(key, value)
}

// With returns a copy of l that also carries key=value.
func (l Scoped) With(key, value string) Scoped {
	var b strings.Builder
	b.WriteString(l.prefix)
	b.WriteString(key)
	b.WriteByte('=')
	b.WriteString(value)
	b.WriteByte(' ')
	return Scoped{prefix: b.String()}
}

func (l Scoped) Debug(format string, args ...any) { emit("DEBUG", l.prefix, format, args) }
func (l Scoped) Info(format string, args ...any)  { emit("INFO", l.prefix, format, args) }
func (l Scoped) Warn(format string, args ...any)  { emit("WARN", l.prefix, format, args) }
