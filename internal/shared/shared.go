// package shared defines shared helpers
package shared

import (
	"crypto/subtle"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// NewLogger creates a new [log.Logger] instance with the specified [io.Writer], with timestamps and caller reporting enabled.
//
// The writer defaults to [os.Stderr]
func NewLogger(w io.Writer) *log.Logger {
	if w == nil {
		w = os.Stderr
	}
	opts := log.Options{ReportTimestamp: true, ReportCaller: true}
	return log.NewWithOptions(w, opts)
}

// NewFileLogger creates a [log.Logger] suited for append-only log files:
// timestamps on, caller reporting off.
func NewFileLogger(w io.Writer) *log.Logger {
	return log.NewWithOptions(w, log.Options{ReportTimestamp: true})
}

// WithLogger creates a child [log.Logger] with the specified key-value pairs added to all log entries.
func WithLogger(l *log.Logger, kv ...any) *log.Logger {
	return l.With(kv...)
}

// SetLogLevel sets the [log.Level] for the given [log.Logger].
func SetLogLevel(l *log.Logger, ll log.Level) {
	l.SetLevel(ll)
}

// GenerateID generates a new v4 [uuid.UUID] as a string
func GenerateID() string {
	return uuid.New().String()
}

// GenerateToken creates an operator token. Derived from a v4 UUID with the
// dashes stripped so it survives copy-paste from a terminal.
func GenerateToken() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// TokenEqual compares two tokens in constant time.
func TokenEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// ExpandPath expands env vars and a leading ~ in a path.
func ExpandPath(p string) string {
	expanded := os.ExpandEnv(p)
	if strings.HasPrefix(expanded, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			expanded = home + expanded[1:]
		}
	}
	return expanded
}

// Eprintln prints to stderr. Used for operator-facing startup messages that
// must not be swallowed by log level filtering.
func Eprintln(args ...any) {
	fmt.Fprintln(os.Stderr, args...)
}

// GreenPrintln prints to stderr in green. Used to print the login URL for the operator.
func GreenPrintln(txt string) {
	fmt.Fprintf(os.Stderr, "\033[92m %s\033[00m\n", txt)
}
