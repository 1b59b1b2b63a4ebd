// package shared defines helpers used across the harness: logging,
// id generation, and naming conventions for generated test principals.
package shared

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

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

// ShortID returns the first segment of a v4 UUID, used to keep generated
// principal and event names readable in server-side listings.
func ShortID() string {
	return strings.SplitN(uuid.New().String(), "-", 2)[0]
}

// LongName builds the conventional login name for a generated test principal:
// MMDD_scope_name. The date prefix groups entities created by the same run
// when browsing the remote service.
func LongName(scope, name string) string {
	return fmt.Sprintf("%s_%s_%s", time.Now().Format("0102"), scope, name)
}

// PasswordFor derives the throwaway password for a generated principal. Login
// names are unique per run so this is reversible on purpose: re-attaching to
// an entity created by an earlier run only needs its name.
func PasswordFor(loginName string) string {
	return "p" + loginName
}
