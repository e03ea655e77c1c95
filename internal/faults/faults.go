// Package faults is the engine's error policy: a typed fault wrapping
// any error with a kind, a severity and operation context, a
// classifier for plain errors, and a handler that attempts bounded
// recovery and writes crash reports for fatal faults.
package faults

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os/exec"
	"sort"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"hashwrap/internal/config"
	"hashwrap/internal/sandbox"
)

// Kind buckets faults by the subsystem that produced them.
type Kind string

const (
	KindFileAccess    Kind = "file_access"
	KindNetwork       Kind = "network"
	KindProcess       Kind = "process"
	KindResource      Kind = "resource"
	KindValidation    Kind = "validation"
	KindSecurity      Kind = "security"
	KindConfiguration Kind = "configuration"
	KindUnknown       Kind = "unknown"
)

// Severity orders faults by how much of the run they take down.
type Severity int

const (
	// SeverityRecoverable faults can be retried or worked around.
	SeverityRecoverable Severity = iota
	// SeverityDegraded faults let the run continue with reduced
	// capability.
	SeverityDegraded
	// SeverityCritical faults stop the current operation.
	SeverityCritical
	// SeverityFatal faults terminate the run.
	SeverityFatal
)

func (s Severity) String() string {
	switch s {
	case SeverityRecoverable:
		return "recoverable"
	case SeverityDegraded:
		return "degraded"
	case SeverityCritical:
		return "critical"
	case SeverityFatal:
		return "fatal"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// Fault is an error annotated with handling policy. The ID correlates
// log lines, history entries and crash reports for one incident.
type Fault struct {
	ID       string
	Kind     Kind
	Severity Severity
	Op       string
	Context  map[string]string
	Err      error

	retries int
}

// New builds a fault with an explicit classification.
func New(kind Kind, severity Severity, op string, err error) *Fault {
	return &Fault{
		ID:       uuid.NewString(),
		Kind:     kind,
		Severity: severity,
		Op:       op,
		Context:  make(map[string]string),
		Err:      err,
	}
}

// Wrap classifies err and builds a fault for it. An err that already
// is a Fault keeps its classification; only the operation changes.
func Wrap(op string, err error) *Fault {
	var f *Fault
	if errors.As(err, &f) {
		clone := *f
		clone.Op = op

		return &clone
	}

	kind, severity := Classify(err)
	fault := New(kind, severity, op, err)

	return fault
}

// With adds a context key. Returns the fault for chaining at the
// raise site.
func (f *Fault) With(key, value string) *Fault {
	f.Context[key] = value

	return f
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s: %v [%s/%s]", f.Op, f.Err, f.Kind, f.Severity)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// ContextKeys returns the context keys in stable order.
func (f *Fault) ContextKeys() []string {
	keys := make([]string, 0, len(f.Context))
	for k := range f.Context {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// Classify maps a plain error to (kind, severity).
//
// The table is intentionally coarse: file-not-found is worth a retry
// against alternates, permission problems are not; memory exhaustion
// kills the run; anything from the sandbox is a security fault because
// it means unvalidated input got as far as a syscall boundary.
func Classify(err error) (Kind, Severity) {
	switch {
	case err == nil:
		return KindUnknown, SeverityRecoverable

	case errors.Is(err, sandbox.ErrInvalidMask),
		errors.Is(err, sandbox.ErrMaskTooLong),
		errors.Is(err, sandbox.ErrOutsideRoots):
		return KindSecurity, SeverityFatal

	case errors.Is(err, sandbox.ErrInvalidHash),
		errors.Is(err, sandbox.ErrNonPrintable),
		errors.Is(err, sandbox.ErrHashTooLong),
		errors.Is(err, sandbox.ErrInvalidSession):
		return KindValidation, SeverityCritical

	case errors.Is(err, config.ErrConfigInvalid),
		errors.Is(err, config.ErrConfigFileNotFound),
		errors.Is(err, config.ErrBadWorkload),
		errors.Is(err, config.ErrBadInterval),
		errors.Is(err, config.ErrBadRateLimit):
		return KindConfiguration, SeverityRecoverable

	case errors.Is(err, fs.ErrNotExist), errors.Is(err, sandbox.ErrNotFound):
		return KindFileAccess, SeverityRecoverable

	case errors.Is(err, fs.ErrPermission):
		return KindFileAccess, SeverityCritical

	case errors.Is(err, unix.ENOMEM):
		return KindResource, SeverityFatal

	case errors.Is(err, unix.ENOSPC):
		return KindResource, SeverityDegraded

	case errors.Is(err, context.DeadlineExceeded):
		return KindProcess, SeverityRecoverable

	case isNetworkError(err):
		return KindNetwork, SeverityRecoverable

	case isProcessExit(err):
		return KindProcess, SeverityCritical

	default:
		return KindUnknown, SeverityCritical
	}
}

func isNetworkError(err error) bool {
	var netErr net.Error

	return errors.As(err, &netErr)
}

func isProcessExit(err error) bool {
	var exitErr *exec.ExitError

	return errors.As(err, &exitErr)
}
