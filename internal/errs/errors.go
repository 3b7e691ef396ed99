// Package errs defines the failure taxonomy shared by connections, listings and transfers.
//
// Every failure surfaced to a caller is an *Error carrying a Kind. Callers branch on the
// Kind (or on the matching containerd/errdefs class), never on message text.
package errs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/containerd/errdefs"
)

// Kind classifies a failure.
type Kind string

const (
	AuthenticationFailed Kind = "authentication_failed"
	HostUnreachable      Kind = "host_unreachable"
	ConnectionTimeout    Kind = "connection_timeout"
	ConnectionLost       Kind = "connection_lost"
	NotFound             Kind = "not_found"
	PermissionDenied     Kind = "permission_denied"
	IoError              Kind = "io_error"
	StalledTransfer      Kind = "stalled_transfer"
	Cancelled            Kind = "cancelled"
	InvalidArgument      Kind = "invalid_argument"
	Protocol             Kind = "protocol"
)

// Error is a classified failure.
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "connect", "list", "download"
	Path string // remote or local path involved, if any
	Err  error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.Describe())
	if e.Path != "" {
		fmt.Fprintf(&b, " (%s)", e.Path)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the cause and the errdefs class of the kind, so
// errors.Is(err, errdefs.ErrNotFound) and errdefs.IsNotFound(err) hold for NotFound errors.
func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if class := e.Kind.class(); class != nil {
		out = append(out, class)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// Describe returns a short human-readable description of the kind.
func (k Kind) Describe() string {
	switch k {
	case AuthenticationFailed:
		return "authentication failed"
	case HostUnreachable:
		return "host unreachable"
	case ConnectionTimeout:
		return "connection timed out"
	case ConnectionLost:
		return "connection lost"
	case NotFound:
		return "not found"
	case PermissionDenied:
		return "permission denied"
	case IoError:
		return "local I/O error"
	case StalledTransfer:
		return "transfer stalled"
	case Cancelled:
		return "cancelled"
	case InvalidArgument:
		return "invalid argument"
	case Protocol:
		return "protocol error"
	default:
		return string(k)
	}
}

func (k Kind) class() error {
	switch k {
	case AuthenticationFailed:
		return errdefs.ErrUnauthenticated
	case HostUnreachable, ConnectionLost:
		return errdefs.ErrUnavailable
	case ConnectionTimeout, StalledTransfer:
		return context.DeadlineExceeded
	case NotFound:
		return errdefs.ErrNotFound
	case PermissionDenied:
		return errdefs.ErrPermissionDenied
	case Cancelled:
		return context.Canceled
	case InvalidArgument:
		return errdefs.ErrInvalidArgument
	case IoError, Protocol:
		return errdefs.ErrInternal
	}
	return nil
}

// New creates a classified error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// WithPath creates a classified error that names the path involved.
func WithPath(kind Kind, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// Errorf creates a classified error with a formatted cause.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of err, or "" if err is nil or unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsTransient reports whether a failure of this kind may succeed if the caller retries
// (possibly after reconnecting). The engine itself never retries.
func IsTransient(kind Kind) bool {
	switch kind {
	case HostUnreachable, ConnectionTimeout, ConnectionLost, StalledTransfer:
		return true
	}
	return false
}

// IsConnectionLevel reports whether a failure of this kind invalidates the whole connection
// rather than a single operation.
func IsConnectionLevel(kind Kind) bool {
	return kind == ConnectionLost
}

// Classify wraps err with a kind derived from its chain. Already classified errors are
// returned unchanged; fallback is used when nothing more specific matches. An expired
// deadline is a ConnectionTimeout for the "connect" op and Cancelled for everything else.
func Classify(op, path string, err error, fallback Kind) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}

	kind := fallback
	switch {
	case errors.Is(err, context.Canceled):
		kind = Cancelled
	case errors.Is(err, context.DeadlineExceeded):
		// A caller's deadline only means a connection timeout while connecting.
		kind = Cancelled
		if op == "connect" {
			kind = ConnectionTimeout
		}
	case errors.Is(err, fs.ErrNotExist):
		kind = NotFound
	case errors.Is(err, fs.ErrPermission):
		kind = PermissionDenied
	case IsNetworkError(err):
		kind = ConnectionLost
	}
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// IsNetworkError checks if an error looks like a dropped or broken transport.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())

	networkIndicators := []string{
		"connection lost",
		"connection reset",
		"connection refused",
		"broken pipe",
		"closed pipe",
		"use of closed network connection",
		"network is unreachable",
		"unexpected eof",
	}

	for _, indicator := range networkIndicators {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}

	return false
}

// IsDiskFullError checks if an error is likely caused by running out of local disk space.
func IsDiskFullError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())

	diskFullIndicators := []string{
		"no space left on device", // Linux/Unix
		"disk full",               // Generic
		"out of disk space",       // Windows
		"insufficient disk space", // Windows
		"not enough space",        // Generic
		"disk quota exceeded",     // Quota systems
	}

	for _, indicator := range diskFullIndicators {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}

	return false
}
