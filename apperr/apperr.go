// Package apperr defines the small closed set of failure kinds the bot reasons about.
//
// Call sites switch on Kind instead of matching error strings: upstream fetches
// degrade to fallback values on NetworkFailure/NotFound/Malformed, role-gated
// commands answer PermissionDenied with a reply, and persistence failures are
// logged and skipped.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Kind classifies an error.
type Kind int

const (
	// KindUnknown is returned for nil or unclassified errors.
	KindUnknown Kind = iota
	// KindNetworkFailure covers transport errors, timeouts and upstream 5xx/429.
	KindNetworkFailure
	// KindNotFound means the upstream resource does not exist.
	KindNotFound
	// KindPermissionDenied covers 401/403 and role checks.
	KindPermissionDenied
	// KindMalformed covers bad input and undecodable payloads.
	KindMalformed
	// KindPersistenceUnavailable means the store could not complete the operation.
	KindPersistenceUnavailable
)

// String returns a short name used in logs and metric labels.
func (k Kind) String() string {
	switch k {
	case KindNetworkFailure:
		return "network_failure"
	case KindNotFound:
		return "not_found"
	case KindPermissionDenied:
		return "permission_denied"
	case KindMalformed:
		return "malformed"
	case KindPersistenceUnavailable:
		return "persistence_unavailable"
	default:
		return "unknown"
	}
}

// Error carries a Kind, the operation that failed and the underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op + ": " + e.Kind.String()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error from a message.
func New(kind Kind, op, msg string) error {
	return &Error{Kind: kind, Op: op, Err: errors.New(msg)}
}

// Wrap attaches a kind to err. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, falling back to Classify.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Classify(err)
}

// Is reports whether err is of the given kind.
func Is(err error, kind Kind) bool { return err != nil && KindOf(err) == kind }

// FromStatus maps an upstream HTTP status code to an error (nil for 2xx).
func FromStatus(op string, status int) error {
	if status >= 200 && status < 300 {
		return nil
	}
	msg := fmt.Sprintf("unexpected status %d", status)
	switch {
	case status == http.StatusNotFound:
		return New(KindNotFound, op, msg)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return New(KindPermissionDenied, op, msg)
	case status == http.StatusTooManyRequests || status >= 500:
		return New(KindNetworkFailure, op, msg)
	default:
		return New(KindMalformed, op, msg)
	}
}

// Classify inspects an arbitrary error that was not produced by this package.
//
// Timeouts, cancellations and net errors are network failures; everything else
// is matched on well-known message fragments and defaults to network failure so
// callers degrade instead of treating the input as bad.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindNetworkFailure
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindNetworkFailure
	}

	lower := strings.ToLower(err.Error())
	notFound := []string{"not found", "no rows", "404"}
	for _, p := range notFound {
		if strings.Contains(lower, p) {
			return KindNotFound
		}
	}
	denied := []string{"401", "403", "unauthorized", "forbidden", "permission denied"}
	for _, p := range denied {
		if strings.Contains(lower, p) {
			return KindPermissionDenied
		}
	}
	malformed := []string{"invalid character", "unexpected end of json", "cannot unmarshal", "malformed"}
	for _, p := range malformed {
		if strings.Contains(lower, p) {
			return KindMalformed
		}
	}
	return KindNetworkFailure
}
