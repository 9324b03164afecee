// Package rerr implements a small typed error taxonomy. It is kept
// separate from efcp/dtp/dtcp/cdap/rib so that every layer can construct
// and compare typed errors without an import cycle.
//
// Wraps causes with github.com/pkg/errors so the taxonomy adds a Kind
// callers can switch on instead of string-matching, without losing the
// underlying stack trace.
package rerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a failure into one of seven buckets. Kind values are
// not type names; several call sites may construct the same Kind for
// different underlying causes.
type Kind int

const (
	// InvalidHandle: unknown CEP-id or port-id.
	InvalidHandle Kind = iota + 1
	// ResourceExhausted: CEP-id pool empty, CWQ/sequencing queue at bound
	// under a policy that forbids blocking.
	ResourceExhausted
	// StateMismatch: operation not valid in the current CDAP-session or
	// connection state.
	StateMismatch
	// MalformedMessage: codec rejected input.
	MalformedMessage
	// PolicyRejected: a policy hook returned failure.
	PolicyRejected
	// PeerQosViolation: data_retransmit_max exceeded.
	PeerQosViolation
	// Cancelled: destruction raced with an in-flight op.
	Cancelled
)

func (k Kind) String() string {
	switch k {
	case InvalidHandle:
		return "invalid_handle"
	case ResourceExhausted:
		return "resource_exhausted"
	case StateMismatch:
		return "state_mismatch"
	case MalformedMessage:
		return "malformed_message"
	case PolicyRejected:
		return "policy_rejected"
	case PeerQosViolation:
		return "peer_qos_violation"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error wraps a Kind, the failing operation name, and an optional cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error with no wrapped cause.
func New(kind Kind, op string) *Error {
	return &Error{Kind: kind, Op: op}
}

// Wrap builds an *Error wrapping cause, annotated via pkg/errors so the
// original call stack survives for logging.
func Wrap(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: errors.Wrap(cause, op)}
}

// Is reports whether err is an *Error of the given Kind, unwrapping
// through any wrapping chain.
func Is(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if ee, ok := err.(*Error); ok {
			e = ee
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return e != nil && e.Kind == kind
}

// KindOf unwraps err looking for a *Error and returns its Kind, or 0 if
// err is nil or carries no Kind at all (e.g. a bare I/O error never
// passed through New/Wrap).
func KindOf(err error) Kind {
	for err != nil {
		if ee, ok := err.(*Error); ok {
			return ee.Kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return 0
		}
		err = u.Unwrap()
	}
	return 0
}
