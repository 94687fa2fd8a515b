// Package errkind defines the closed set of error kinds the dispatch
// pipeline can raise, and the single point (the Dispatcher) turns one of
// these into a user-visible message.
package errkind

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is a closed, enumerated error classification. Never add a Kind
// without also teaching the Dispatcher how to present it to the user.
type Kind int

const (
	// Replay marks a message the Deduplicator has already seen. Dropped
	// silently, never user-visible.
	Replay Kind = iota
	// NotAuthenticated marks a missing or expired token for the real author.
	NotAuthenticated
	// AuthForbiddenForProxy marks an auth-privileged command arriving through
	// a proxy-system identity.
	AuthForbiddenForProxy
	// PolicyBlocked marks an NSFW-gate or permission failure.
	PolicyBlocked
	// PersonalityNotFound marks an explicit mention that resolved to nothing.
	PersonalityNotFound
	// LLMTransient marks a retriable LLM failure (5xx, 429, network).
	LLMTransient
	// LLMPermanent marks a non-retriable LLM failure (4xx other than 429).
	LLMPermanent
	// SendFailed marks a webhook emission that failed after retries.
	SendFailed
	// Internal marks a bug. Always logged with a stack trace.
	Internal
)

func (k Kind) String() string {
	switch k {
	case Replay:
		return "replay"
	case NotAuthenticated:
		return "not_authenticated"
	case AuthForbiddenForProxy:
		return "auth_forbidden_for_proxy"
	case PolicyBlocked:
		return "policy_blocked"
	case PersonalityNotFound:
		return "personality_not_found"
	case LLMTransient:
		return "llm_transient"
	case LLMPermanent:
		return "llm_permanent"
	case SendFailed:
		return "send_failed"
	case Internal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error carries a Kind alongside the underlying cause. Internal errors wrap
// their cause with errors.WithStack so the Dispatcher can log a stack trace;
// other kinds keep their cause as given unless New is passed a message, in
// which case errors.Wrap (or errors.New) records a stack for them as well.
type Error struct {
	Kind  Kind
	cause error
}

func (e *Error) Error() string {
	if e.cause == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.cause)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds an Error of the given kind wrapping cause. For Internal, a
// non-nil cause is always annotated with errors.WithStack, even if it
// already carries a stack trace.
func New(kind Kind, cause error, msg string) *Error {
	if kind == Internal && cause != nil {
		cause = errors.WithStack(cause)
	}
	if msg != "" {
		if cause != nil {
			cause = errors.Wrap(cause, msg)
		} else {
			cause = errors.New(msg)
		}
	}
	return &Error{Kind: kind, cause: cause}
}

// Newf is New with a formatted message.
func Newf(kind Kind, cause error, format string, args ...any) *Error {
	return New(kind, cause, fmt.Sprintf(format, args...))
}

// As reports whether err is (or wraps) an *Error, returning it on success.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Is reports whether err is (or wraps) an *Error of the given kind.
func Is(err error, kind Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == kind
}
