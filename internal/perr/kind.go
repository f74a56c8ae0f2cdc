// Package perr defines the error kinds used across the runtime (see error
// handling design). Kinds are plain sentinels, not a type hierarchy; callers
// compare with Is or unwrap with As on *Error.
package perr

import "errors"

type Kind string

const (
	ConfigError          Kind = "config_error"
	StreamTransportError Kind = "stream_transport_error"
	SchemaMismatch       Kind = "schema_mismatch"
	LLMTimeout           Kind = "llm_timeout"
	LLMRateLimited       Kind = "llm_rate_limited"
	LLMError             Kind = "llm_error"
	ToolTimeout          Kind = "tool_timeout"
	ToolArgumentInvalid  Kind = "tool_argument_invalid"
	ToolExecutionError   Kind = "tool_execution_error"
	UnknownTool          Kind = "unknown_tool"
	MemoryUnavailable    Kind = "memory_unavailable"
	IterationCapReached  Kind = "iteration_cap_reached"
)

// Error wraps an underlying cause with a Kind for policy dispatch.
type Error struct {
	K       Kind
	Message string
	Cause   error
}

func New(k Kind, msg string) *Error { return &Error{K: k, Message: msg} }

func Wrap(k Kind, msg string, cause error) *Error {
	return &Error{K: k, Message: msg, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func (e *Error) Kind() Kind { return e.K }

// KindOf extracts the Kind from err, if any part of its chain is an *Error.
func KindOf(err error) (Kind, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.K, true
	}
	return "", false
}

// Is lets errors.Is(err, SomeKind) work by wrapping kinds as sentinel errors
// for comparison convenience in tests.
func (k Kind) Error() string { return string(k) }

func (e *Error) Is(target error) bool {
	if k, ok := target.(Kind); ok {
		return e.K == k
	}
	return false
}
