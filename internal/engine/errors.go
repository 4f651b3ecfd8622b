// Package engine holds the per-context state (token/logits/candidate
// buffers), the batched ingest driver, and the generate loop — the parts
// of the worker that mutate a context's buffers in lockstep with native
// calls, as opposed to the worker's message dispatch loop itself.
package engine

import (
	"errors"
	"fmt"

	"llamaworker/internal/llama"
	"llamaworker/internal/sampler"
)

// Kind is one of a closed set of error categories the worker can surface.
// Kept as string values rather than a type hierarchy so the worker can
// serialize them directly into a response envelope's err field.
type Kind string

const (
	NativeLoadFailure     Kind = "native_load_failure"
	NativeAllocFailure    Kind = "native_alloc_failure"
	NativeCallFailure     Kind = "native_call_failure"
	UnknownHandle         Kind = "unknown_handle"
	HandleStillReferenced Kind = "handle_still_referenced"
	InvalidArgument       Kind = "invalid_argument"
	StateViolation        Kind = "state_violation"
	SamplerMisuse         Kind = "sampler_misuse"
	UnknownLogLevel       Kind = "unknown_log_level"
)

// Error is the wire-level error a response envelope carries. Status is
// only meaningful for NativeCallFailure.
type Error struct {
	Kind    Kind
	Message string
	Status  int
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Kind, e.Message, e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Classify maps an error surfaced by the llama or sampler package onto a
// wire-level Kind, falling back to NativeCallFailure for anything
// unrecognized rather than losing the error.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var asEngine *Error
	if errors.As(err, &asEngine) {
		return asEngine
	}
	if errors.Is(err, llama.ErrLoadFailed) {
		return newError(NativeLoadFailure, "%v", err)
	}
	if errors.Is(err, llama.ErrAllocFailed) {
		return newError(NativeAllocFailure, "%v", err)
	}
	var callFailure *llama.NativeCallFailure
	if errors.As(err, &callFailure) {
		return &Error{Kind: NativeCallFailure, Message: callFailure.Error(), Status: callFailure.Status}
	}
	var misuse *sampler.MisuseError
	if errors.As(err, &misuse) {
		return newError(SamplerMisuse, "%v", err)
	}
	return newError(NativeCallFailure, "%v", err)
}
