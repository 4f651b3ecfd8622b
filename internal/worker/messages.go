// Package worker implements the single-threaded executor that owns every
// native handle: it receives control messages on an inbound
// channel, drives the engine and llama packages, and emits response
// messages on a single outbound channel that the client façade
// demultiplexes by request id.
package worker

import (
	"llamaworker/internal/engine"
	"llamaworker/internal/llama"
	"llamaworker/internal/sampler"
)

// RequestID is the 32-bit correlation id every control carries and every
// response echoes. 0 is reserved for the initial handshake that publishes
// the worker's inbound channel.
type RequestID uint32

// Control is the closed set of messages a caller may send to the worker.
// Exactly one of the embedded payload fields is meaningful per variant,
// selected by Kind.
type Control struct {
	ID   RequestID
	Kind ControlKind

	// LoadModel
	ModelPath   string
	ModelParams llama.ModelParams

	// FreeModel / FreeContext
	Handle uint64

	// NewContext
	ModelHandle   uint64
	ContextParams llama.ContextParams

	// Tokenize
	ContextHandle uint64
	Text          string

	// Edit
	NewLength *int

	// Generate
	Samplers *sampler.Chain
}

// ControlKind discriminates Control variants.
type ControlKind int

const (
	ControlExit ControlKind = iota
	ControlLoadModel
	ControlFreeModel
	ControlNewContext
	ControlFreeContext
	ControlTokenize
	ControlEdit
	ControlIngest
	ControlGenerate
)

// ResponseKind discriminates Response variants, including the streaming
// intermediate kinds (progress, handshake, token) that precede a final
// done/error for their control.
type ResponseKind int

const (
	ResponseExitDone ResponseKind = iota
	ResponseLoadModelProgress
	ResponseLoadModelDone
	ResponseFreeModelDone
	ResponseNewContextDone
	ResponseFreeContextDone
	ResponseTokenizeDone
	ResponseEditDone
	ResponseIngestHandshake
	ResponseIngestDone
	ResponseGenerateHandshake
	ResponseGenerateToken
	ResponseGenerateDone
)

// Response is the envelope every worker reply is wrapped in: {id, err?,
// payload?}, widened with one field per payload shape rather
// than a generic interface{} so callers don't need type assertions.
type Response struct {
	ID   RequestID
	Kind ResponseKind
	Err  *engine.Error

	ModelHandle   uint64
	ContextHandle uint64
	Progress      float32

	Tokens     []llama.Token
	StartIndex int

	Token llama.Token

	// Cancel is the handshake's cancel channel: closing it (or sending a
	// value) signals the worker to abandon the in-flight streaming call
	// at its next cooperative yield point.
	Cancel chan<- struct{}
}
