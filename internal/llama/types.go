// Package llama contains the thin native-primitives façade over llama.cpp.
//
// Every exported type here is value-typed and carries no goroutine-safety
// guarantees of its own: callers (the worker package) are expected to be
// the sole owner of a given Model/Context and to serialize all calls onto
// one goroutine, exactly as llama.cpp itself expects a single-threaded
// caller per context.
package llama

import "fmt"

// TokenID is a vocabulary entry id as reported by llama.cpp.
type TokenID int32

// Token pairs a vocabulary id with its decoded, normalized text — the unit
// the client façade streams out of Generate and accumulates in a context's
// token buffer.
type Token struct {
	ID   TokenID
	Text string
}

// ModelParams mirrors llama_model_params.
type ModelParams struct {
	GPULayers   int
	MainGPU     int
	VocabOnly   bool
	UseMemoryMap  bool
	UseMemoryLock bool
}

// DefaultModelParams matches llama.cpp's llama_model_default_params().
func DefaultModelParams() ModelParams {
	return ModelParams{
		UseMemoryMap: true,
	}
}

// ContextParams mirrors llama_context_params.
type ContextParams struct {
	Seed             uint32
	ContextSize      int
	BatchSize        int
	RopeFreqBase     float32
	RopeFreqScale    float32
	MulMatQ          bool
	F16KV            bool
	ComputeAllLogits bool
	EmbeddingOnly    bool
}

// DefaultContextParams matches llama.cpp's llama_context_default_params(),
// with ComputeAllLogits defaulted on so every decode call populates a full
// logits row.
func DefaultContextParams() ContextParams {
	return ContextParams{
		ContextSize:      512,
		BatchSize:        512,
		RopeFreqBase:     10000.0,
		RopeFreqScale:    1.0,
		MulMatQ:          true,
		F16KV:            true,
		ComputeAllLogits: true,
	}
}

// ProgressFunc is invoked by the native loader as model weights stream in.
// fraction is in [0, 1].
type ProgressFunc func(fraction float32)

// NativeCallFailure wraps a non-zero/negative status code returned by a
// native call (decode, tokenize, ...).
type NativeCallFailure struct {
	Call   string
	Status int
}

func (e *NativeCallFailure) Error() string {
	return fmt.Sprintf("llama: native call %q failed with status %d", e.Call, e.Status)
}

var (
	// ErrLoadFailed is returned when load_model_from_file returns null.
	ErrLoadFailed = fmt.Errorf("llama: model load failed")
	// ErrAllocFailed is returned when new_context_with_model returns null.
	ErrAllocFailed = fmt.Errorf("llama: context allocation failed")
	// ErrNativeUnavailable is returned by every entry point in the stub
	// build (no llamacpp_cgo build tag / no cgo).
	ErrNativeUnavailable = fmt.Errorf("llama: native backend not available (build with -tags llamacpp_cgo and a linked libllama)")
)

// spaceGlyph is llama.cpp's SentencePiece word-boundary marker (U+2581,
// "LOWER ONE EIGHTH BLOCK"), rewritten to ASCII space on every text lookup.
const spaceGlyph = '▁'

func normalizeTokenText(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == spaceGlyph {
			out = append(out, ' ')
			continue
		}
		out = append(out, r)
	}
	return string(out)
}
