package engine

import (
	"llamaworker/internal/llama"
	"llamaworker/internal/sampler"
)

// seqID is the sequence id used for every batch and KV operation. The
// value 1 is inherited as-is; no reason for avoiding 0 is claimed here.
// Preserved as a literal constant rather than made configurable — see
// DESIGN.md Open Question (i).
const seqID int32 = 1

// NativeHandle is the subset of *llama.Context a ContextState drives.
// Expressed as an interface so engine logic is unit-testable without a
// linked libllama.
type NativeHandle interface {
	Tokenize(text string, addBOS bool) ([]llama.TokenID, error)
	DecodeBatch(tokens []llama.TokenID, pos0 int, seqID int32, wantAllLogits bool) error
	LogitsRow(i int) []float32
	SeqRemove(seqID int32, p0, p1 int)
	EOS() llama.TokenID
	VocabSize() int
	TokenText(id llama.TokenID) string
	SampleGreedy(candidates []llama.CandidateData) llama.TokenID
	SampleProbabilistic(candidates []llama.CandidateData) llama.TokenID
	Free()
}

// nativeContext adapts *llama.Context to NativeHandle: llama.Tokenize is a
// package function (it needs the context for the tokenize call but isn't
// otherwise context state), so it's wrapped as a method here to let
// ContextState depend on one interface instead of a function value plus a
// struct.
type nativeContext struct {
	*llama.Context
}

func (n nativeContext) Tokenize(text string, addBOS bool) ([]llama.TokenID, error) {
	return llama.Tokenize(n.Context, text, addBOS)
}

// WrapNative adapts a concrete *llama.Context into a NativeHandle.
func WrapNative(ctx *llama.Context) NativeHandle {
	return nativeContext{ctx}
}

// ContextState is the per-context holder of the token buffer, logits
// buffer, and candidate slab, enforcing the invariant
// logits.length <= tokens.length <= contextSize.
type ContextState struct {
	ID          uint64
	ModelID     uint64
	Native      NativeHandle
	ContextSize int
	BatchSize   int

	tokens    []llama.TokenID
	texts     []string
	logits    [][]float32
	candidate *sampler.Slab
	textCache *llama.TextCache
}

// NewContextState builds an empty context state bound to an already
// allocated native context.
func NewContextState(id, modelID uint64, native NativeHandle, contextSize, batchSize int) *ContextState {
	return &ContextState{
		ID:          id,
		ModelID:     modelID,
		Native:      native,
		ContextSize: contextSize,
		BatchSize:   batchSize,
		textCache:   llama.NewTextCache(),
	}
}

// TokensLength returns the current token buffer length.
func (c *ContextState) TokensLength() int { return len(c.tokens) }

// LogitsLength returns the current logits buffer length.
func (c *ContextState) LogitsLength() int { return len(c.logits) }

// NeedsIngesting reports whether any tokens are pending ingest.
func (c *ContextState) NeedsIngesting() bool { return len(c.logits) < len(c.tokens) }

func (c *ContextState) text(id llama.TokenID) string {
	return c.textCache.Lookup(id, c.Native.TokenText)
}

// Tokenize appends tokens decoded from text to the token buffer. The BOS
// marker is prepended only when the buffer is currently empty. Returns
// the appended tokens and their start index.
func (c *ContextState) Tokenize(text string) ([]llama.Token, int, error) {
	addBOS := len(c.tokens) == 0
	ids, err := c.Native.Tokenize(text, addBOS)
	if err != nil {
		return nil, 0, err
	}
	start := len(c.tokens)
	out := make([]llama.Token, len(ids))
	for i, id := range ids {
		t := c.text(id)
		out[i] = llama.Token{ID: id, Text: t}
		c.tokens = append(c.tokens, id)
		c.texts = append(c.texts, t)
	}
	return out, start, nil
}

// Edit truncates the token/logits buffers to newLength, pruning the
// native KV cache if logits were truncated. newLength == nil
// is a no-op. Rejects newLength greater than the current token length.
func (c *ContextState) Edit(newLength *int) error {
	if newLength == nil {
		return nil
	}
	l := *newLength
	if l == len(c.tokens) {
		return nil
	}
	if l > len(c.tokens) {
		return newError(InvalidArgument, "edit length %d exceeds current token buffer length %d", l, len(c.tokens))
	}
	if l < 0 {
		return newError(InvalidArgument, "edit length %d is negative", l)
	}
	c.tokens = c.tokens[:l]
	c.texts = c.texts[:l]
	if len(c.logits) > l {
		c.logits = c.logits[:l]
		c.Native.SeqRemove(seqID, l, -1)
	}
	return nil
}

// AppendLogitsRow records a freshly decoded logits row as the next entry
// in the logits buffer.
func (c *ContextState) AppendLogitsRow(row []float32) {
	cp := make([]float32, len(row))
	copy(cp, row)
	c.logits = append(c.logits, cp)
}

// LastLogitsRow returns the most recently appended logits row, the input
// to the next sampler chain run.
func (c *ContextState) LastLogitsRow() []float32 {
	if len(c.logits) == 0 {
		return nil
	}
	return c.logits[len(c.logits)-1]
}

// AppendToken records a token chosen by the sampler chain into the token
// buffer (generation, as opposed to Tokenize's ingest-side append).
func (c *ContextState) AppendToken(tok llama.Token) {
	c.tokens = append(c.tokens, tok.ID)
	c.texts = append(c.texts, tok.Text)
	c.textCache.Store(tok.ID, tok.Text)
}

// History returns the token buffer as Token values, for samplers that
// look backward (repetition penalty, stop sequences).
func (c *ContextState) History() []llama.Token {
	out := make([]llama.Token, len(c.tokens))
	for i, id := range c.tokens {
		out[i] = llama.Token{ID: id, Text: c.texts[i]}
	}
	return out
}

// CandidateSlab returns the context's reusable candidate slab, allocating
// it lazily at the model's vocabulary size on first use.
func (c *ContextState) CandidateSlab() *sampler.Slab {
	if c.candidate == nil {
		c.candidate = sampler.NewSlab(c.Native.VocabSize())
	}
	return c.candidate
}

// Free releases the native context. Caller is responsible for checking
// the model/context reference bookkeeping before calling this.
func (c *ContextState) Free() {
	c.Native.Free()
}
