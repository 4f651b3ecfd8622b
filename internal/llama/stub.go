//go:build !llamacpp_cgo

package llama

// Stub build: no cgo, no linked libllama. Every entry point that returns an
// error fails with ErrNativeUnavailable; the rest are no-ops or return
// fixed placeholder values. This lets the rest of the module (worker,
// engine, sampler, client) link and test independently of a native
// toolchain.

// Model is an opaque reference to loaded weights (stub).
type Model struct{}

// Context is an opaque inference context (stub).
type Context struct{}

// BackendInit is a no-op in the stub build.
func BackendInit() {}

// BackendFree is a no-op in the stub build.
func BackendFree() {}

// LoadModel always fails in the stub build.
func LoadModel(path string, params ModelParams, requestID uint32, onProgress ProgressFunc) (*Model, error) {
	return nil, ErrNativeUnavailable
}

// Free is a no-op in the stub build.
func (m *Model) Free() {}

// VocabSize always returns 0 in the stub build.
func (m *Model) VocabSize() int { return 0 }

// NewContext always fails in the stub build.
func (m *Model) NewContext(params ContextParams) (*Context, error) {
	return nil, ErrNativeUnavailable
}

// Free is a no-op in the stub build.
func (c *Context) Free() {}

// Tokenize always fails in the stub build.
func Tokenize(ctx *Context, text string, addBOS bool) ([]TokenID, error) {
	return nil, ErrNativeUnavailable
}

// DecodeBatch always fails in the stub build.
func (c *Context) DecodeBatch(tokens []TokenID, pos0 int, seqID int32, wantAllLogits bool) error {
	return ErrNativeUnavailable
}

// LogitsRow always returns nil in the stub build.
func (c *Context) LogitsRow(i int) []float32 { return nil }

// SeqRemove is a no-op in the stub build.
func (c *Context) SeqRemove(seqID int32, p0, p1 int) {}

// EOS always returns -1 in the stub build.
func (c *Context) EOS() TokenID { return -1 }

// VocabSize always returns 0 in the stub build.
func (c *Context) VocabSize() int { return 0 }

// TokenText always returns "" in the stub build.
func (c *Context) TokenText(id TokenID) string { return "" }

// CandidateData is the Go mirror of llama_token_data.
type CandidateData struct {
	ID    TokenID
	Logit float32
	P     float32
}

// SampleGreedy always returns 0 in the stub build.
func (c *Context) SampleGreedy(candidates []CandidateData) TokenID { return 0 }

// SampleProbabilistic always returns 0 in the stub build.
func (c *Context) SampleProbabilistic(candidates []CandidateData) TokenID { return 0 }
