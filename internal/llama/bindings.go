//go:build llamacpp_cgo

package llama

/*
#cgo CFLAGS: -I${SRCDIR}/../../third_party/llama.cpp
#cgo LDFLAGS: -L${SRCDIR}/../../third_party/llama.cpp -lllama -lm -lstdc++
#cgo linux LDFLAGS: -lrt -ldl -lpthread
#cgo darwin LDFLAGS: -framework Foundation -framework Metal -framework MetalKit

#include <stdlib.h>
#include <string.h>
#include "llama.h"

// llamaworker_progress_trampoline forwards llama.cpp's load-progress
// callback to the Go side. user_data carries the originating request id
// smuggled directly in the pointer's bit pattern (see the Go-side
// llamaworker_progress_trampoline below).
extern bool llamaworker_progress_trampoline(float progress, void *user_data);

static struct llama_model_params llamaworker_model_params(
	bool use_mmap, bool use_mlock, bool vocab_only,
	int32_t n_gpu_layers, int32_t main_gpu, uint32_t request_id
) {
	struct llama_model_params p = llama_model_default_params();
	p.use_mmap = use_mmap;
	p.use_mlock = use_mlock;
	p.vocab_only = vocab_only;
	p.n_gpu_layers = n_gpu_layers;
	p.main_gpu = main_gpu;
	p.progress_callback = llamaworker_progress_trampoline;
	p.progress_callback_user_data = (void *)(uintptr_t)request_id;
	return p;
}

static struct llama_context_params llamaworker_context_params(
	uint32_t seed, uint32_t n_ctx, uint32_t n_batch,
	float rope_freq_base, float rope_freq_scale,
	bool mul_mat_q, bool f16_kv, bool logits_all, bool embedding
) {
	struct llama_context_params p = llama_context_default_params();
	p.seed = seed;
	p.n_ctx = n_ctx;
	p.n_batch = n_batch;
	p.rope_freq_base = rope_freq_base;
	p.rope_freq_scale = rope_freq_scale;
	p.mul_mat_q = mul_mat_q;
	p.f16_kv = f16_kv;
	p.logits_all = logits_all;
	p.embedding = embedding;
	return p;
}

// llamaworker_batch_fill writes n tokens into batch at absolute positions
// starting at pos0, all on one sequence id, requesting a logits row for
// every position when want_all_logits is set (ingest) or only the final
// position otherwise (single-token generate step).
static void llamaworker_batch_fill(
	struct llama_batch *batch, const llama_token *tokens, int n,
	int32_t pos0, llama_seq_id seq_id, bool want_all_logits
) {
	batch->n_tokens = n;
	for (int i = 0; i < n; i++) {
		batch->token[i] = tokens[i];
		batch->pos[i] = pos0 + i;
		batch->n_seq_id[i] = 1;
		batch->seq_id[i][0] = seq_id;
		batch->logits[i] = want_all_logits || (i == n - 1);
	}
}

static void llamaworker_mute_log(enum ggml_log_level level, const char *text, void *user) {
	(void)user;
	if (level <= GGML_LOG_LEVEL_WARN) return;
	fputs(text, stderr);
}
*/
import "C"

import (
	"runtime"
	"sync"
	"unsafe"
)

// Asserts that a 32-bit request id always fits the bit pattern of a native
// void*, per the smuggling scheme documented in SPEC_FULL.md §4.B and §9.
// Every Go-supported architecture has >=32-bit pointers, so this
// never actually fires; it documents the assumption instead of leaving it
// implicit.
const _ = uint(unsafe.Sizeof(uintptr(0))*8 - 32)

var (
	progressMu        sync.Mutex
	progressCallbacks = map[uint32]ProgressFunc{}
)

//export llamaworker_progress_trampoline
func llamaworker_progress_trampoline(progress C.float, userData unsafe.Pointer) C.bool {
	id := uint32(uintptr(userData))
	progressMu.Lock()
	cb := progressCallbacks[id]
	progressMu.Unlock()
	if cb != nil {
		cb(float32(progress))
	}
	return C.bool(true) // never cancel the load from here
}

// BackendInit wraps llama_backend_init(numa=false) and installs the mute
// log handler.
func BackendInit() {
	C.llama_backend_init()
	C.llama_log_set((C.ggml_log_callback)(C.llamaworker_mute_log), nil)
}

// BackendFree wraps llama_backend_free().
func BackendFree() {
	C.llama_backend_free()
}

// Model is an opaque reference to loaded weights.
type Model struct {
	native *C.struct_llama_model
}

// Context is an opaque inference context bound to exactly one Model.
type Context struct {
	native *C.struct_llama_context
	model  *Model
	batch  C.struct_llama_batch
	nBatch int
}

// LoadModel wraps llama_load_model_from_file. requestID keys the progress
// callback map for the duration of this call only.
func LoadModel(path string, params ModelParams, requestID uint32, onProgress ProgressFunc) (*Model, error) {
	if onProgress != nil {
		progressMu.Lock()
		progressCallbacks[requestID] = onProgress
		progressMu.Unlock()
		defer func() {
			progressMu.Lock()
			delete(progressCallbacks, requestID)
			progressMu.Unlock()
		}()
	}

	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))

	cParams := C.llamaworker_model_params(
		C.bool(params.UseMemoryMap),
		C.bool(params.UseMemoryLock),
		C.bool(params.VocabOnly),
		C.int32_t(params.GPULayers),
		C.int32_t(params.MainGPU),
		C.uint32_t(requestID),
	)

	native := C.llama_load_model_from_file(cPath, cParams)
	if native == nil {
		return nil, ErrLoadFailed
	}
	return &Model{native: native}, nil
}

// Free wraps llama_free_model.
func (m *Model) Free() {
	if m.native != nil {
		C.llama_free_model(m.native)
		m.native = nil
	}
}

// VocabSize wraps llama_n_vocab.
func (m *Model) VocabSize() int {
	return int(C.llama_n_vocab(m.native))
}

// NewContext wraps llama_new_context_with_model + llama_batch_init, sizing
// the native batch slab to params.BatchSize.
func (m *Model) NewContext(params ContextParams) (*Context, error) {
	cParams := C.llamaworker_context_params(
		C.uint32_t(params.Seed),
		C.uint32_t(params.ContextSize),
		C.uint32_t(params.BatchSize),
		C.float(params.RopeFreqBase),
		C.float(params.RopeFreqScale),
		C.bool(params.MulMatQ),
		C.bool(params.F16KV),
		C.bool(params.ComputeAllLogits),
		C.bool(params.EmbeddingOnly),
	)

	native := C.llama_new_context_with_model(m.native, cParams)
	if native == nil {
		return nil, ErrAllocFailed
	}

	batch := C.llama_batch_init(C.int32_t(params.BatchSize), 0, 1)

	return &Context{native: native, model: m, batch: batch, nBatch: params.BatchSize}, nil
}

// Free wraps llama_batch_free + llama_free.
func (c *Context) Free() {
	if c.native != nil {
		C.llama_batch_free(c.batch)
		C.llama_free(c.native)
		c.native = nil
	}
}

// Tokenize wraps llama_tokenize. addBOS controls whether the BOS marker is
// prepended; callers should pass true only for the first tokenize call on
// an empty token buffer.
func Tokenize(ctx *Context, text string, addBOS bool) ([]TokenID, error) {
	cText := C.CString(text)
	defer C.free(unsafe.Pointer(cText))

	capacity := len(text) + 8
	buf := make([]C.llama_token, capacity)

	n := C.llama_tokenize(
		C.llama_get_model(ctx.native),
		cText, C.int32_t(len(text)),
		(*C.llama_token)(unsafe.Pointer(&buf[0])), C.int32_t(capacity),
		C.bool(addBOS), C.bool(false),
	)
	if n < 0 {
		return nil, &NativeCallFailure{Call: "tokenize", Status: int(n)}
	}

	out := make([]TokenID, int(n))
	for i := range out {
		out[i] = TokenID(buf[i])
	}
	return out, nil
}

// DecodeBatch fills the context's reusable batch slab with tokens starting
// at absolute position pos0 on seqID and invokes llama_decode.
// wantAllLogits requests a logits row for every position (ingest); a
// single trailing position always gets one regardless (generate step).
func (c *Context) DecodeBatch(tokens []TokenID, pos0 int, seqID int32, wantAllLogits bool) error {
	n := len(tokens)
	if n == 0 {
		return nil
	}
	if n > c.nBatch {
		return &NativeCallFailure{Call: "decode", Status: -1}
	}
	cTokens := make([]C.llama_token, n)
	for i, t := range tokens {
		cTokens[i] = C.llama_token(t)
	}
	C.llamaworker_batch_fill(&c.batch, &cTokens[0], C.int(n), C.int32_t(pos0), C.llama_seq_id(seqID), C.bool(wantAllLogits))

	status := C.llama_decode(c.native, c.batch)
	if status != 0 {
		return &NativeCallFailure{Call: "decode", Status: int(status)}
	}
	return nil
}

// LogitsRow wraps llama_get_logits_ith, copying out the row for the i-th
// token submitted in the most recent decode call (vocab-size floats).
func (c *Context) LogitsRow(i int) []float32 {
	vocab := c.model.VocabSize()
	ptr := C.llama_get_logits_ith(c.native, C.int32_t(i))
	return unsafe.Slice((*float32)(unsafe.Pointer(ptr)), vocab)
}

// SeqRemove wraps llama_kv_cache_seq_rm(ctx, seq_id, p0, p1). p1 == -1
// means "to the end", used when a context's logits buffer is truncated.
func (c *Context) SeqRemove(seqID int32, p0, p1 int) {
	C.llama_kv_cache_seq_rm(c.native, C.llama_seq_id(seqID), C.int32_t(p0), C.int32_t(p1))
}

// EOS wraps llama_token_eos.
func (c *Context) EOS() TokenID {
	return TokenID(C.llama_token_eos(c.model.native))
}

// VocabSize wraps llama_n_vocab for the context's bound model.
func (c *Context) VocabSize() int {
	return c.model.VocabSize()
}

// TokenText wraps llama_token_get_text + normalizeTokenText.
func (c *Context) TokenText(id TokenID) string {
	cstr := C.llama_token_get_text(c.model.native, C.llama_token(id))
	return normalizeTokenText(C.GoString(cstr))
}

// CandidateData is the Go mirror of llama_token_data.
type CandidateData struct {
	ID    TokenID
	Logit float32
	P     float32
}

// SampleGreedy wraps llama_sample_token_greedy over the candidate array as
// staged by the sampler chain.
func (c *Context) SampleGreedy(candidates []CandidateData) TokenID {
	arr, pin := toCArray(candidates)
	defer pin()
	return TokenID(C.llama_sample_token_greedy(c.native, &arr))
}

// SampleProbabilistic wraps llama_sample_token (weighted draw over the
// distribution currently staged in candidates).
func (c *Context) SampleProbabilistic(candidates []CandidateData) TokenID {
	arr, pin := toCArray(candidates)
	defer pin()
	return TokenID(C.llama_sample_token(c.native, &arr))
}

func toCArray(candidates []CandidateData) (C.llama_token_data_array, func()) {
	cdata := make([]C.llama_token_data, len(candidates))
	for i, cd := range candidates {
		cdata[i] = C.llama_token_data{
			id:    C.llama_token(cd.ID),
			logit: C.float(cd.Logit),
			p:     C.float(cd.P),
		}
	}
	arr := C.llama_token_data_array{
		data:   (*C.llama_token_data)(unsafe.Pointer(&cdata[0])),
		size:   C.size_t(len(cdata)),
		sorted: C.bool(false),
	}
	return arr, func() { runtime.KeepAlive(cdata) }
}
