package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llamaworker/internal/llama"
	"llamaworker/internal/sampler"
)

// fakeNative is an in-memory NativeHandle for exercising ContextState,
// Ingest and Generate without cgo. Logits are deterministic: every row
// favors token id 0 (never the EOS id), so a greedy chain is fully
// predictable.
type fakeNative struct {
	vocab      int
	eos        llama.TokenID
	decodeCall int
	decodeErr  error
	seqRemoves [][3]int
}

func newFakeNative(vocab int) *fakeNative {
	return &fakeNative{vocab: vocab, eos: llama.TokenID(vocab - 1)}
}

func (f *fakeNative) Tokenize(text string, addBOS bool) ([]llama.TokenID, error) {
	ids := make([]llama.TokenID, 0, len(text)+1)
	if addBOS {
		ids = append(ids, 1)
	}
	for i := range text {
		ids = append(ids, llama.TokenID(2+i%(f.vocab-2)))
	}
	return ids, nil
}

func (f *fakeNative) DecodeBatch(tokens []llama.TokenID, pos0 int, seqID int32, wantAllLogits bool) error {
	f.decodeCall++
	return f.decodeErr
}

func (f *fakeNative) LogitsRow(i int) []float32 {
	row := make([]float32, f.vocab)
	favored := llama.TokenID(0)
	row[favored] = 10.0
	return row
}

func (f *fakeNative) SeqRemove(seqID int32, p0, p1 int) {
	f.seqRemoves = append(f.seqRemoves, [3]int{int(seqID), p0, p1})
}
func (f *fakeNative) EOS() llama.TokenID                { return f.eos }
func (f *fakeNative) VocabSize() int                    { return f.vocab }
func (f *fakeNative) TokenText(id llama.TokenID) string { return "t" }

func (f *fakeNative) SampleGreedy(candidates []llama.CandidateData) llama.TokenID {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Logit > best.Logit {
			best = c
		}
	}
	return best.ID
}

func (f *fakeNative) SampleProbabilistic(candidates []llama.CandidateData) llama.TokenID {
	return f.SampleGreedy(candidates)
}

func (f *fakeNative) Free() {}

func TestTokenizeFirstCallPrependsBOS(t *testing.T) {
	n := newFakeNative(8)
	state := NewContextState(1, 1, n, 19, 19)

	toks, start, err := state.Tokenize("ab")
	require.NoError(t, err)
	assert.Equal(t, 0, start)
	require.NotEmpty(t, toks)
	assert.Equal(t, llama.TokenID(1), toks[0].ID)

	// A second tokenize call must not re-prepend BOS.
	toks2, start2, err := state.Tokenize("c")
	require.NoError(t, err)
	assert.Equal(t, len(toks), start2)
	require.Len(t, toks2, 1)
	assert.Equal(t, llama.TokenID(2), toks2[0].ID)
}

func TestEditRejectsGrowth(t *testing.T) {
	n := newFakeNative(8)
	state := NewContextState(1, 1, n, 19, 19)
	state.Tokenize("ab")

	grown := state.TokensLength() + 1
	err := state.Edit(&grown)
	require.Error(t, err)
	var engineErr *Error
	require.ErrorAs(t, err, &engineErr)
	assert.Equal(t, InvalidArgument, engineErr.Kind)
}

func TestEditTruncatesLogitsAndPrunesKV(t *testing.T) {
	n := newFakeNative(8)
	state := NewContextState(1, 1, n, 19, 19)
	state.Tokenize("abcde")
	_, err := Ingest(state, nil)
	require.NoError(t, err)
	require.Equal(t, state.TokensLength(), state.LogitsLength())

	shrink := 2
	require.NoError(t, state.Edit(&shrink))
	assert.Equal(t, 2, state.TokensLength())
	assert.Equal(t, 2, state.LogitsLength())
	assert.Equal(t, [][3]int{{1, 2, -1}}, n.seqRemoves)
}

func TestEditIdempotence(t *testing.T) {
	n := newFakeNative(8)
	state := NewContextState(1, 1, n, 19, 19)
	state.Tokenize("abcde")
	l := 3
	require.NoError(t, state.Edit(&l))
	before := state.TokensLength()
	require.NoError(t, state.Edit(&l))
	assert.Equal(t, before, state.TokensLength())
}

func ingestCancel(cancel chan struct{}) {
	close(cancel)
}

func TestIngestFillsAllLogits(t *testing.T) {
	n := newFakeNative(8)
	state := NewContextState(1, 1, n, 19, 3) // batch width 3
	state.Tokenize("abcdefg")

	cancelled, err := Ingest(state, nil)
	require.NoError(t, err)
	assert.False(t, cancelled)
	assert.Equal(t, state.TokensLength(), state.LogitsLength())
}

func TestIngestIdempotentOnSecondCall(t *testing.T) {
	n := newFakeNative(8)
	state := NewContextState(1, 1, n, 19, 19)
	state.Tokenize("abc")
	_, err := Ingest(state, nil)
	require.NoError(t, err)
	calls := n.decodeCall
	_, err = Ingest(state, nil)
	require.NoError(t, err)
	assert.Equal(t, calls, n.decodeCall)
}

func TestIngestCancellationLeavesInvariant(t *testing.T) {
	n := newFakeNative(8)
	state := NewContextState(1, 1, n, 19, 1)
	state.Tokenize("abcdefg")

	cancel := make(chan struct{})
	close(cancel)
	cancelled, err := Ingest(state, cancel)
	require.NoError(t, err)
	assert.True(t, cancelled)
	assert.LessOrEqual(t, state.LogitsLength(), state.TokensLength())
}

func TestGenerateFailsWhenNeedsIngesting(t *testing.T) {
	n := newFakeNative(8)
	state := NewContextState(1, 1, n, 19, 19)
	state.Tokenize("ab")
	chain := &sampler.Chain{Stages: []sampler.Sampler{&sampler.Greedy{}}}

	_, err := Generate(state, chain, nil, func(llama.Token) {})
	require.Error(t, err)
	var engineErr *Error
	require.ErrorAs(t, err, &engineErr)
	assert.Equal(t, StateViolation, engineErr.Kind)
}

func TestGenerateEmitsTokensUntilContextFull(t *testing.T) {
	n := newFakeNative(8)
	state := NewContextState(1, 1, n, 4, 4)
	state.Tokenize("a")
	_, err := Ingest(state, nil)
	require.NoError(t, err)

	chain := &sampler.Chain{Stages: []sampler.Sampler{&sampler.Greedy{}}}
	var emitted []llama.Token
	_, err = Generate(state, chain, nil, func(tok llama.Token) { emitted = append(emitted, tok) })
	require.NoError(t, err)
	assert.Equal(t, state.TokensLength(), state.LogitsLength())
	assert.Equal(t, state.ContextSize, state.LogitsLength())
	assert.NotEmpty(t, emitted)
}
