package sampler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llamaworker/internal/llama"
)

// fakeNative is a NativeContext stand-in for tests that never touch cgo.
// It implements the two terminal samplers directly in Go (argmax and a
// deterministic highest-probability draw), which is enough to exercise
// chain shape and ordering without a linked libllama.
type fakeNative struct {
	eos    llama.TokenID
	text   map[llama.TokenID]string
}

func newFakeNative(vocab int) *fakeNative {
	text := make(map[llama.TokenID]string, vocab)
	for i := 0; i < vocab; i++ {
		text[llama.TokenID(i)] = "tok"
	}
	return &fakeNative{eos: llama.TokenID(vocab - 1), text: text}
}

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
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.P > best.P {
			best = c
		}
	}
	return best.ID
}

func (f *fakeNative) TokenText(id llama.TokenID) string { return f.text[id] }
func (f *fakeNative) EOS() llama.TokenID                { return f.eos }

func slabWithLogits(logits ...float32) *Slab {
	s := NewSlab(len(logits))
	s.LoadFromLogits(logits)
	return s
}

func TestChainGreedyPicksArgmax(t *testing.T) {
	nc := newFakeNative(4)
	sc := &Context{Candidates: slabWithLogits(0.1, 5.0, 2.0, -1.0)}
	chain := &Chain{Stages: []Sampler{&Greedy{}}}

	tok, err := chain.Run(sc, nc)
	require.NoError(t, err)
	assert.Equal(t, llama.TokenID(1), tok.ID)
}

func TestChainWithoutTerminalDefaultsToProbabilistic(t *testing.T) {
	nc := newFakeNative(3)
	sc := &Context{Candidates: slabWithLogits(1.0, 9.0, 0.5)}
	chain := &Chain{Stages: []Sampler{&Temperature{Temp: 1.0}}}

	tok, err := chain.Run(sc, nc)
	require.NoError(t, err)
	assert.Equal(t, llama.TokenID(1), tok.ID)
}

func TestChainTerminalNotLastIsMisuse(t *testing.T) {
	nc := newFakeNative(3)
	sc := &Context{Candidates: slabWithLogits(1.0, 2.0, 3.0)}
	chain := &Chain{Stages: []Sampler{&Greedy{}, &Temperature{Temp: 0.5}}}

	_, err := chain.Run(sc, nc)
	require.Error(t, err)
	var misuse *MisuseError
	assert.ErrorAs(t, err, &misuse)
}

func TestTopKTruncates(t *testing.T) {
	nc := newFakeNative(5)
	sc := &Context{Candidates: slabWithLogits(1, 5, 3, 4, 2)}
	stage := &TopK{K: 2}

	_, terminal, err := stage.Apply(sc, nc)
	require.NoError(t, err)
	assert.False(t, terminal)
	require.Len(t, sc.Candidates.Entries, 2)
	assert.Equal(t, float32(5), sc.Candidates.Entries[0].Logit)
	assert.Equal(t, float32(4), sc.Candidates.Entries[1].Logit)
}

func TestRepetitionPenaltyLowersRecentTokenLogit(t *testing.T) {
	nc := newFakeNative(3)
	sc := &Context{
		Candidates: slabWithLogits(2.0, 2.0, 2.0),
		History:    []llama.Token{{ID: 1, Text: "tok"}},
	}
	stage := &RepetitionPenalty{LastN: 1, Penalty: 2.0}

	_, terminal, err := stage.Apply(sc, nc)
	require.NoError(t, err)
	assert.False(t, terminal)
	assert.Equal(t, float32(1.0), sc.Candidates.Entries[1].Logit)
	assert.Equal(t, float32(2.0), sc.Candidates.Entries[0].Logit)
}

func TestStopSequenceForcesEOS(t *testing.T) {
	nc := newFakeNative(3)
	sc := &Context{
		Candidates: slabWithLogits(5.0, 5.0, 0.0),
		History:    []llama.Token{{ID: 0, Text: "STOP"}},
	}
	stage := &StopSequence{Sequences: []string{"STOP"}}

	_, terminal, err := stage.Apply(sc, nc)
	require.NoError(t, err)
	assert.False(t, terminal)
	assert.Equal(t, float32(1), sc.Candidates.Entries[nc.eos].P)
}

func TestChainScratchAllocationUnwindsOnFailure(t *testing.T) {
	chain := &Chain{Stages: []Sampler{&okScratch{}, &failScratch{}}}
	err := chain.AllocateScratch()
	require.Error(t, err)
	assert.True(t, chain.Stages[0].(*okScratch).released)
}

type okScratch struct{ released bool }

func (o *okScratch) Name() string { return "ok_scratch" }
func (o *okScratch) Apply(*Context, NativeContext) (llama.Token, bool, error) {
	return llama.Token{}, false, nil
}
func (o *okScratch) Allocate() error { return nil }
func (o *okScratch) Release()        { o.released = true }

type failScratch struct{}

func (f *failScratch) Name() string { return "fail_scratch" }
func (f *failScratch) Apply(*Context, NativeContext) (llama.Token, bool, error) {
	return llama.Token{}, false, nil
}
func (f *failScratch) Allocate() error { return assert.AnError }
func (f *failScratch) Release()        {}
