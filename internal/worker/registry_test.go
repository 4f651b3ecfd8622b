package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llamaworker/internal/engine"
	"llamaworker/internal/llama"
)

// noopNative is a minimal engine.NativeHandle for registry bookkeeping
// tests that never touch decode/tokenize/sample behavior.
type noopNative struct{ freed bool }

func (n *noopNative) Tokenize(string, bool) ([]llama.TokenID, error)      { return nil, nil }
func (n *noopNative) DecodeBatch([]llama.TokenID, int, int32, bool) error { return nil }
func (n *noopNative) LogitsRow(int) []float32                            { return nil }
func (n *noopNative) SeqRemove(int32, int, int)                          {}
func (n *noopNative) EOS() llama.TokenID                                 { return 0 }
func (n *noopNative) VocabSize() int                                     { return 0 }
func (n *noopNative) TokenText(llama.TokenID) string                     { return "" }
func (n *noopNative) SampleGreedy([]llama.CandidateData) llama.TokenID   { return 0 }
func (n *noopNative) SampleProbabilistic([]llama.CandidateData) llama.TokenID {
	return 0
}
func (n *noopNative) Free() { n.freed = true }

func TestRegistryFreeModelFailsWhileContextAlive(t *testing.T) {
	reg := newRegistry()
	m := reg.addModel(nil)

	native := &noopNative{}
	state := engine.NewContextState(0, 0, native, 19, 19)
	reg.addContext(m.id, state)

	err := reg.removeModel(m.id)
	require.Error(t, err)
	var engineErr *engine.Error
	require.ErrorAs(t, err, &engineErr)
	assert.Equal(t, engine.HandleStillReferenced, engineErr.Kind)

	require.NoError(t, reg.removeContext(state.ID))
	assert.True(t, native.freed)
}

func TestRegistryUnknownHandleKinds(t *testing.T) {
	reg := newRegistry()

	_, ok := reg.model(123)
	assert.False(t, ok)

	err := reg.removeModel(123)
	require.Error(t, err)
	var engineErr *engine.Error
	require.ErrorAs(t, err, &engineErr)
	assert.Equal(t, engine.UnknownHandle, engineErr.Kind)

	err = reg.removeContext(456)
	require.Error(t, err)
	require.ErrorAs(t, err, &engineErr)
	assert.Equal(t, engine.UnknownHandle, engineErr.Kind)
}
