package engine

import (
	"llamaworker/internal/llama"
	"llamaworker/internal/sampler"
)

// Generate runs the token-by-token generation loop over state using chain,
// invoking onToken for every emitted token. It fails fast with
// StateViolation if the context has tokens pending ingest. Sampler scratch
// is allocated before the loop and released on every exit path.
func Generate(state *ContextState, chain *sampler.Chain, cancel <-chan struct{}, onToken func(llama.Token)) (cancelled bool, err error) {
	if state.NeedsIngesting() {
		return false, newError(StateViolation, "generate called with %d tokens pending ingest", state.TokensLength()-state.LogitsLength())
	}

	if err := chain.AllocateScratch(); err != nil {
		return false, Classify(err)
	}
	defer chain.ReleaseScratch()

	for state.LogitsLength() < state.ContextSize {
		sc := &sampler.Context{
			Candidates: state.CandidateSlab(),
			History:    state.History(),
		}
		sc.Candidates.LoadFromLogits(state.LastLogitsRow())

		tok, err := chain.Run(sc, state.Native)
		if err != nil {
			return false, Classify(err)
		}

		select {
		case <-cancel:
			return true, nil
		default:
		}

		state.AppendToken(tok)
		onToken(tok)

		if tok.ID == state.Native.EOS() {
			break
		}

		if err := state.Native.DecodeBatch([]llama.TokenID{tok.ID}, state.TokensLength()-1, seqID, false); err != nil {
			return false, Classify(err)
		}
		state.AppendLogitsRow(state.Native.LogitsRow(0))
	}
	return false, nil
}
