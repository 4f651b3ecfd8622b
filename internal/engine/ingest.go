package engine

// Ingest advances a context's logits buffer up to its token buffer length
// by issuing batched decode calls of width <= BatchSize. It checks cancel
// once per iteration, right after populating the batch and before
// decoding — the only cooperative yield point in the loop. A non-zero
// decode status is returned as a classified *Error (NativeCallFailure
// carrying the status) and leaves the buffers desynchronized; callers
// recover via Edit.
func Ingest(state *ContextState, cancel <-chan struct{}) (cancelled bool, err error) {
	for state.NeedsIngesting() {
		i := state.LogitsLength()
		remaining := state.TokensLength() - i
		fill := remaining
		if fill > state.BatchSize {
			fill = state.BatchSize
		}

		select {
		case <-cancel:
			return true, nil
		default:
		}

		toks := state.tokens[i : i+fill]
		if err := state.Native.DecodeBatch(toks, i, seqID, true); err != nil {
			return false, Classify(err)
		}
		for k := 0; k < fill; k++ {
			state.AppendLogitsRow(state.Native.LogitsRow(k))
		}
	}
	return false, nil
}
