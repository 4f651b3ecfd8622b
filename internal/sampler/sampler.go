package sampler

import (
	"fmt"

	"llamaworker/internal/llama"
)

// NativeContext is the slice of *llama.Context a sampler is allowed to
// touch: the two native terminal sampling calls, plus read-only lookups a
// stage might need (stop-sequence text matching). Expressed as an
// interface so chain logic is testable without a linked libllama.
type NativeContext interface {
	SampleGreedy(candidates []llama.CandidateData) llama.TokenID
	SampleProbabilistic(candidates []llama.CandidateData) llama.TokenID
	TokenText(id llama.TokenID) string
	EOS() llama.TokenID
}

// Context carries everything a sampler stage needs beyond the candidate
// slab: the tokens already committed to the context's token buffer, for
// stages like repetition penalty and stop-sequence matching that look
// backward.
type Context struct {
	Candidates *Slab
	History    []llama.Token
}

// Sampler is one stage of a chain. Non-terminal stages mutate Candidates
// in place and return terminal=false. A terminal stage produces the chosen
// token from the candidates as the upstream stages left them; it must be
// the last stage in its chain.
type Sampler interface {
	Name() string
	Apply(sc *Context, nc NativeContext) (token llama.Token, terminal bool, err error)
}

// ScratchSampler is implemented by stages that need native scratch memory
// held across an entire chain's lifetime rather than allocated and freed
// on every Apply call.
type ScratchSampler interface {
	Allocate() error
	Release()
}

// MisuseError reports a chain shape violation: a terminal stage found
// before the end. An empty chain is not a violation; Run falls back to the
// default probabilistic draw for it.
type MisuseError struct {
	Reason  string
	Pending []string
}

func (e *MisuseError) Error() string {
	if len(e.Pending) > 0 {
		return fmt.Sprintf("sampler: %s (stages after terminal: %v)", e.Reason, e.Pending)
	}
	return fmt.Sprintf("sampler: %s", e.Reason)
}

// Chain is an ordered list of stages run in sequence against one candidate
// slab. If no stage in the chain is terminal, Run falls back to a default
// probabilistic draw: a chain that never reaches a terminal stage
// implicitly ends in one.
type Chain struct {
	Stages []Sampler
}

// AllocateScratch allocates native scratch memory for every stage that
// needs it, in order, unwinding on the first failure.
func (c *Chain) AllocateScratch() error {
	allocated := make([]ScratchSampler, 0, len(c.Stages))
	for _, s := range c.Stages {
		ss, ok := s.(ScratchSampler)
		if !ok {
			continue
		}
		if err := ss.Allocate(); err != nil {
			for i := len(allocated) - 1; i >= 0; i-- {
				allocated[i].Release()
			}
			return err
		}
		allocated = append(allocated, ss)
	}
	return nil
}

// ReleaseScratch releases scratch memory for every stage that holds it, in
// reverse allocation order.
func (c *Chain) ReleaseScratch() {
	for i := len(c.Stages) - 1; i >= 0; i-- {
		if ss, ok := c.Stages[i].(ScratchSampler); ok {
			ss.Release()
		}
	}
}

// Run executes the chain's stages in order and returns the chosen token.
func (c *Chain) Run(sc *Context, nc NativeContext) (llama.Token, error) {
	for i, s := range c.Stages {
		tok, terminal, err := s.Apply(sc, nc)
		if err != nil {
			return llama.Token{}, fmt.Errorf("sampler %q: %w", s.Name(), err)
		}
		if terminal {
			if i != len(c.Stages)-1 {
				pending := make([]string, 0, len(c.Stages)-i-1)
				for _, rest := range c.Stages[i+1:] {
					pending = append(pending, rest.Name())
				}
				return llama.Token{}, &MisuseError{
					Reason:  fmt.Sprintf("terminal stage %q is not the last stage in its chain", s.Name()),
					Pending: pending,
				}
			}
			return tok, nil
		}
	}
	def := &Probabilistic{}
	tok, _, err := def.Apply(sc, nc)
	if err != nil {
		return llama.Token{}, fmt.Errorf("sampler %q (implicit default): %w", def.Name(), err)
	}
	return tok, nil
}
