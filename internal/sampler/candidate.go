// Package sampler implements ordered, composable candidate-distribution
// transformations: a chain of stages ending in a terminal stage that
// chooses a token id.
package sampler

import (
	"sort"

	"llamaworker/internal/llama"
)

// Candidate mirrors the native llama_token_data triple (id, logit, prob).
type Candidate struct {
	ID    llama.TokenID
	Logit float32
	P     float32
}

// Slab is the per-context reusable candidate array: one entry per
// vocabulary id, reloaded from a logits row before every chain run, plus
// a sorted flag samplers can consult or invalidate.
type Slab struct {
	Entries []Candidate
	Sorted  bool
}

// NewSlab allocates a slab sized to the model's vocabulary. It is meant to
// be allocated once per context and reused across every generate step.
func NewSlab(vocabSize int) *Slab {
	return &Slab{Entries: make([]Candidate, vocabSize)}
}

// LoadFromLogits repopulates the slab from a fresh logits row — the logits
// for the most recently ingested/generated token — resetting probabilities
// and the sorted flag. This must run before every chain invocation.
func (s *Slab) LoadFromLogits(logits []float32) {
	if len(s.Entries) != len(logits) {
		s.Entries = make([]Candidate, len(logits))
	}
	for i, l := range logits {
		s.Entries[i] = Candidate{ID: llama.TokenID(i), Logit: l, P: 0}
	}
	s.Sorted = false
}

// ToNative converts the slab into the Go mirror of llama_token_data_array
// for the two native sampling entry points (sample_token_greedy,
// sample_token).
func (s *Slab) ToNative() []llama.CandidateData {
	out := make([]llama.CandidateData, len(s.Entries))
	for i, c := range s.Entries {
		out[i] = llama.CandidateData{ID: c.ID, Logit: c.Logit, P: c.P}
	}
	return out
}

// SortDescending orders entries by logit, highest first. Several stages
// (top-k, top-p, tail-free) require this ordering; it's cheap to skip when
// already sorted.
func (s *Slab) SortDescending() {
	if s.Sorted {
		return
	}
	entries := s.Entries
	sort.Slice(entries, func(i, j int) bool { return entries[i].Logit > entries[j].Logit })
	s.Sorted = true
}

// Truncate keeps only the first n entries (used after sorting to implement
// top-k-style filters).
func (s *Slab) Truncate(n int) {
	if n < len(s.Entries) {
		s.Entries = s.Entries[:n]
	}
}
