package sampler

import (
	"math"
	"sort"
	"strings"

	"llamaworker/internal/llama"
)

// softmax turns the slab's logits into probabilities in place. Stages that
// need a real distribution (top-p, tail-free, typical, probabilistic) call
// this after any filtering/rescaling they perform themselves.
func softmax(entries []Candidate) {
	if len(entries) == 0 {
		return
	}
	max := entries[0].Logit
	for _, e := range entries[1:] {
		if e.Logit > max {
			max = e.Logit
		}
	}
	var sum float64
	exps := make([]float64, len(entries))
	for i, e := range entries {
		exps[i] = math.Exp(float64(e.Logit - max))
		sum += exps[i]
	}
	for i := range entries {
		entries[i].P = float32(exps[i] / sum)
	}
}

// RepetitionPenalty discourages recently emitted tokens by dividing their
// logit (dividing positive logits, multiplying negative ones) and applying
// flat frequency/presence penalties, mirroring llama.cpp's
// llama_sample_repetition_penalties but over the Go-side candidate slab —
// the native façade exposes no such primitive, so this stage is plain Go
// math grounded on the same algorithm.
type RepetitionPenalty struct {
	LastN      int
	Penalty    float32
	FreqPenalty    float32
	PresencePenalty float32
}

func (r *RepetitionPenalty) Name() string { return "repetition_penalty" }

func (r *RepetitionPenalty) Apply(sc *Context, _ NativeContext) (llama.Token, bool, error) {
	if r.Penalty == 0 && r.FreqPenalty == 0 && r.PresencePenalty == 0 {
		return llama.Token{}, false, nil
	}
	history := sc.History
	n := r.LastN
	if n <= 0 || n > len(history) {
		n = len(history)
	}
	counts := make(map[llama.TokenID]int, n)
	for _, t := range history[len(history)-n:] {
		counts[t.ID]++
	}
	if len(counts) == 0 {
		return llama.Token{}, false, nil
	}
	entries := sc.Candidates.Entries
	for i, c := range entries {
		count, seen := counts[c.ID]
		if !seen {
			continue
		}
		logit := c.Logit
		if r.Penalty != 0 {
			if logit <= 0 {
				logit *= r.Penalty
			} else {
				logit /= r.Penalty
			}
		}
		logit -= float32(count) * r.FreqPenalty
		logit -= r.PresencePenalty
		entries[i].Logit = logit
	}
	sc.Candidates.Sorted = false
	return llama.Token{}, false, nil
}

// TopK keeps only the K highest-logit candidates.
type TopK struct {
	K int
}

func (t *TopK) Name() string { return "top_k" }

func (t *TopK) Apply(sc *Context, _ NativeContext) (llama.Token, bool, error) {
	if t.K <= 0 || t.K >= len(sc.Candidates.Entries) {
		return llama.Token{}, false, nil
	}
	sc.Candidates.SortDescending()
	sc.Candidates.Truncate(t.K)
	return llama.Token{}, false, nil
}

// TopP (nucleus sampling) keeps the smallest prefix of sorted candidates
// whose cumulative probability reaches P.
type TopP struct {
	P float32
}

func (t *TopP) Name() string { return "top_p" }

func (t *TopP) Apply(sc *Context, _ NativeContext) (llama.Token, bool, error) {
	if t.P <= 0 || t.P >= 1 {
		return llama.Token{}, false, nil
	}
	sc.Candidates.SortDescending()
	softmax(sc.Candidates.Entries)
	var cum float32
	keep := len(sc.Candidates.Entries)
	for i, e := range sc.Candidates.Entries {
		cum += e.P
		if cum >= t.P {
			keep = i + 1
			break
		}
	}
	sc.Candidates.Truncate(keep)
	return llama.Token{}, false, nil
}

// TailFree implements tail-free sampling: candidates are dropped once the
// cumulative normalized second derivative of the sorted probability curve
// exceeds Z.
type TailFree struct {
	Z float32
}

func (t *TailFree) Name() string { return "tail_free" }

func (t *TailFree) Apply(sc *Context, _ NativeContext) (llama.Token, bool, error) {
	entries := sc.Candidates.Entries
	if t.Z <= 0 || t.Z >= 1 || len(entries) < 3 {
		return llama.Token{}, false, nil
	}
	sc.Candidates.SortDescending()
	softmax(sc.Candidates.Entries)

	firstDeriv := make([]float64, len(entries)-1)
	for i := 0; i < len(entries)-1; i++ {
		firstDeriv[i] = float64(entries[i].P - entries[i+1].P)
	}
	secondDeriv := make([]float64, len(firstDeriv)-1)
	var sum float64
	for i := 0; i < len(firstDeriv)-1; i++ {
		secondDeriv[i] = math.Abs(firstDeriv[i] - firstDeriv[i+1])
		sum += secondDeriv[i]
	}
	if sum == 0 {
		return llama.Token{}, false, nil
	}

	keep := len(entries)
	var cum float64
	for i, d := range secondDeriv {
		cum += d / sum
		if cum > float64(t.Z) {
			keep = i + 2 // offset for the two derivative steps taken
			break
		}
	}
	sc.Candidates.Truncate(keep)
	return llama.Token{}, false, nil
}

// Typical implements locally typical sampling: candidates are kept in
// order of how close their surprisal is to the distribution's entropy,
// until the cumulative probability reaches P.
type Typical struct {
	P float32
}

func (t *Typical) Name() string { return "typical" }

func (t *Typical) Apply(sc *Context, _ NativeContext) (llama.Token, bool, error) {
	entries := sc.Candidates.Entries
	if t.P <= 0 || t.P >= 1 || len(entries) == 0 {
		return llama.Token{}, false, nil
	}
	softmax(entries)

	var entropy float64
	for _, e := range entries {
		if e.P > 0 {
			entropy -= float64(e.P) * math.Log(float64(e.P))
		}
	}

	type scored struct {
		c    Candidate
		dist float64
	}
	scoredEntries := make([]scored, len(entries))
	for i, e := range entries {
		var surprisal float64
		if e.P > 0 {
			surprisal = -math.Log(float64(e.P))
		}
		scoredEntries[i] = scored{c: e, dist: math.Abs(surprisal - entropy)}
	}
	sort.Slice(scoredEntries, func(i, j int) bool { return scoredEntries[i].dist < scoredEntries[j].dist })

	var cum float32
	keep := len(scoredEntries)
	for i, s := range scoredEntries {
		cum += s.c.P
		if cum >= t.P {
			keep = i + 1
			break
		}
	}
	out := make([]Candidate, keep)
	for i := 0; i < keep; i++ {
		out[i] = scoredEntries[i].c
	}
	sc.Candidates.Entries = out
	sc.Candidates.Sorted = false
	return llama.Token{}, false, nil
}

// Temperature rescales logits by 1/Temp before the terminal draw. Temp<=0
// is treated as a no-op (callers should use Greedy directly for that).
type Temperature struct {
	Temp float32
}

func (t *Temperature) Name() string { return "temperature" }

func (t *Temperature) Apply(sc *Context, _ NativeContext) (llama.Token, bool, error) {
	if t.Temp <= 0 || t.Temp == 1 {
		return llama.Token{}, false, nil
	}
	entries := sc.Candidates.Entries
	for i := range entries {
		entries[i].Logit /= t.Temp
	}
	return llama.Token{}, false, nil
}

// StopSequence is a non-terminal observer stage: once the decoded text of
// the most recently committed tokens ends with one of Sequences, it forces
// every remaining candidate's probability mass onto the model's EOS id so
// the terminal stage that follows naturally ends the generation there.
type StopSequence struct {
	Sequences []string
}

func (s *StopSequence) Name() string { return "stop_sequence" }

func (s *StopSequence) Apply(sc *Context, nc NativeContext) (llama.Token, bool, error) {
	if len(s.Sequences) == 0 || len(sc.History) == 0 {
		return llama.Token{}, false, nil
	}
	var tail strings.Builder
	for i := len(sc.History) - 1; i >= 0 && tail.Len() < 256; i-- {
		tail.WriteString(reverseRunes(sc.History[i].Text))
	}
	text := reverseRunes(tail.String())
	matched := false
	for _, seq := range s.Sequences {
		if seq != "" && strings.HasSuffix(text, seq) {
			matched = true
			break
		}
	}
	if !matched {
		return llama.Token{}, false, nil
	}
	eos := nc.EOS()
	for i := range sc.Candidates.Entries {
		if sc.Candidates.Entries[i].ID == eos {
			sc.Candidates.Entries[i].Logit = 0
			sc.Candidates.Entries[i].P = 1
		} else {
			sc.Candidates.Entries[i].Logit = -math.MaxFloat32
			sc.Candidates.Entries[i].P = 0
		}
	}
	return llama.Token{}, false, nil
}

func reverseRunes(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}

// Greedy is a terminal stage: argmax over whatever candidates survived
// upstream filtering, via the native sample_token_greedy primitive.
type Greedy struct{}

func (g *Greedy) Name() string { return "greedy" }

func (g *Greedy) Apply(sc *Context, nc NativeContext) (llama.Token, bool, error) {
	id := nc.SampleGreedy(sc.Candidates.ToNative())
	return llama.Token{ID: id, Text: nc.TokenText(id)}, true, nil
}

// Probabilistic is a terminal stage: weighted draw over whatever
// distribution survived upstream filtering, via the native sample_token
// primitive. It is the implicit default a chain falls back to when none
// of its own stages is terminal.
type Probabilistic struct{}

func (p *Probabilistic) Name() string { return "probabilistic" }

func (p *Probabilistic) Apply(sc *Context, nc NativeContext) (llama.Token, bool, error) {
	softmax(sc.Candidates.Entries)
	id := nc.SampleProbabilistic(sc.Candidates.ToNative())
	return llama.Token{ID: id, Text: nc.TokenText(id)}, true, nil
}
