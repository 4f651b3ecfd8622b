// Package promptutil offers helpers the CLI layer uses alongside the
// worker/client core: a fast token-count estimate independent of a loaded
// llama.cpp context (useful before a model is even loaded, e.g. to size a
// context window from a prompt file), and is not part of the worker's own
// tokenize path.
package promptutil

import (
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
)

var estimatorCache = gocache.New(30*time.Minute, time.Hour)

// EstimateTokens loads (and caches, by path) a HuggingFace tokenizer.json
// and returns the token count text would encode to. It is an estimate
// relative to the actual model's tokenizer when tokenizerJSONPath belongs
// to a different checkpoint than the loaded model.
func EstimateTokens(tokenizerJSONPath, text string) (int, error) {
	tok, err := loadEstimator(tokenizerJSONPath)
	if err != nil {
		return 0, err
	}
	enc, err := tok.EncodeSingle(text, false)
	if err != nil {
		return 0, fmt.Errorf("promptutil: encode failed: %w", err)
	}
	return len(enc.Ids), nil
}

func loadEstimator(path string) (*tokenizer.Tokenizer, error) {
	if cached, ok := estimatorCache.Get(path); ok {
		return cached.(*tokenizer.Tokenizer), nil
	}
	tok, err := pretrained.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("promptutil: load tokenizer %s: %w", path, err)
	}
	estimatorCache.Set(path, tok, gocache.DefaultExpiration)
	return tok, nil
}
