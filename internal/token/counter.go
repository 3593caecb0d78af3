// Package token counts completion-API tokens for budget accounting.
//
// The primary encoder is tiktoken's cl100k_base vocabulary (the encoding
// used by the upstream models). When the vocabulary cannot be loaded, a
// deterministic heuristic estimator substitutes so accounting keeps
// working offline.
package token

import (
	"encoding/json"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"github.com/tianyan-ai/chat-backend/internal/logger"
)

// Encoder turns text into token ids. Satisfied by *tiktoken.Tiktoken.
type Encoder interface {
	Encode(text string, allowedSpecial, disallowedSpecial []string) []int
}

type Counter struct {
	mu  sync.Mutex
	enc Encoder
	// set once loading has been attempted, successful or not
	tried bool
}

func NewCounter() *Counter { return &Counter{} }

// NewCounterWith injects an encoder; used by tests and by callers that
// preload the vocabulary at boot.
func NewCounterWith(enc Encoder) *Counter {
	return &Counter{enc: enc, tried: true}
}

func (c *Counter) encoder() Encoder {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.tried {
		c.tried = true
		enc, err := tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE)
		if err != nil {
			logger.L().Warn("tiktoken unavailable, using heuristic estimator", zap.Error(err))
		} else {
			c.enc = enc
		}
	}
	return c.enc
}

// Count returns the token count of text. It never panics and never
// returns a negative number; internal failures log and count as 0.
func (c *Counter) Count(text string) (n int) {
	defer func() {
		if r := recover(); r != nil {
			logger.L().Error("token count panicked", zap.Any("cause", r))
			n = 0
		}
	}()

	enc := c.encoder()
	if enc == nil {
		return estimate(text)
	}
	return len(enc.Encode(text, nil, nil))
}

// CountValue counts a non-string value by serializing it to its canonical
// JSON form first.
func (c *Counter) CountValue(v any) int {
	b, err := json.Marshal(v)
	if err != nil {
		logger.L().Error("token count: marshal failed", zap.Error(err))
		return 0
	}
	return c.Count(string(b))
}

// estimate approximates cl100k_base: ASCII text runs about one token per
// four bytes, CJK about one token per rune.
func estimate(text string) int {
	if text == "" {
		return 0
	}
	bytes := 0
	wide := 0
	for _, r := range text {
		if r < 128 {
			bytes++
		} else {
			wide++
		}
	}
	n := (bytes + 3) / 4
	n += wide
	if n == 0 && utf8.RuneCountInString(text) > 0 {
		n = 1
	}
	return n
}
