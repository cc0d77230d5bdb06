package conversations

import (
	"sync"
	"unicode/utf8"

	tiktoken "github.com/pkoukk/tiktoken-go"

	logx "github.com/travel-sense/server/pkg/logger"
)

// Tokenizer counts tokens with a tiktoken encoding, falling back to a
// four-bytes-per-token estimate when no encoding can be loaded.
type Tokenizer struct {
	model string
	once  sync.Once
	enc   *tiktoken.Tiktoken
}

func NewTokenizer(model string) *Tokenizer {
	return &Tokenizer{model: model}
}

func (t *Tokenizer) load() {
	enc, err := tiktoken.EncodingForModel(t.model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
	}
	if err != nil {
		logx.Warn().Err(err).Str("model", t.model).Msg("tiktoken encoding unavailable, estimating tokens")
		return
	}
	t.enc = enc
}

// Count returns the number of tokens in s.
func (t *Tokenizer) Count(s string) int {
	t.once.Do(t.load)
	if t.enc != nil {
		return len(t.enc.Encode(s, nil, nil))
	}
	n := utf8.RuneCountInString(s) / 4
	if n == 0 && s != "" {
		n = 1
	}
	return n
}
