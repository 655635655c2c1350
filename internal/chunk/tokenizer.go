package chunk

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// encodingName is the tokenizer shared by the OpenAI embedding models; token
// budgets are only meaningful when counted with the same encoding the
// embedder uses.
const encodingName = "cl100k_base"

// Tokenizer counts tokens in a piece of text.
type Tokenizer interface {
	Count(text string) int
}

type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTokenizer returns a Tokenizer backed by the cl100k_base encoding.
func NewTokenizer() (Tokenizer, error) {
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, fmt.Errorf("loading %s encoding: %w", encodingName, err)
	}
	return &tiktokenCounter{enc: enc}, nil
}

func (t *tiktokenCounter) Count(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}
