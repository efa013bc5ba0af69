// Package chunker splits long article bodies into token-bounded segments
// that fit a model's context window.
package chunker

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// DefaultEncoding is the BPE used to budget prompts.
const DefaultEncoding = "cl100k_base"

// Encoding converts text to token IDs and back.
type Encoding interface {
	Encode(text string) []int
	Decode(tokens []int) string
}

// Chunk is one contiguous slice of the tokenized input.
type Chunk struct {
	Text   string
	Tokens []int
}

// Chunker splits text on token boundaries. It holds no mutable state and is
// safe for concurrent use.
type Chunker struct {
	enc Encoding
}

// New wraps an Encoding.
func New(enc Encoding) *Chunker {
	return &Chunker{enc: enc}
}

var loaderOnce sync.Once

// NewTiktoken returns a Chunker backed by the named tiktoken encoding. BPE
// ranks are loaded from the embedded offline loader, never the network.
func NewTiktoken(encoding string) (*Chunker, error) {
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})

	tke, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load encoding %s: %w", encoding, err)
	}
	return New(tiktokenEncoding{tke: tke}), nil
}

type tiktokenEncoding struct {
	tke *tiktoken.Tiktoken
}

func (e tiktokenEncoding) Encode(text string) []int {
	return e.tke.Encode(text, nil, nil)
}

func (e tiktokenEncoding) Decode(tokens []int) string {
	return e.tke.Decode(tokens)
}

// CountTokens returns the token count of text along with the tokens.
func (c *Chunker) CountTokens(text string) (int, []int) {
	tokens := c.enc.Encode(text)
	return len(tokens), tokens
}

// Split returns text cut into chunks of at most maxTokens tokens. Text that
// already fits is returned as-is.
func (c *Chunker) Split(text string, maxTokens int) []string {
	chunks := c.Chunks(text, maxTokens)
	out := make([]string, len(chunks))
	for i, ch := range chunks {
		out[i] = ch.Text
	}
	return out
}

// Chunks is Split with the token slice of every chunk attached. Decoded
// chunk text may differ from the matching byte range of the input at chunk
// seams.
func (c *Chunker) Chunks(text string, maxTokens int) []Chunk {
	count, tokens := c.CountTokens(text)
	if maxTokens <= 0 || count <= maxTokens {
		return []Chunk{{Text: text, Tokens: tokens}}
	}

	chunks := make([]Chunk, 0, count/maxTokens+1)
	current := make([]int, 0, maxTokens)
	for _, token := range tokens {
		if len(current)+1 > maxTokens {
			chunks = append(chunks, Chunk{Text: c.enc.Decode(current), Tokens: current})
			current = make([]int, 0, maxTokens)
		}
		current = append(current, token)
	}
	if len(current) > 0 {
		chunks = append(chunks, Chunk{Text: c.enc.Decode(current), Tokens: current})
	}

	return chunks
}
