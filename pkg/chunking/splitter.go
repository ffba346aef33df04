// Package chunking splits long text into overlapping token-bounded
// segments for embedding. Splitting is deterministic: identical input
// and parameters always yield the identical sequence, which keeps
// re-indexing idempotent.
package chunking

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// Chunk is one bounded segment of source text.
type Chunk struct {
	Text   string
	Index  int
	Tokens int
}

// Config bounds the splitter. OverlapTokens must be smaller than
// MaxTokens.
type Config struct {
	MaxTokens     int
	OverlapTokens int
	Encoding      string
}

// Splitter produces token-bounded chunks. It prefers natural boundaries
// (paragraph, then sentence) and falls back to hard token cuts only
// when a single sentence exceeds the budget.
type Splitter struct {
	cfg Config
	enc *tiktoken.Tiktoken
}

func NewSplitter(cfg Config) (*Splitter, error) {
	if cfg.MaxTokens <= 0 {
		return nil, fmt.Errorf("max tokens must be positive, got %d", cfg.MaxTokens)
	}
	if cfg.OverlapTokens < 0 {
		return nil, fmt.Errorf("overlap tokens must be non-negative, got %d", cfg.OverlapTokens)
	}
	if cfg.OverlapTokens >= cfg.MaxTokens {
		return nil, fmt.Errorf("overlap tokens (%d) must be less than max tokens (%d)", cfg.OverlapTokens, cfg.MaxTokens)
	}

	encoding := cfg.Encoding
	if encoding == "" {
		encoding = "cl100k_base"
	}

	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to get encoding %q: %w", encoding, err)
	}

	return &Splitter{cfg: cfg, enc: enc}, nil
}

// Split chunks text into token-bounded segments. Empty or whitespace-only
// text yields an empty sequence.
func (s *Splitter) Split(text string) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	units := s.expandOversized(splitUnits(text))

	var chunks []Chunk
	var current []unit
	currentTokens := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		var b strings.Builder
		for _, u := range current {
			b.WriteString(u.text)
		}
		chunks = append(chunks, Chunk{
			Text:   b.String(),
			Index:  len(chunks),
			Tokens: currentTokens,
		})
	}

	for _, u := range units {
		if currentTokens > 0 && currentTokens+u.tokens > s.cfg.MaxTokens {
			flush()

			// Carry trailing units of the previous chunk forward so
			// context is preserved at the boundary.
			carry, carryTokens := s.overlapTail(current)
			current = carry
			currentTokens = carryTokens
		}
		current = append(current, u)
		currentTokens += u.tokens
	}
	flush()

	return chunks
}

// CountTokens returns the token count of text under the splitter's
// encoding.
func (s *Splitter) CountTokens(text string) int {
	return len(s.enc.Encode(text, nil, nil))
}

type unit struct {
	text   string
	tokens int
}

// overlapTail picks trailing units totalling at most OverlapTokens.
func (s *Splitter) overlapTail(units []unit) ([]unit, int) {
	if s.cfg.OverlapTokens == 0 {
		return nil, 0
	}

	total := 0
	start := len(units)
	for start > 0 && total+units[start-1].tokens <= s.cfg.OverlapTokens {
		start--
		total += units[start].tokens
	}

	if start == len(units) {
		return nil, 0
	}
	tail := make([]unit, len(units)-start)
	copy(tail, units[start:])
	return tail, total
}

// expandOversized hard-splits any unit whose token count exceeds the
// budget into overlapping token windows.
func (s *Splitter) expandOversized(parts []string) []unit {
	units := make([]unit, 0, len(parts))

	for _, part := range parts {
		tokens := s.enc.Encode(part, nil, nil)
		if len(tokens) <= s.cfg.MaxTokens {
			units = append(units, unit{text: part, tokens: len(tokens)})
			continue
		}

		stride := s.cfg.MaxTokens - s.cfg.OverlapTokens
		for start := 0; start < len(tokens); start += stride {
			end := start + s.cfg.MaxTokens
			if end > len(tokens) {
				end = len(tokens)
			}
			window := tokens[start:end]
			units = append(units, unit{text: s.enc.Decode(window), tokens: len(window)})
			if end == len(tokens) {
				break
			}
		}
	}

	return units
}

// splitUnits breaks text at sentence and paragraph boundaries while
// preserving every byte: concatenating the returned parts reproduces
// the input exactly.
func splitUnits(text string) []string {
	var parts []string
	start := 0

	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '.', '!', '?':
			j := i + 1
			for j < len(text) && (text[j] == ' ' || text[j] == '\t') {
				j++
			}
			if j > i+1 || j == len(text) {
				parts = append(parts, text[start:j])
				start = j
				i = j - 1
			}
		case '\n':
			j := i + 1
			for j < len(text) && text[j] == '\n' {
				j++
			}
			parts = append(parts, text[start:j])
			start = j
			i = j - 1
		}
	}

	if start < len(text) {
		parts = append(parts, text[start:])
	}

	return parts
}
