package chunker

import (
	"unicode"
	"unicode/utf8"

	"github.com/dgallion1/recordlens/internal/record"
)

// Config controls chunking behavior.
type Config struct {
	ChunkSize        int // Target chunk size in tokens.
	OverlapSentences int // Sentences repeated at the start of the next chunk.
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ChunkSize:        1200,
		OverlapSentences: 0,
	}
}

// Chunk is an exact slice text[Start:End] of one section, aligned to
// sentence boundaries so that sentences quoted back by the model can be
// located verbatim in the section.
type Chunk struct {
	Section record.SectionKey
	Index   int
	Start   int
	End     int
	Text    string
}

// ChunkSections splits every non-empty section in display order. Indexes
// are sequential across sections.
func ChunkSections(sections record.TextSections, cfg Config) []Chunk {
	var chunks []Chunk
	for _, key := range record.SectionKeys {
		for _, c := range Split(sections.Get(key), cfg) {
			c.Section = key
			c.Index = len(chunks)
			chunks = append(chunks, c)
		}
	}
	return chunks
}

// Split breaks text into sentence-aligned chunks of approximately
// cfg.ChunkSize tokens. A single sentence longer than the target becomes
// its own chunk.
func Split(text string, cfg Config) []Chunk {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1200
	}
	if cfg.OverlapSentences < 0 {
		cfg.OverlapSentences = 0
	}

	sents := sentences(text)
	var chunks []Chunk
	for i := 0; i < len(sents); {
		j := i + 1
		for j < len(sents) && EstimateTokens(text[sents[i].start:sents[j].end]) <= cfg.ChunkSize {
			j++
		}

		start, end := sents[i].start, sents[j-1].end
		chunks = append(chunks, Chunk{
			Index: len(chunks),
			Start: start,
			End:   end,
			Text:  text[start:end],
		})
		if j == len(sents) {
			break
		}

		next := j - cfg.OverlapSentences
		if next <= i {
			next = j
		}
		i = next
	}
	return chunks
}

type span struct {
	start, end int
}

// sentences returns the trimmed byte ranges of the sentences in text.
// A sentence ends at a newline, or at terminal punctuation followed by
// whitespace or the end of the text.
func sentences(text string) []span {
	var out []span
	begin := 0
	cut := func(end int) {
		s, e := trimBounds(text, begin, end)
		if s < e {
			out = append(out, span{s, e})
		}
		begin = end
	}

	for i, r := range text {
		switch r {
		case '\n':
			cut(i + 1)
		case '.', '!', '?', '。':
			next := i + utf8.RuneLen(r)
			if next >= len(text) {
				break
			}
			if nr, _ := utf8.DecodeRuneInString(text[next:]); unicode.IsSpace(nr) {
				cut(next)
			}
		}
	}
	cut(len(text))
	return out
}

func trimBounds(text string, s, e int) (int, int) {
	for s < e {
		r, size := utf8.DecodeRuneInString(text[s:e])
		if !unicode.IsSpace(r) {
			break
		}
		s += size
	}
	for e > s {
		r, size := utf8.DecodeLastRuneInString(text[s:e])
		if !unicode.IsSpace(r) {
			break
		}
		e -= size
	}
	return s, e
}
