package chunker

import (
	"strings"
	"unicode/utf8"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

var defaultSeparators = []string{"\n\n", "\n", " ", ""}

// Splitter breaks text into overlapping chunks.
type Splitter interface {
	Split(text string) []string
}

// Recursive splits on the coarsest separator that keeps pieces under
// ChunkSize, falling back to finer separators for oversized pieces, then
// merges neighbouring pieces back up to ChunkSize with ChunkOverlap
// characters carried between chunks. Lengths are counted in runes.
type Recursive struct {
	ChunkSize    int
	ChunkOverlap int
	Separators   []string
}

// New returns a Recursive splitter, substituting defaults for
// non-positive sizes and clamping the overlap below the chunk size.
func New(size, overlap int) *Recursive {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = DefaultChunkOverlap
	}
	if overlap >= size {
		overlap = size / 5
	}
	return &Recursive{ChunkSize: size, ChunkOverlap: overlap, Separators: defaultSeparators}
}

func (r *Recursive) Split(text string) []string {
	seps := r.Separators
	if len(seps) == 0 {
		seps = defaultSeparators
	}
	return r.split(text, seps)
}

func (r *Recursive) split(text string, separators []string) []string {
	separator := separators[len(separators)-1]
	var next []string
	for i, s := range separators {
		if s == "" {
			separator = s
			break
		}
		if strings.Contains(text, s) {
			separator = s
			next = separators[i+1:]
			break
		}
	}

	var pieces []string
	if separator == "" {
		pieces = splitRunes(text)
	} else {
		pieces = strings.Split(text, separator)
	}

	var out, good []string
	for _, p := range pieces {
		if p == "" {
			continue
		}
		if runeLen(p) < r.ChunkSize {
			good = append(good, p)
			continue
		}
		if len(good) > 0 {
			out = append(out, r.merge(good, separator)...)
			good = nil
		}
		if len(next) == 0 {
			out = append(out, p)
		} else {
			out = append(out, r.split(p, next)...)
		}
	}
	if len(good) > 0 {
		out = append(out, r.merge(good, separator)...)
	}
	return out
}

func (r *Recursive) merge(pieces []string, separator string) []string {
	sepLen := runeLen(separator)
	var (
		docs    []string
		current []string
		total   int
	)
	joinedLen := func(extra int) int {
		if len(current) > 0 {
			return total + extra + sepLen
		}
		return total + extra
	}
	for _, p := range pieces {
		l := runeLen(p)
		if joinedLen(l) > r.ChunkSize && len(current) > 0 {
			if doc := strings.TrimSpace(strings.Join(current, separator)); doc != "" {
				docs = append(docs, doc)
			}
			for total > r.ChunkOverlap || (joinedLen(l) > r.ChunkSize && total > 0) {
				total -= runeLen(current[0])
				if len(current) > 1 {
					total -= sepLen
				}
				current = current[1:]
			}
		}
		if len(current) > 0 {
			total += sepLen
		}
		current = append(current, p)
		total += l
	}
	if doc := strings.TrimSpace(strings.Join(current, separator)); doc != "" {
		docs = append(docs, doc)
	}
	return docs
}

func splitRunes(s string) []string {
	out := make([]string, 0, utf8.RuneCountInString(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }
