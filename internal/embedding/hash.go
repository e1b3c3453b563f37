package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// Hash is a local feature-hashing embedder. Each lower-cased word is
// hashed into one of Dimensions buckets with a signed weight and the
// vector is L2-normalized. It needs no network and is deterministic.
type Hash struct {
	Dimensions int
}

func NewHash(dim int) *Hash {
	if dim <= 0 {
		dim = 384
	}
	return &Hash{Dimensions: dim}
}

func (h *Hash) Name() string { return string(ProviderHash) + ":" + strconv.Itoa(h.Dimensions) }

func (h *Hash) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.vector(t)
	}
	return out, nil
}

func (h *Hash) vector(text string) []float32 {
	v := make([]float32, h.Dimensions)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, w := range words {
		f := fnv.New64a()
		_, _ = f.Write([]byte(w))
		sum := f.Sum64()
		idx := int(sum % uint64(h.Dimensions))
		if sum&(1<<63) != 0 {
			v[idx]--
		} else {
			v[idx]++
		}
	}
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= scale
	}
	return v
}
