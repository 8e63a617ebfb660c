package llmclient

import (
	"context"
	"unicode"
)

const defaultEmbeddingDim = 512

// HashEmbedder is a dependency-free embedding fallback. It uses feature
// hashing over word tokens and, for Han script, character unigrams and bigrams.
type HashEmbedder struct {
	dim int
}

func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = defaultEmbeddingDim
	}
	return &HashEmbedder{dim: dim}
}

func (h *HashEmbedder) Dim() int { return h.dim }

func (h *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vec := make([]float32, h.dim)
		hashEmbedInto(vec, text)
		out[i] = normalizeL2(vec)
	}
	return out, nil
}

func hashEmbedInto(vec []float32, text string) {
	if len(vec) == 0 {
		return
	}
	dim := uint64(len(vec))

	var word []rune
	var prevHan rune
	flushWord := func() {
		if len(word) > 0 {
			addHashedToken(vec, dim, string(word))
			word = word[:0]
		}
	}

	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r):
			flushWord()
			addHashedToken(vec, dim, string(r))
			if prevHan != 0 {
				addHashedToken(vec, dim, string([]rune{prevHan, r}))
			}
			prevHan = r
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			prevHan = 0
			word = append(word, unicode.ToLower(r))
		default:
			prevHan = 0
			flushWord()
		}
	}
	flushWord()
}

func addHashedToken(vec []float32, dim uint64, token string) {
	// FNV-1a 64-bit over UTF-8 bytes.
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)
	var h uint64 = offset64
	for i := 0; i < len(token); i++ {
		h ^= uint64(token[i])
		h *= prime64
	}

	idx := int(h % dim)
	sign := float32(1.0)
	if (h>>63)&1 == 1 {
		sign = -1.0
	}
	vec[idx] += sign
}
