package embeddings

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf16"
)

// DefaultHashDimension is the output size of the hash provider when none is configured.
const DefaultHashDimension = 384

// statFeatures is the number of text-statistic dimensions after the 26 letter frequencies.
const statFeatures = 3

// MinHashDimension leaves room for at least one hashed dimension.
const MinHashDimension = 26 + statFeatures + 1

// HashProvider is a deterministic bag-of-features embedding computed
// entirely in process.
//
// It is a low-quality baseline for the local fallback index, not a semantic
// model. The similarity threshold defaults are tuned loosely against it, so
// changing the feature layout requires re-deriving them.
//
// Layout for dimension D:
//
//	[0,26)   letter frequency: count of 'a'+i / normalized length
//	26       word count / 100
//	27       average word length / 10
//	28       normalized length / 1000
//	[29,D)   (stableHash(text + itoa(i)) mod 1000) / 1000
//
// The vector is L2-normalized. Blank text yields the zero vector.
type HashProvider struct {
	dimension int
}

// NewHashProvider returns a hash provider with the given dimension.
// Dimensions below MinHashDimension fall back to DefaultHashDimension.
func NewHashProvider(dimension int) *HashProvider {
	if dimension < MinHashDimension {
		dimension = DefaultHashDimension
	}
	return &HashProvider{dimension: dimension}
}

// Embed computes the vector for text. It never fails.
func (p *HashProvider) Embed(text string) []float32 {
	vec := make([]float64, p.dimension)
	if strings.TrimSpace(text) == "" {
		return make([]float32, p.dimension)
	}

	normalized := normalizeText(text)
	length := float64(len(normalized))

	if length > 0 {
		var counts [26]int
		for i := 0; i < len(normalized); i++ {
			if c := normalized[i]; c >= 'a' && c <= 'z' {
				counts[c-'a']++
			}
		}
		for i, n := range counts {
			vec[i] = float64(n) / length
		}
	}

	words := strings.Fields(normalized)
	avgWordLen := 0.0
	if len(words) > 0 {
		total := 0
		for _, w := range words {
			total += len(w)
		}
		avgWordLen = float64(total) / float64(len(words))
	}
	vec[26] = float64(len(words)) / 100
	vec[27] = avgWordLen / 10
	vec[28] = length / 1000

	for i := 26 + statFeatures; i < p.dimension; i++ {
		vec[i] = float64(stableHash(text+strconv.Itoa(i))%1000) / 1000
	}

	return toNormalizedFloat32(vec)
}

// EmbedDocuments embeds each text sequentially.
func (p *HashProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = p.Embed(t)
	}
	return out, nil
}

// EmbedQuery embeds a single query.
func (p *HashProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.Embed(text), nil
}

// Dimension returns the configured vector length.
func (p *HashProvider) Dimension() int { return p.dimension }

// Close is a no-op.
func (p *HashProvider) Close() error { return nil }

// normalizeText lowercases text and keeps only ASCII word characters and whitespace.
func normalizeText(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(r)
		}
	}
	return b.String()
}

// stableHash is the 31-multiplier rolling hash over UTF-16 code units with
// 32-bit wrap-around, returned as an absolute value.
func stableHash(s string) int64 {
	var h int32
	for _, c := range utf16.Encode([]rune(s)) {
		h = (h << 5) - h + int32(c)
	}
	v := int64(h)
	if v < 0 {
		v = -v
	}
	return v
}

func toNormalizedFloat32(vec []float64) []float32 {
	var sum float64
	for _, v := range vec {
		sum += v * v
	}
	out := make([]float32, len(vec))
	mag := math.Sqrt(sum)
	if mag == 0 {
		return out
	}
	for i, v := range vec {
		out[i] = float32(v / mag)
	}
	return out
}
