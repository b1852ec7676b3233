package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// DefaultHashDimensions is the vector length of the hashing embedder.
const DefaultHashDimensions = 256

// Hash is a deterministic, offline embedder based on signed feature hashing of
// word unigrams and bigrams. It captures lexical overlap only, but needs no
// network and gives bit-identical vectors for identical text.
type Hash struct {
	dims int
}

var _ Embedder = (*Hash)(nil)

// NewHash creates a hashing embedder with dims dimensions (DefaultHashDimensions if <= 0).
func NewHash(dims int) *Hash {
	if dims <= 0 {
		dims = DefaultHashDimensions
	}
	return &Hash{dims: dims}
}

func (h *Hash) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable(err)
	}
	norm, err := prepare(text)
	if err != nil {
		return nil, err
	}

	tokens := tokenize(norm)
	if len(tokens) == 0 {
		return nil, unavailable(ErrEmptyInput)
	}

	vec := make([]float32, h.dims)
	for i, tok := range tokens {
		h.add(vec, tok, 1)
		if i > 0 {
			h.add(vec, tokens[i-1]+" "+tok, 0.5)
		}
	}

	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return nil, unavailable(ErrEmptyInput)
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range vec {
		vec[i] *= inv
	}
	return vec, nil
}

func (h *Hash) add(vec []float32, feature string, weight float32) {
	f := fnv.New64a()
	f.Write([]byte(feature))
	sum := f.Sum64()
	idx := int(sum % uint64(h.dims))
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}

func (h *Hash) Model() string {
	return fmt.Sprintf("hash-v1@%d", h.dims)
}

func (h *Hash) Dimensions() int {
	return h.dims
}

// tokenize lowercases text and splits it on anything that is not a letter or digit.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
