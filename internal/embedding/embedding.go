/*
Package embedding converts text into fixed-length vectors for similarity search.

Every Embedder reports the model tag that produced its vectors; the tag is stored
next to each vector so that incompatible vector spaces are never mixed in one index.
Failures are always reported as memory.EmbeddingUnavailable errors. Callers decide
whether to retry or store the record without a vector.
*/
package embedding

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/khanglvm/session-memory-mcp/internal/memory"
)

// Embedder produces vectors for text.
type Embedder interface {
	// Embed returns the vector for text. Identical normalized text under the
	// same model yields near-identical vectors.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Model names the model and version that produced the vectors.
	Model() string

	// Dimensions returns the vector length.
	Dimensions() int
}

// ErrEmptyInput is returned for text that is empty after normalization.
var ErrEmptyInput = errors.New("text is empty after normalization")

// Normalize collapses whitespace runs to single spaces and trims the result.
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// unavailable wraps err as an EmbeddingUnavailable error, leaving errors that
// already carry a kind untouched.
func unavailable(err error) error {
	if err == nil {
		return nil
	}
	var me *memory.Error
	if errors.As(err, &me) {
		return err
	}
	return memory.EmbeddingUnavailable(err)
}

// prepare normalizes text and rejects empty input.
func prepare(text string) (string, error) {
	norm := Normalize(text)
	if norm == "" {
		return "", memory.EmbeddingUnavailable(ErrEmptyInput)
	}
	return norm, nil
}
