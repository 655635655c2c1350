// Package embed produces embedding vectors for chunk text. A content-hash
// cache fronts two OpenAI paths: a synchronous one for small batches and the
// asynchronous Batch API for large ones.
package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

var (
	// ErrEmptyInput indicates a call with no texts.
	ErrEmptyInput = errors.New("no texts to embed")

	// ErrDimensionMismatch indicates the provider returned a vector of an
	// unexpected length.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrPartialFailure indicates some items of a synchronous batch could
	// not be embedded. Vectors for the remaining items were produced and
	// cached; the error lists the failed positions.
	ErrPartialFailure = errors.New("some texts failed to embed")

	// ErrBulkFailed indicates a bulk job finished in a terminal non-success
	// state or returned per-item errors.
	ErrBulkFailed = errors.New("bulk embedding job failed")

	// ErrBulkTimeout indicates a bulk job did not finish within the
	// configured wait window.
	ErrBulkTimeout = errors.New("bulk embedding job timed out")
)

// Embedder turns texts into vectors. Result order matches input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// CacheKey identifies an embedding by model, dimension count and exact text.
// Changing the model or dimensions invalidates every cached vector.
func CacheKey(model string, dimensions int, text string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x1f%d\x1f", model, dimensions)
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

func checkDimensions(vec []float32, want int) error {
	if len(vec) != want {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), want)
	}
	return nil
}
