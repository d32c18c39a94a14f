//go:build !cgo

package embeddings

import (
	"context"

	"go.uber.org/zap"
)

// EnsureONNXRuntime is unavailable without cgo.
func EnsureONNXRuntime(_ context.Context, _ *zap.Logger) (string, error) {
	return "", ErrFastEmbedNotAvailable
}
