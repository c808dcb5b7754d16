// Package blob defines the interfaces and implementations for the storage
// service's byte storage layer: staged upload chunks and finished artifacts.
package blob

import (
	"context"
	"io"
)

// ChunkStore is addressable byte storage for staged upload chunks, keyed by
// (session token, chunk index). Writes to distinct indices must be
// independent so concurrent chunk uploads need no coordination. All methods
// must be safe for concurrent use.
type ChunkStore interface {
	// WriteChunk stores the chunk payload at (token, index), replacing any
	// previous payload at that index. Returns the number of bytes written.
	WriteChunk(ctx context.Context, token string, index int, r io.Reader) (int64, error)

	// ListChunks returns the indices currently staged for the session, in
	// ascending numeric order. A session with no staged chunks yields an
	// empty slice, not an error.
	ListChunks(ctx context.Context, token string) ([]int, error)

	// ReadChunk opens the staged payload at (token, index). The caller is
	// responsible for closing the returned ReadCloser.
	ReadChunk(ctx context.Context, token string, index int) (io.ReadCloser, error)

	// DeleteChunks removes every staged chunk for the session. Idempotent.
	DeleteChunks(ctx context.Context, token string) error
}

// ArtifactStore is storage for finished artifacts. Write must be atomic
// publish: a reader never observes a partially written artifact at its name.
type ArtifactStore interface {
	// Write streams r into the artifact at name, atomically replacing any
	// prior artifact. Returns the number of bytes written.
	Write(ctx context.Context, name string, r io.Reader) (int64, error)

	// Read opens the artifact for reading along with its size. The caller is
	// responsible for closing the returned ReadCloser.
	Read(ctx context.Context, name string) (io.ReadCloser, int64, error)

	// Delete removes the artifact. Deleting an absent artifact is not an error.
	Delete(ctx context.Context, name string) error

	// Exists reports whether the artifact is present.
	Exists(ctx context.Context, name string) (bool, error)
}

// Store combines chunk staging and artifact storage; every backend in this
// package implements both halves over the same underlying medium.
type Store interface {
	ChunkStore
	ArtifactStore
}
