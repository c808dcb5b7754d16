// Package session defines the interface and implementations for the storage
// service's upload-session metadata layer.
package session

import (
	"context"
	"time"
)

// Destination categories for upload sessions. The category decides token
// derivation (profile tokens are deterministic per account) and whether the
// finalizer derives a thumbnail.
const (
	CategoryProfile       = "profile"
	CategoryPersonalBlock = "personal-block"
	CategoryGroupBlock    = "group-block"
)

// Record represents the metadata for a single upload session.
type Record struct {
	// Token is the opaque session identifier, unique across all sessions.
	Token string
	// OwnerAccountID is the account that requested the upload.
	OwnerAccountID string
	// Category is the destination category (see Category* constants).
	Category string
	// ExpectedChunkCount is the number of chunks the client promised.
	ExpectedChunkCount int
	// FileExtension is the artifact's file type, without a leading dot.
	FileExtension string
	// ThumbnailHash is the compact preview encoding; empty until (and unless)
	// thumbnail derivation succeeds.
	ThumbnailHash string
	// Completed flips false->true exactly once, when finalize assembles the
	// artifact.
	Completed bool
	CreatedAt time.Time
}

// Store is the durable upload-session store. All methods must be safe for
// concurrent use. Lookup methods return (nil, nil) for missing records so
// callers can distinguish absence from store failure.
type Store interface {
	// Get returns the session with the given token, or nil if absent.
	Get(ctx context.Context, token string) (*Record, error)

	// GetByOwner returns the session owned by the account in the given
	// category, or nil if absent. Used for the deterministic-profile case.
	GetByOwner(ctx context.Context, ownerAccountID, category string) (*Record, error)

	// Insert stores a new session. It fails if the token already exists;
	// claim-and-reset of a deterministic slot deletes first.
	Insert(ctx context.Context, rec *Record) error

	// SetCompleted updates the session's completed flag.
	SetCompleted(ctx context.Context, token string, completed bool) error

	// SetThumbnailHash records the derived thumbnail encoding.
	SetThumbnailHash(ctx context.Context, token, hash string) error

	// Delete removes the session. Deleting an absent token is not an error.
	Delete(ctx context.Context, token string) error

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error

	// Close releases the store's resources.
	Close() error
}
