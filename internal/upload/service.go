// Package upload implements the chunked-upload engine: session issuance,
// chunk staging, artifact assembly, retrieval and deletion.
//
// Clients upload large files in chunks so a flaky connection only costs the
// chunk in flight. The flow is: issue an upload token, stage each chunk under
// (token, index), then finalize. Finalize verifies every promised chunk is
// present, concatenates them in ascending index order into a single artifact,
// and publishes it atomically.
package upload

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rekonhq/rekon-storage/internal/apperr"
	"github.com/rekonhq/rekon-storage/internal/authclient"
	"github.com/rekonhq/rekon-storage/internal/blob"
	"github.com/rekonhq/rekon-storage/internal/metrics"
	"github.com/rekonhq/rekon-storage/internal/session"
	"github.com/rekonhq/rekon-storage/internal/thumbnail"
)

// Thumbnailer derives a compact preview encoding from image bytes.
type Thumbnailer interface {
	Encode(r io.Reader) (string, error)
}

// File is a readable artifact handed back to the transport layer. The caller
// must close Body.
type File struct {
	Body      io.ReadCloser
	Size      int64
	Extension string
}

// Service is the upload engine. It owns the session metadata store, the blob
// stores for staged chunks and finished artifacts, and the auth collaborator.
type Service struct {
	sessions    session.Store
	chunks      blob.ChunkStore
	artifacts   blob.ArtifactStore
	verifier    authclient.Verifier
	thumbnailer Thumbnailer
	logger      *slog.Logger

	// finalizeLocks serializes finalize attempts per upload token.
	finalizeLocks *keyedMutex
	// issueLocks serializes deterministic-token issuance per (owner, category).
	issueLocks *keyedMutex
}

// NewService creates the upload engine. The blob store serves both staged
// chunks and finished artifacts.
func NewService(sessions session.Store, blobs blob.Store, verifier authclient.Verifier, thumbnailer Thumbnailer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		sessions:      sessions,
		chunks:        blobs,
		artifacts:     blobs,
		verifier:      verifier,
		thumbnailer:   thumbnailer,
		logger:        logger,
		finalizeLocks: newKeyedMutex(),
		issueLocks:    newKeyedMutex(),
	}
}

// storageErr logs the underlying failure and returns the generic storage
// error so internals never leak onto the wire.
func (s *Service) storageErr(op string, err error) error {
	s.logger.Error("storage operation failed", "op", op, "error", err)
	return apperr.ErrStorageIO
}

// normalizeExtension canonicalizes a client-supplied file type: lowercase,
// no leading dot.
func normalizeExtension(fileType string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(fileType), "."))
}

// IssueToken verifies the caller and opens a new upload session, returning
// its token. Profile uploads use a deterministic per-account token so a new
// profile picture replaces the old slot; block uploads get a fresh unique
// token. Re-issuing a deterministic token resets the slot: staged chunks, the
// published artifact and the old session record are purged first, under the
// per-owner issuance lock.
func (s *Service) IssueToken(ctx context.Context, identityToken, category string, chunkCount int, fileType string) (string, error) {
	accountID, err := s.verifier.Verify(ctx, identityToken)
	if err != nil {
		return "", err
	}

	if chunkCount < 1 {
		return "", apperr.ErrInvalidArgument.WithMessage("chunkCount must be at least 1")
	}
	ext := normalizeExtension(fileType)
	if strings.ContainsAny(ext, "/\\") {
		return "", apperr.ErrInvalidArgument.WithMessage("fileType must not contain path separators")
	}

	var token string
	deterministic := false
	switch category {
	case session.CategoryProfile:
		token = accountID + "-profile"
		deterministic = true
	case session.CategoryPersonalBlock:
		token = fmt.Sprintf("%s-%s-personal", accountID, uuid.NewString())
	case session.CategoryGroupBlock:
		token = fmt.Sprintf("%s-%s-group", accountID, uuid.NewString())
	default:
		return "", apperr.ErrInvalidLocation
	}

	if deterministic {
		unlock := s.issueLocks.Lock(accountID + "/" + category)
		defer unlock()

		existing, err := s.sessions.Get(ctx, token)
		if err != nil {
			return "", s.storageErr("looking up session", err)
		}
		if existing != nil {
			if existing.OwnerAccountID != accountID {
				return "", apperr.ErrTokenMismatch
			}
			if err := s.purge(ctx, token); err != nil {
				return "", err
			}
		}
	}

	rec := &session.Record{
		Token:              token,
		OwnerAccountID:     accountID,
		Category:           category,
		ExpectedChunkCount: chunkCount,
		FileExtension:      ext,
		CreatedAt:          time.Now().UTC(),
	}
	if err := s.sessions.Insert(ctx, rec); err != nil {
		return "", s.storageErr("inserting session", err)
	}

	metrics.SessionsIssuedTotal.WithLabelValues(category).Inc()
	s.logger.Info("upload session issued",
		"token", token, "account", accountID, "category", category, "chunks", chunkCount)
	return token, nil
}

// ReceiveChunk verifies the caller, resolves the session, and stages one
// chunk. Re-sending an index overwrites the earlier bytes; distinct indices
// need no coordination.
func (s *Service) ReceiveChunk(ctx context.Context, identityToken, uploadToken string, index int, r io.Reader) error {
	accountID, err := s.verifier.Verify(ctx, identityToken)
	if err != nil {
		return err
	}

	sess, err := s.sessions.Get(ctx, uploadToken)
	if err != nil {
		return s.storageErr("looking up session", err)
	}
	if sess == nil {
		return apperr.ErrSessionNotFound
	}
	if sess.OwnerAccountID != accountID {
		return apperr.ErrTokenMismatch
	}
	if sess.Completed {
		return apperr.ErrInvalidArgument.WithMessage("upload session already completed")
	}
	if index < 0 || index >= sess.ExpectedChunkCount {
		return apperr.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("chunk index %d out of range [0, %d)", index, sess.ExpectedChunkCount))
	}

	if _, err := s.chunks.WriteChunk(ctx, uploadToken, index, r); err != nil {
		return s.storageErr("staging chunk", err)
	}
	metrics.ChunksReceivedTotal.Inc()
	return nil
}

// Finalize assembles the staged chunks into the final artifact and returns
// the thumbnail hash (empty when no thumbnail was derived). Attempts on the
// same token are serialized; finalizing an already-completed session is a
// success no-op. A staged-count mismatch purges the staging area and returns
// ErrChunkCountMismatch so the client can re-upload everything and retry.
func (s *Service) Finalize(ctx context.Context, identityToken, uploadToken string) (string, error) {
	accountID, err := s.verifier.Verify(ctx, identityToken)
	if err != nil {
		return "", err
	}

	unlock := s.finalizeLocks.Lock(uploadToken)
	defer unlock()

	sess, err := s.sessions.Get(ctx, uploadToken)
	if err != nil {
		return "", s.storageErr("looking up session", err)
	}
	if sess == nil {
		return "", apperr.ErrSessionNotFound
	}
	if sess.OwnerAccountID != accountID {
		return "", apperr.ErrTokenMismatch
	}
	if sess.Completed {
		metrics.FinalizeTotal.WithLabelValues("already_completed").Inc()
		return sess.ThumbnailHash, nil
	}

	indices, err := s.chunks.ListChunks(ctx, uploadToken)
	if err != nil {
		metrics.FinalizeTotal.WithLabelValues("error").Inc()
		return "", s.storageErr("listing staged chunks", err)
	}
	if len(indices) != sess.ExpectedChunkCount {
		if derr := s.chunks.DeleteChunks(ctx, uploadToken); derr != nil {
			s.logger.Warn("purging staged chunks failed", "token", uploadToken, "error", derr)
		}
		metrics.FinalizeTotal.WithLabelValues("count_mismatch").Inc()
		return "", apperr.ErrChunkCountMismatch.WithMessage(
			fmt.Sprintf("expected %d chunks, found %d; staging purged, re-upload and retry", sess.ExpectedChunkCount, len(indices)))
	}

	// Assembly order is numeric on the index, never lexicographic on any
	// stored name.
	sort.Ints(indices)

	size, err := s.assemble(ctx, uploadToken, indices)
	if err != nil {
		metrics.FinalizeTotal.WithLabelValues("error").Inc()
		return "", s.storageErr("assembling artifact", err)
	}

	// The artifact is published; staging is now garbage either way.
	if err := s.chunks.DeleteChunks(ctx, uploadToken); err != nil {
		s.logger.Warn("purging staged chunks after assembly failed", "token", uploadToken, "error", err)
	}
	if err := s.sessions.SetCompleted(ctx, uploadToken, true); err != nil {
		metrics.FinalizeTotal.WithLabelValues("error").Inc()
		return "", s.storageErr("marking session completed", err)
	}

	metrics.FinalizeTotal.WithLabelValues("assembled").Inc()
	metrics.AssembledBytesTotal.Add(float64(size))
	s.logger.Info("artifact assembled",
		"token", uploadToken, "chunks", len(indices), "bytes", size)

	return s.deriveThumbnail(ctx, sess), nil
}

// assemble stream-concatenates the staged chunks, in the given order, into
// the artifact store. The artifact name is the upload token itself; the file
// extension lives in the session record.
func (s *Service) assemble(ctx context.Context, token string, indices []int) (int64, error) {
	pr, pw := io.Pipe()
	go func() {
		for _, idx := range indices {
			rc, err := s.chunks.ReadChunk(ctx, token, idx)
			if err != nil {
				pw.CloseWithError(fmt.Errorf("reading chunk %d: %w", idx, err))
				return
			}
			_, err = io.Copy(pw, rc)
			rc.Close()
			if err != nil {
				pw.CloseWithError(fmt.Errorf("copying chunk %d: %w", idx, err))
				return
			}
		}
		pw.Close()
	}()

	n, err := s.artifacts.Write(ctx, token, pr)
	if err != nil {
		// Unblock the producer goroutine if the write side failed first.
		pr.CloseWithError(err)
		return 0, err
	}
	return n, nil
}

// deriveThumbnail encodes a preview for image artifacts. Best effort: any
// failure is logged and counted, never surfaced, since the upload itself
// already succeeded.
func (s *Service) deriveThumbnail(ctx context.Context, sess *session.Record) string {
	if s.thumbnailer == nil || !thumbnail.IsImageExtension(sess.FileExtension) {
		return ""
	}

	rc, _, err := s.artifacts.Read(ctx, sess.Token)
	if err != nil {
		s.logger.Warn("reading artifact for thumbnail failed", "token", sess.Token, "error", err)
		metrics.ThumbnailsTotal.WithLabelValues("failure").Inc()
		return ""
	}
	defer rc.Close()

	hash, err := s.thumbnailer.Encode(rc)
	if err != nil {
		s.logger.Warn("thumbnail derivation failed", "token", sess.Token, "error", err)
		metrics.ThumbnailsTotal.WithLabelValues("failure").Inc()
		return ""
	}
	if err := s.sessions.SetThumbnailHash(ctx, sess.Token, hash); err != nil {
		s.logger.Warn("storing thumbnail hash failed", "token", sess.Token, "error", err)
		metrics.ThumbnailsTotal.WithLabelValues("failure").Inc()
		return ""
	}

	metrics.ThumbnailsTotal.WithLabelValues("success").Inc()
	return hash
}

// GetFile verifies the caller and returns the completed artifact for the
// session they own.
func (s *Service) GetFile(ctx context.Context, identityToken, uploadToken string) (*File, error) {
	accountID, err := s.verifier.Verify(ctx, identityToken)
	if err != nil {
		return nil, err
	}

	sess, err := s.sessions.Get(ctx, uploadToken)
	if err != nil {
		return nil, s.storageErr("looking up session", err)
	}
	if sess == nil {
		return nil, apperr.ErrSessionNotFound
	}
	if sess.OwnerAccountID != accountID {
		return nil, apperr.ErrTokenMismatch
	}
	if !sess.Completed {
		return nil, apperr.ErrNotFound
	}

	exists, err := s.artifacts.Exists(ctx, uploadToken)
	if err != nil {
		return nil, s.storageErr("checking artifact", err)
	}
	if !exists {
		return nil, apperr.ErrNotFound
	}

	rc, size, err := s.artifacts.Read(ctx, uploadToken)
	if err != nil {
		return nil, s.storageErr("reading artifact", err)
	}
	return &File{Body: rc, Size: size, Extension: sess.FileExtension}, nil
}

// GetProfilePicture returns the account's completed profile artifact, or
// (nil, nil) when the account has none. Unauthenticated: profile pictures
// are public within the Rekon backend.
func (s *Service) GetProfilePicture(ctx context.Context, accountID string) (*File, error) {
	token := accountID + "-profile"

	sess, err := s.sessions.Get(ctx, token)
	if err != nil {
		return nil, s.storageErr("looking up session", err)
	}
	if sess == nil || !sess.Completed {
		return nil, nil
	}

	exists, err := s.artifacts.Exists(ctx, token)
	if err != nil {
		return nil, s.storageErr("checking artifact", err)
	}
	if !exists {
		return nil, nil
	}

	rc, size, err := s.artifacts.Read(ctx, token)
	if err != nil {
		return nil, s.storageErr("reading artifact", err)
	}
	return &File{Body: rc, Size: size, Extension: sess.FileExtension}, nil
}

// DeleteFile verifies the caller and removes the session's staged chunks,
// artifact and record. Deleting an unknown token succeeds: the end state is
// the same.
func (s *Service) DeleteFile(ctx context.Context, identityToken, uploadToken string) error {
	accountID, err := s.verifier.Verify(ctx, identityToken)
	if err != nil {
		return err
	}

	sess, err := s.sessions.Get(ctx, uploadToken)
	if err != nil {
		return s.storageErr("looking up session", err)
	}
	if sess == nil {
		return nil
	}
	if sess.OwnerAccountID != accountID {
		return apperr.ErrTokenMismatch
	}

	if err := s.purge(ctx, uploadToken); err != nil {
		return err
	}
	s.logger.Info("upload session deleted", "token", uploadToken, "account", accountID)
	return nil
}

// purge removes everything attached to a token: staged chunks, artifact and
// session record. Each step is idempotent.
func (s *Service) purge(ctx context.Context, token string) error {
	if err := s.chunks.DeleteChunks(ctx, token); err != nil {
		return s.storageErr("purging staged chunks", err)
	}
	if err := s.artifacts.Delete(ctx, token); err != nil {
		return s.storageErr("deleting artifact", err)
	}
	if err := s.sessions.Delete(ctx, token); err != nil {
		return s.storageErr("deleting session record", err)
	}
	return nil
}
