// Package handlers implements the HTTP handlers for the Rekon storage API.
//
// JSON routes carry the caller's identity token in the request body; binary
// routes (chunk upload, file download) carry it in the X-Rekon-Token header
// so the body stays raw.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/rekonhq/rekon-storage/internal/apperr"
	"github.com/rekonhq/rekon-storage/internal/jsonutil"
	"github.com/rekonhq/rekon-storage/internal/upload"
)

const (
	// identityHeader carries the caller's identity token on binary routes.
	identityHeader = "X-Rekon-Token"
	// fileTypeHeader carries the artifact's file extension on downloads.
	fileTypeHeader = "X-Rekon-File-Type"
)

// UploadHandler exposes the upload engine over HTTP.
type UploadHandler struct {
	svc          *upload.Service
	maxChunkSize int64
	logger       *slog.Logger
}

// NewUploadHandler creates an UploadHandler. maxChunkSize bounds the accepted
// chunk payload in bytes.
func NewUploadHandler(svc *upload.Service, maxChunkSize int64, logger *slog.Logger) *UploadHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &UploadHandler{svc: svc, maxChunkSize: maxChunkSize, logger: logger}
}

type getUploadTokenRequest struct {
	// Token is the caller's identity token.
	Token string `json:"token"`
	// Type is the destination category.
	Type string `json:"type"`
	// ChunkCount is the number of chunks the client will upload.
	ChunkCount int `json:"chunkCount"`
	// FileType is the artifact's file extension.
	FileType string `json:"fileType"`
}

// GetUploadToken handles POST /getUploadToken.
func (h *UploadHandler) GetUploadToken(w http.ResponseWriter, r *http.Request) {
	var req getUploadTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonutil.WriteError(w, apperr.ErrInvalidArgument.WithMessage("malformed JSON body"))
		return
	}

	token, err := h.svc.IssueToken(r.Context(), req.Token, req.Type, req.ChunkCount, req.FileType)
	if err != nil {
		jsonutil.WriteError(w, err)
		return
	}
	jsonutil.WriteOK(w, map[string]any{"token": token})
}

// UploadChunk handles PUT /uploadChunk/{uploadToken}/{index}. The chunk
// travels as the raw request body.
func (h *UploadHandler) UploadChunk(w http.ResponseWriter, r *http.Request) {
	uploadToken := chi.URLParam(r, "uploadToken")
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		jsonutil.WriteError(w, apperr.ErrInvalidArgument.WithMessage("chunk index must be an integer"))
		return
	}
	if r.ContentLength > h.maxChunkSize {
		jsonutil.WriteError(w, apperr.ErrInvalidArgument.WithMessage("chunk exceeds the maximum chunk size"))
		return
	}

	// Bounded reader instead of trusting Content-Length: chunked transfer
	// encoding reports -1 there.
	body := &boundedReader{r: r.Body, remaining: h.maxChunkSize}
	err = h.svc.ReceiveChunk(r.Context(), r.Header.Get(identityHeader), uploadToken, index, body)
	if err != nil {
		if body.exceeded {
			jsonutil.WriteError(w, apperr.ErrInvalidArgument.WithMessage("chunk exceeds the maximum chunk size"))
			return
		}
		jsonutil.WriteError(w, err)
		return
	}
	jsonutil.WriteOK(w, nil)
}

type completeUploadRequest struct {
	// Token is the caller's identity token.
	Token string `json:"token"`
	// UploadToken identifies the session to finalize.
	UploadToken string `json:"uploadToken"`
}

// CompleteUpload handles POST /completeUpload.
func (h *UploadHandler) CompleteUpload(w http.ResponseWriter, r *http.Request) {
	var req completeUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonutil.WriteError(w, apperr.ErrInvalidArgument.WithMessage("malformed JSON body"))
		return
	}

	thumb, err := h.svc.Finalize(r.Context(), req.Token, req.UploadToken)
	if err != nil {
		jsonutil.WriteError(w, err)
		return
	}
	jsonutil.WriteOK(w, map[string]any{"thumbnail": thumb})
}

// GetFile handles GET /getFile/{uploadToken}.
func (h *UploadHandler) GetFile(w http.ResponseWriter, r *http.Request) {
	f, err := h.svc.GetFile(r.Context(), r.Header.Get(identityHeader), chi.URLParam(r, "uploadToken"))
	if err != nil {
		jsonutil.WriteError(w, err)
		return
	}
	h.writeFile(w, f)
}

// DeleteFile handles DELETE /deleteFile/{uploadToken}.
func (h *UploadHandler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	err := h.svc.DeleteFile(r.Context(), r.Header.Get(identityHeader), chi.URLParam(r, "uploadToken"))
	if err != nil {
		jsonutil.WriteError(w, err)
		return
	}
	jsonutil.WriteOK(w, nil)
}

// ProfilePicture handles GET /profilePicture/{accountID}. Public: no identity
// token required. An account without a profile picture gets an empty 200 so
// clients can render a default avatar without special-casing errors.
func (h *UploadHandler) ProfilePicture(w http.ResponseWriter, r *http.Request) {
	f, err := h.svc.GetProfilePicture(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		jsonutil.WriteError(w, err)
		return
	}
	if f == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	h.writeFile(w, f)
}

// boundedReader errors once more than remaining bytes have been read, and
// remembers that it did so the handler can report the size violation instead
// of a generic storage failure.
type boundedReader struct {
	r         io.Reader
	remaining int64
	exceeded  bool
}

func (b *boundedReader) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	b.remaining -= int64(n)
	if b.remaining < 0 {
		b.exceeded = true
		return 0, errors.New("payload too large")
	}
	return n, err
}

// writeFile streams an artifact as the response body.
func (h *UploadHandler) writeFile(w http.ResponseWriter, f *upload.File) {
	defer f.Body.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(f.Size, 10))
	if f.Extension != "" {
		w.Header().Set(fileTypeHeader, f.Extension)
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, f.Body); err != nil {
		// Headers are gone; all we can do is log the broken transfer.
		h.logger.Warn("streaming artifact failed", "error", err)
	}
}
