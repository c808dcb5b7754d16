// Package authclient is the HTTP client for the Rekon auth service.
//
// The storage service never inspects identity tokens itself; it forwards them
// to the auth service's /verifyToken endpoint together with the pre-shared
// internal secret, and trusts the verdict. Calls are bounded by a configured
// timeout so a stuck auth service degrades into a clean retryable error
// rather than a hung upload.
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/rekonhq/rekon-storage/internal/apperr"
	"github.com/rekonhq/rekon-storage/internal/metrics"
)

// Verifier resolves an identity token to the account that owns it.
type Verifier interface {
	// Verify returns the account ID for a valid identity token. It returns
	// apperr.ErrAuthInvalid for a rejected token and apperr.ErrAuthUnavailable
	// when the auth service cannot be reached in time.
	Verify(ctx context.Context, identityToken string) (accountID string, err error)
}

// Client implements Verifier against the Rekon auth service.
type Client struct {
	baseURL    string
	secret     string
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates an auth client.
// baseURL is the auth service base URL (e.g. http://127.0.0.1:8238).
// secret is the shared internal secret required by /verifyToken.
// timeout bounds each verification round trip.
func New(baseURL, secret string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		timeout: timeout,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
			},
		},
		logger: logger.With(slog.String("component", "auth_client")),
	}
}

// verifyRequest is the JSON body for POST /verifyToken.
type verifyRequest struct {
	Secret string `json:"secret"`
	Token  string `json:"token"`
}

// verifyResponse mirrors the auth service's reply. On success, Info carries
// the access-token row; only the account ID is of interest here.
type verifyResponse struct {
	Error   bool   `json:"error"`
	Valid   bool   `json:"valid"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Info    struct {
		AccountID string `json:"account_id"`
	} `json:"info"`
}

// Verify implements Verifier.
func (c *Client) Verify(ctx context.Context, identityToken string) (string, error) {
	body, err := json.Marshal(verifyRequest{Secret: c.secret, Token: identityToken})
	if err != nil {
		return "", fmt.Errorf("encoding verifyToken request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/verifyToken", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating verifyToken request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Timeouts and connection failures are the auth service being
		// unreachable, not the credential being bad.
		metrics.AuthVerifyTotal.WithLabelValues("unavailable").Inc()
		c.logger.Warn("Auth service unreachable", "error", err)
		if errors.Is(err, context.Canceled) {
			return "", err
		}
		return "", apperr.ErrAuthUnavailable
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		metrics.AuthVerifyTotal.WithLabelValues("unavailable").Inc()
		c.logger.Warn("Auth service returned server error", "status", resp.StatusCode)
		return "", apperr.ErrAuthUnavailable
	}

	var vr verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		metrics.AuthVerifyTotal.WithLabelValues("unavailable").Inc()
		c.logger.Warn("Auth service returned malformed response", "error", err)
		return "", apperr.ErrAuthUnavailable
	}

	if vr.Error || !vr.Valid || vr.Info.AccountID == "" {
		metrics.AuthVerifyTotal.WithLabelValues("invalid").Inc()
		return "", apperr.ErrAuthInvalid
	}

	metrics.AuthVerifyTotal.WithLabelValues("valid").Inc()
	return vr.Info.AccountID, nil
}
