package metrics

import (
	"testing"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/health", "/health"},
		{"/docs", "/docs"},
		{"/docs/", "/docs"},
		{"/docs/something", "/docs"},
		{"/metrics", "/metrics"},
		{"/openapi.json", "/openapi.json"},
		{"/", "/"},
		{"", "/"},
		{"/getUploadToken", "/getUploadToken"},
		{"/completeUpload", "/completeUpload"},
		{"/uploadChunk/abc-profile/0", "/uploadChunk/{token}/{index}"},
		{"/uploadChunk/abc-123-personal/17", "/uploadChunk/{token}/{index}"},
		{"/getFile/abc-profile", "/getFile/{token}"},
		{"/deleteFile/abc-profile", "/deleteFile/{token}"},
		{"/profilePicture/acct-42", "/profilePicture/{accountID}"},
		{"/favicon.ico", "/other"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := NormalizePath(tt.path)
			if got != tt.want {
				t.Errorf("NormalizePath(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestMetricsRegistered(t *testing.T) {
	// Register metrics explicitly (registration is conditional on config).
	Register()

	// Verify that calling Inc/Observe on metrics does not panic.
	HTTPRequestsTotal.WithLabelValues("GET", "/health", "200").Inc()
	HTTPRequestDuration.WithLabelValues("GET", "/health").Observe(0.001)
	HTTPRequestSize.WithLabelValues("PUT", "/uploadChunk/{token}/{index}").Observe(1024)
	HTTPResponseSize.WithLabelValues("GET", "/getFile/{token}").Observe(2048)
	SessionsIssuedTotal.WithLabelValues("profile").Inc()
	ChunksReceivedTotal.Inc()
	FinalizeTotal.WithLabelValues("assembled").Inc()
	AssembledBytesTotal.Add(1024)
	ThumbnailsTotal.WithLabelValues("success").Inc()
	AuthVerifyTotal.WithLabelValues("valid").Inc()
}
