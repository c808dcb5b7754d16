package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 9001\n"), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 9001 {
		t.Errorf("Port = %d, want 9001", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Host = %q, want default 0.0.0.0", cfg.Server.Host)
	}
	if cfg.Sessions.Engine != "sqlite" {
		t.Errorf("Sessions.Engine = %q, want default sqlite", cfg.Sessions.Engine)
	}
	if cfg.Blob.Backend != "local" {
		t.Errorf("Blob.Backend = %q, want default local", cfg.Blob.Backend)
	}
	if cfg.Thumbnail.MaxBox != 100 {
		t.Errorf("Thumbnail.MaxBox = %d, want default 100", cfg.Thumbnail.MaxBox)
	}
}

func TestLoadFull(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
server:
  host: 127.0.0.1
  port: 8300
  max_chunk_size: 1048576
auth:
  url: http://auth.internal:8238
  secret: hunter2
  timeout_seconds: 2
sessions:
  engine: memory
blob:
  backend: s3
  s3:
    bucket: rekon-files
    region: eu-west-1
    use_path_style: true
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Auth.Secret != "hunter2" {
		t.Errorf("Auth.Secret = %q, want hunter2", cfg.Auth.Secret)
	}
	if got := cfg.Auth.Timeout().Seconds(); got != 2 {
		t.Errorf("Auth.Timeout = %vs, want 2s", got)
	}
	if cfg.Sessions.Engine != "memory" {
		t.Errorf("Sessions.Engine = %q, want memory", cfg.Sessions.Engine)
	}
	if cfg.Blob.S3.Bucket != "rekon-files" {
		t.Errorf("Blob.S3.Bucket = %q, want rekon-files", cfg.Blob.S3.Bucket)
	}
	if !cfg.Blob.S3.UsePathStyle {
		t.Error("Blob.S3.UsePathStyle = false, want true")
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("Load succeeded for missing file, want error")
	}
}
