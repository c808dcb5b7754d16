package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/rekonhq/rekon-storage/internal/uid"
)

// LocalStore implements Store using the local filesystem. Staged chunks live
// under {root}/staging/{token}/{index}, artifacts under
// {root}/artifacts/{name}, and in-flight writes under {root}/.tmp so a crash
// never leaves a torn file at a visible path.
type LocalStore struct {
	// RootDir is the base directory under which all staged and final data
	// is stored.
	RootDir string
}

// NewLocalStore creates a new LocalStore rooted at the given directory.
// It creates the root, staging, artifacts and temp directories if they do
// not exist.
func NewLocalStore(rootDir string) (*LocalStore, error) {
	for _, dir := range []string{
		rootDir,
		filepath.Join(rootDir, ".tmp"),
		filepath.Join(rootDir, "staging"),
		filepath.Join(rootDir, "artifacts"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating directory %q: %w", dir, err)
		}
	}
	return &LocalStore{RootDir: rootDir}, nil
}

// CleanTempFiles removes all files in the .tmp directory. This is called on
// startup as part of crash-only recovery. Any temp files left behind indicate
// incomplete writes from a previous crash.
func (b *LocalStore) CleanTempFiles() error {
	tmpDir := filepath.Join(b.RootDir, ".tmp")
	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading temp directory: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			os.Remove(filepath.Join(tmpDir, entry.Name()))
		}
	}
	return nil
}

// chunkDir returns the staging directory for a session.
func (b *LocalStore) chunkDir(token string) string {
	return filepath.Join(b.RootDir, "staging", token)
}

// chunkPath returns the staged file path for a chunk. Indices are zero
// padded purely for directory-listing readability; ListChunks parses them
// back to integers, so ordering never depends on the string form.
func (b *LocalStore) chunkPath(token string, index int) string {
	return filepath.Join(b.chunkDir(token), fmt.Sprintf("%05d", index))
}

// artifactPath returns the filesystem path for a finished artifact.
func (b *LocalStore) artifactPath(name string) string {
	return filepath.Join(b.RootDir, "artifacts", name)
}

// tempPath returns a unique temporary file path in the .tmp directory.
func (b *LocalStore) tempPath() string {
	return filepath.Join(b.RootDir, ".tmp", "tmp-"+uid.New())
}

// writeAtomic streams r into a temp file, fsyncs it, and renames it to dst.
func (b *LocalStore) writeAtomic(dst string, r io.Reader) (int64, error) {
	tmpPath := b.tempPath()
	tmpFile, err := os.Create(tmpPath)
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}

	n, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("writing data: %w", err)
	}

	// Fsync before rename to guarantee durability.
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("syncing temp file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("closing temp file: %w", err)
	}

	// Atomic rename: temp -> final path. Replaces any prior content.
	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("renaming temp file to final path: %w", err)
	}
	return n, nil
}

// WriteChunk stores one chunk under the session's staging directory,
// overwriting any earlier upload of the same index.
func (b *LocalStore) WriteChunk(ctx context.Context, token string, index int, r io.Reader) (int64, error) {
	if err := os.MkdirAll(b.chunkDir(token), 0o755); err != nil {
		return 0, fmt.Errorf("creating staging directory for %q: %w", token, err)
	}
	return b.writeAtomic(b.chunkPath(token, index), r)
}

// ListChunks returns the staged indices for the session in ascending numeric
// order. File names are parsed as integers; anything unparseable is skipped.
func (b *LocalStore) ListChunks(ctx context.Context, token string) ([]int, error) {
	entries, err := os.ReadDir(b.chunkDir(token))
	if err != nil {
		if os.IsNotExist(err) {
			return []int{}, nil
		}
		return nil, fmt.Errorf("reading staging directory for %q: %w", token, err)
	}

	indices := make([]int, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		idx, perr := strconv.Atoi(entry.Name())
		if perr != nil {
			continue
		}
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	return indices, nil
}

// ReadChunk opens a staged chunk for reading.
func (b *LocalStore) ReadChunk(ctx context.Context, token string, index int) (io.ReadCloser, error) {
	f, err := os.Open(b.chunkPath(token, index))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("chunk not found: %s/%d", token, index)
		}
		return nil, fmt.Errorf("opening chunk %s/%d: %w", token, index, err)
	}
	return f, nil
}

// DeleteChunks removes the session's entire staging directory. Idempotent.
func (b *LocalStore) DeleteChunks(ctx context.Context, token string) error {
	if err := os.RemoveAll(b.chunkDir(token)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing staging directory for %q: %w", token, err)
	}
	return nil
}

// Write atomically publishes the artifact via the temp-fsync-rename pattern.
func (b *LocalStore) Write(ctx context.Context, name string, r io.Reader) (int64, error) {
	return b.writeAtomic(b.artifactPath(name), r)
}

// Read opens the artifact for reading. The caller is responsible for closing
// the returned ReadCloser.
func (b *LocalStore) Read(ctx context.Context, name string) (io.ReadCloser, int64, error) {
	f, err := os.Open(b.artifactPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, fmt.Errorf("artifact not found: %s", name)
		}
		return nil, 0, fmt.Errorf("opening artifact %q: %w", name, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("stat artifact %q: %w", name, err)
	}
	return f, info.Size(), nil
}

// Delete removes the artifact file. Idempotent: deleting a non-existent
// artifact is not an error.
func (b *LocalStore) Delete(ctx context.Context, name string) error {
	if err := os.Remove(b.artifactPath(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing artifact %q: %w", name, err)
	}
	return nil
}

// Exists checks whether the artifact is present on disk.
func (b *LocalStore) Exists(ctx context.Context, name string) (bool, error) {
	info, err := os.Stat(b.artifactPath(name))
	if err == nil {
		return !info.IsDir(), nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("checking artifact existence %q: %w", name, err)
}
