package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rekonhq/rekon-storage/internal/apperr"
	"github.com/rekonhq/rekon-storage/internal/blob"
	"github.com/rekonhq/rekon-storage/internal/session"
)

// stubVerifier maps identity tokens to account IDs without a network.
type stubVerifier struct {
	accounts map[string]string
}

func (v *stubVerifier) Verify(ctx context.Context, identityToken string) (string, error) {
	acct, ok := v.accounts[identityToken]
	if !ok {
		return "", apperr.ErrAuthInvalid
	}
	return acct, nil
}

// stubThumbnailer returns a fixed hash, or fails when hash is empty.
type stubThumbnailer struct {
	hash string
}

func (t *stubThumbnailer) Encode(r io.Reader) (string, error) {
	io.Copy(io.Discard, r)
	if t.hash == "" {
		return "", errors.New("undecodable")
	}
	return t.hash, nil
}

// countingStore wraps a blob store and counts artifact writes.
type countingStore struct {
	blob.Store
	writes atomic.Int32
}

func (c *countingStore) Write(ctx context.Context, name string, r io.Reader) (int64, error) {
	c.writes.Add(1)
	return c.Store.Write(ctx, name, r)
}

const (
	aliceIdentity = "identity-alice"
	bobIdentity   = "identity-bob"
)

func newTestService(t *testing.T) (*Service, *countingStore) {
	t.Helper()
	blobs := &countingStore{Store: blob.NewMemoryStore()}
	verifier := &stubVerifier{accounts: map[string]string{
		aliceIdentity: "alice",
		bobIdentity:   "bob",
	}}
	svc := NewService(session.NewMemoryStore(), blobs, verifier, &stubThumbnailer{hash: "LKO2?U%2Tw=w"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return svc, blobs
}

// uploadAll issues a session, stages the chunks in the given arrival order,
// and returns the upload token.
func uploadAll(t *testing.T, svc *Service, category, fileType string, chunks []string, order []int) string {
	t.Helper()
	ctx := context.Background()

	token, err := svc.IssueToken(ctx, aliceIdentity, category, len(chunks), fileType)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}
	for _, idx := range order {
		if err := svc.ReceiveChunk(ctx, aliceIdentity, token, idx, strings.NewReader(chunks[idx])); err != nil {
			t.Fatalf("ReceiveChunk(%d) failed: %v", idx, err)
		}
	}
	return token
}

func readFile(t *testing.T, f *File) string {
	t.Helper()
	if f == nil {
		t.Fatal("file is nil")
	}
	defer f.Body.Close()
	data, err := io.ReadAll(f.Body)
	if err != nil {
		t.Fatalf("reading file: %v", err)
	}
	return string(data)
}

func TestIssueTokenProfileDeterministic(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	token, err := svc.IssueToken(ctx, aliceIdentity, session.CategoryProfile, 2, "png")
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}
	if token != "alice-profile" {
		t.Errorf("token = %q, want alice-profile", token)
	}

	// Reissue lands on the same slot.
	again, err := svc.IssueToken(ctx, aliceIdentity, session.CategoryProfile, 3, "jpg")
	if err != nil {
		t.Fatalf("reissue failed: %v", err)
	}
	if again != token {
		t.Errorf("reissued token = %q, want %q", again, token)
	}
}

func TestIssueTokenBlocksAreFresh(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.IssueToken(ctx, aliceIdentity, session.CategoryPersonalBlock, 1, "bin")
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}
	second, err := svc.IssueToken(ctx, aliceIdentity, session.CategoryPersonalBlock, 1, "bin")
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	if first == second {
		t.Errorf("two personal-block tokens are identical: %q", first)
	}
	for _, token := range []string{first, second} {
		if !strings.HasPrefix(token, "alice-") || !strings.HasSuffix(token, "-personal") {
			t.Errorf("token %q does not match alice-{uuid}-personal", token)
		}
	}

	group, err := svc.IssueToken(ctx, aliceIdentity, session.CategoryGroupBlock, 1, "bin")
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}
	if !strings.HasPrefix(group, "alice-") || !strings.HasSuffix(group, "-group") {
		t.Errorf("token %q does not match alice-{uuid}-group", group)
	}
}

func TestIssueTokenRejectsBadRequests(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.IssueToken(ctx, "nobody", session.CategoryProfile, 1, "png"); !errors.Is(err, apperr.ErrAuthInvalid) {
		t.Errorf("bad identity: err = %v, want ErrAuthInvalid", err)
	}
	if _, err := svc.IssueToken(ctx, aliceIdentity, "attic", 1, "png"); !errors.Is(err, apperr.ErrInvalidLocation) {
		t.Errorf("bad category: err = %v, want ErrInvalidLocation", err)
	}
	if _, err := svc.IssueToken(ctx, aliceIdentity, session.CategoryProfile, 0, "png"); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Errorf("zero chunks: err = %v, want ErrInvalidArgument", err)
	}
	if _, err := svc.IssueToken(ctx, aliceIdentity, session.CategoryProfile, 1, "../../etc/passwd"); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Errorf("path in fileType: err = %v, want ErrInvalidArgument", err)
	}
}

func TestFinalizeAssemblesInIndexOrder(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	// Chunks arrive out of order; the artifact must not.
	token := uploadAll(t, svc, session.CategoryPersonalBlock, "txt",
		[]string{"AA", "BB", "CC"}, []int{2, 0, 1})

	if _, err := svc.Finalize(ctx, aliceIdentity, token); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	f, err := svc.GetFile(ctx, aliceIdentity, token)
	if err != nil {
		t.Fatalf("GetFile failed: %v", err)
	}
	if got := readFile(t, f); got != "AABBCC" {
		t.Errorf("artifact = %q, want AABBCC", got)
	}
	if f.Extension != "txt" {
		t.Errorf("extension = %q, want txt", f.Extension)
	}
}

func TestFinalizeArrivalOrderIrrelevant(t *testing.T) {
	orders := [][]int{
		{0, 1, 2},
		{2, 1, 0},
		{1, 2, 0},
		{0, 2, 1},
	}
	for _, order := range orders {
		t.Run(fmt.Sprint(order), func(t *testing.T) {
			svc, _ := newTestService(t)
			ctx := context.Background()

			token := uploadAll(t, svc, session.CategoryPersonalBlock, "txt",
				[]string{"one:", "two:", "three"}, order)
			if _, err := svc.Finalize(ctx, aliceIdentity, token); err != nil {
				t.Fatalf("Finalize failed: %v", err)
			}

			f, err := svc.GetFile(ctx, aliceIdentity, token)
			if err != nil {
				t.Fatalf("GetFile failed: %v", err)
			}
			if got := readFile(t, f); got != "one:two:three" {
				t.Errorf("artifact = %q, want one:two:three", got)
			}
		})
	}
}

func TestFinalizeOrdersNumericallyPastTen(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	// Twelve chunks: lexicographic ordering would interleave 10 and 11
	// between 1 and 2.
	chunks := make([]string, 12)
	order := make([]int, 12)
	var want strings.Builder
	for i := range chunks {
		chunks[i] = fmt.Sprintf("<%02d>", i)
		order[i] = len(chunks) - 1 - i
		want.WriteString(chunks[i])
	}

	token := uploadAll(t, svc, session.CategoryPersonalBlock, "bin", chunks, order)
	if _, err := svc.Finalize(ctx, aliceIdentity, token); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	f, err := svc.GetFile(ctx, aliceIdentity, token)
	if err != nil {
		t.Fatalf("GetFile failed: %v", err)
	}
	if got := readFile(t, f); got != want.String() {
		t.Errorf("artifact = %q, want %q", got, want.String())
	}
}

func TestReceiveChunkOverwrites(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	token, err := svc.IssueToken(ctx, aliceIdentity, session.CategoryPersonalBlock, 1, "txt")
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}
	if err := svc.ReceiveChunk(ctx, aliceIdentity, token, 0, strings.NewReader("first")); err != nil {
		t.Fatalf("ReceiveChunk failed: %v", err)
	}
	if err := svc.ReceiveChunk(ctx, aliceIdentity, token, 0, strings.NewReader("second")); err != nil {
		t.Fatalf("chunk re-send failed: %v", err)
	}

	if _, err := svc.Finalize(ctx, aliceIdentity, token); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	f, err := svc.GetFile(ctx, aliceIdentity, token)
	if err != nil {
		t.Fatalf("GetFile failed: %v", err)
	}
	if got := readFile(t, f); got != "second" {
		t.Errorf("artifact = %q, want second (last write wins)", got)
	}
}

func TestReceiveChunkValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	token, err := svc.IssueToken(ctx, aliceIdentity, session.CategoryPersonalBlock, 2, "txt")
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	if err := svc.ReceiveChunk(ctx, aliceIdentity, "ghost", 0, strings.NewReader("x")); !errors.Is(err, apperr.ErrSessionNotFound) {
		t.Errorf("unknown token: err = %v, want ErrSessionNotFound", err)
	}
	if err := svc.ReceiveChunk(ctx, bobIdentity, token, 0, strings.NewReader("x")); !errors.Is(err, apperr.ErrTokenMismatch) {
		t.Errorf("foreign session: err = %v, want ErrTokenMismatch", err)
	}
	if err := svc.ReceiveChunk(ctx, aliceIdentity, token, -1, strings.NewReader("x")); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Errorf("negative index: err = %v, want ErrInvalidArgument", err)
	}
	if err := svc.ReceiveChunk(ctx, aliceIdentity, token, 2, strings.NewReader("x")); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Errorf("index == chunkCount: err = %v, want ErrInvalidArgument", err)
	}
}

func TestFinalizeCountMismatchPurgesAndRecovers(t *testing.T) {
	svc, blobs := newTestService(t)
	ctx := context.Background()

	token, err := svc.IssueToken(ctx, aliceIdentity, session.CategoryPersonalBlock, 3, "txt")
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}
	for _, idx := range []int{0, 2} {
		if err := svc.ReceiveChunk(ctx, aliceIdentity, token, idx, strings.NewReader("x")); err != nil {
			t.Fatalf("ReceiveChunk(%d) failed: %v", idx, err)
		}
	}

	if _, err := svc.Finalize(ctx, aliceIdentity, token); !errors.Is(err, apperr.ErrChunkCountMismatch) {
		t.Fatalf("Finalize err = %v, want ErrChunkCountMismatch", err)
	}

	indices, err := blobs.ListChunks(ctx, token)
	if err != nil {
		t.Fatalf("ListChunks failed: %v", err)
	}
	if len(indices) != 0 {
		t.Errorf("staged chunks after mismatch = %v, want empty (full purge)", indices)
	}

	// The session must stay pending and re-uploadable end to end.
	for idx, payload := range []string{"AA", "BB", "CC"} {
		if err := svc.ReceiveChunk(ctx, aliceIdentity, token, idx, strings.NewReader(payload)); err != nil {
			t.Fatalf("re-upload ReceiveChunk(%d) failed: %v", idx, err)
		}
	}
	if _, err := svc.Finalize(ctx, aliceIdentity, token); err != nil {
		t.Fatalf("retry Finalize failed: %v", err)
	}

	f, err := svc.GetFile(ctx, aliceIdentity, token)
	if err != nil {
		t.Fatalf("GetFile failed: %v", err)
	}
	if got := readFile(t, f); got != "AABBCC" {
		t.Errorf("artifact = %q, want AABBCC (no stale chunks from before the purge)", got)
	}
}

func TestFinalizeAlreadyCompletedIsNoOp(t *testing.T) {
	svc, blobs := newTestService(t)
	ctx := context.Background()

	token := uploadAll(t, svc, session.CategoryProfile, "png", []string{"img"}, []int{0})
	first, err := svc.Finalize(ctx, aliceIdentity, token)
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if first == "" {
		t.Fatal("Finalize returned empty thumbnail for an image upload")
	}

	second, err := svc.Finalize(ctx, aliceIdentity, token)
	if err != nil {
		t.Fatalf("repeat Finalize failed: %v", err)
	}
	if second != first {
		t.Errorf("repeat Finalize thumbnail = %q, want %q", second, first)
	}
	if writes := blobs.writes.Load(); writes != 1 {
		t.Errorf("artifact writes = %d, want 1 (no re-assembly)", writes)
	}

	// A completed session no longer accepts chunks.
	if err := svc.ReceiveChunk(ctx, aliceIdentity, token, 0, strings.NewReader("late")); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Errorf("chunk after completion: err = %v, want ErrInvalidArgument", err)
	}
}

func TestFinalizeConcurrentAssemblesOnce(t *testing.T) {
	svc, blobs := newTestService(t)
	ctx := context.Background()

	token := uploadAll(t, svc, session.CategoryPersonalBlock, "bin", []string{"payload"}, []int{0})

	const racers = 16
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Finalize(ctx, aliceIdentity, token)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("racer %d: Finalize failed: %v", i, err)
		}
	}
	if writes := blobs.writes.Load(); writes != 1 {
		t.Errorf("artifact writes = %d, want exactly 1", writes)
	}

	f, err := svc.GetFile(ctx, aliceIdentity, token)
	if err != nil {
		t.Fatalf("GetFile failed: %v", err)
	}
	if got := readFile(t, f); got != "payload" {
		t.Errorf("artifact = %q, want payload", got)
	}
}

func TestProfileReissueResetsSlot(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	token := uploadAll(t, svc, session.CategoryProfile, "png", []string{"old-picture"}, []int{0})
	if _, err := svc.Finalize(ctx, aliceIdentity, token); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if f, err := svc.GetProfilePicture(ctx, "alice"); err != nil || readFile(t, f) != "old-picture" {
		t.Fatalf("GetProfilePicture = (%v, %v), want old-picture", f, err)
	}

	// Reissue resets the slot: the old artifact is gone until the new upload
	// finalizes.
	again, err := svc.IssueToken(ctx, aliceIdentity, session.CategoryProfile, 2, "jpg")
	if err != nil {
		t.Fatalf("reissue failed: %v", err)
	}
	if f, err := svc.GetProfilePicture(ctx, "alice"); err != nil || f != nil {
		t.Errorf("GetProfilePicture after reissue = (%v, %v), want (nil, nil)", f, err)
	}

	for idx, payload := range []string{"new-", "picture"} {
		if err := svc.ReceiveChunk(ctx, aliceIdentity, again, idx, strings.NewReader(payload)); err != nil {
			t.Fatalf("ReceiveChunk(%d) failed: %v", idx, err)
		}
	}
	if _, err := svc.Finalize(ctx, aliceIdentity, again); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	f, err := svc.GetProfilePicture(ctx, "alice")
	if err != nil {
		t.Fatalf("GetProfilePicture failed: %v", err)
	}
	if got := readFile(t, f); got != "new-picture" {
		t.Errorf("profile picture = %q, want new-picture", got)
	}
	if f.Extension != "jpg" {
		t.Errorf("extension = %q, want jpg", f.Extension)
	}
}

func TestGetFileStates(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.GetFile(ctx, aliceIdentity, "ghost"); !errors.Is(err, apperr.ErrSessionNotFound) {
		t.Errorf("unknown token: err = %v, want ErrSessionNotFound", err)
	}

	token := uploadAll(t, svc, session.CategoryPersonalBlock, "txt", []string{"x"}, []int{0})
	if _, err := svc.GetFile(ctx, aliceIdentity, token); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("pending session: err = %v, want ErrNotFound", err)
	}
	if _, err := svc.Finalize(ctx, aliceIdentity, token); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if _, err := svc.GetFile(ctx, bobIdentity, token); !errors.Is(err, apperr.ErrTokenMismatch) {
		t.Errorf("foreign session: err = %v, want ErrTokenMismatch", err)
	}
}

func TestGetProfilePictureAbsent(t *testing.T) {
	svc, _ := newTestService(t)

	f, err := svc.GetProfilePicture(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("GetProfilePicture failed: %v", err)
	}
	if f != nil {
		t.Errorf("file = %v, want nil for account with no profile picture", f)
	}
}

func TestDeleteFile(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	token := uploadAll(t, svc, session.CategoryPersonalBlock, "txt", []string{"x"}, []int{0})
	if _, err := svc.Finalize(ctx, aliceIdentity, token); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	if err := svc.DeleteFile(ctx, bobIdentity, token); !errors.Is(err, apperr.ErrTokenMismatch) {
		t.Errorf("foreign delete: err = %v, want ErrTokenMismatch", err)
	}

	if err := svc.DeleteFile(ctx, aliceIdentity, token); err != nil {
		t.Fatalf("DeleteFile failed: %v", err)
	}
	if _, err := svc.GetFile(ctx, aliceIdentity, token); !errors.Is(err, apperr.ErrSessionNotFound) {
		t.Errorf("GetFile after delete: err = %v, want ErrSessionNotFound", err)
	}

	// Idempotent: repeat delete and deleting an unknown token both succeed.
	if err := svc.DeleteFile(ctx, aliceIdentity, token); err != nil {
		t.Errorf("repeat DeleteFile failed: %v", err)
	}
	if err := svc.DeleteFile(ctx, aliceIdentity, "never-issued"); err != nil {
		t.Errorf("DeleteFile of unknown token failed: %v", err)
	}
}

func TestThumbnailBestEffort(t *testing.T) {
	ctx := context.Background()

	t.Run("failure never surfaces", func(t *testing.T) {
		blobs := blob.NewMemoryStore()
		verifier := &stubVerifier{accounts: map[string]string{aliceIdentity: "alice"}}
		svc := NewService(session.NewMemoryStore(), blobs, verifier, &stubThumbnailer{}, slog.New(slog.NewTextHandler(io.Discard, nil)))

		token := uploadAll(t, svc, session.CategoryProfile, "png", []string{"not an image"}, []int{0})
		hash, err := svc.Finalize(ctx, aliceIdentity, token)
		if err != nil {
			t.Fatalf("Finalize failed: %v", err)
		}
		if hash != "" {
			t.Errorf("hash = %q, want empty on derivation failure", hash)
		}

		// The upload itself still completed.
		if _, err := svc.GetFile(ctx, aliceIdentity, token); err != nil {
			t.Errorf("GetFile failed: %v", err)
		}
	})

	t.Run("skipped for non-image extensions", func(t *testing.T) {
		svc, _ := newTestService(t)

		token := uploadAll(t, svc, session.CategoryPersonalBlock, "pdf", []string{"%PDF"}, []int{0})
		hash, err := svc.Finalize(ctx, aliceIdentity, token)
		if err != nil {
			t.Fatalf("Finalize failed: %v", err)
		}
		if hash != "" {
			t.Errorf("hash = %q, want empty for pdf artifact", hash)
		}
	})
}
