package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

// storeFixtures returns one constructor per Store implementation so every
// test in this file runs against both.
func storeFixtures(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	return map[string]func(t *testing.T) Store{
		"sqlite": func(t *testing.T) Store {
			s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
			if err != nil {
				t.Fatalf("NewSQLiteStore failed: %v", err)
			}
			t.Cleanup(func() { s.Close() })
			return s
		},
		"memory": func(t *testing.T) Store {
			return NewMemoryStore()
		},
	}
}

func testRecord(token, owner string) *Record {
	return &Record{
		Token:              token,
		OwnerAccountID:     owner,
		Category:           CategoryPersonalBlock,
		ExpectedChunkCount: 3,
		FileExtension:      "png",
		CreatedAt:          time.Now().UTC(),
	}
}

func TestInsertAndGet(t *testing.T) {
	for name, newStore := range storeFixtures(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()

			rec := testRecord("tok-1", "acct-1")
			if err := s.Insert(ctx, rec); err != nil {
				t.Fatalf("Insert failed: %v", err)
			}

			got, err := s.Get(ctx, "tok-1")
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if got == nil {
				t.Fatal("Get returned nil for existing session")
			}
			if got.OwnerAccountID != "acct-1" {
				t.Errorf("OwnerAccountID = %q, want acct-1", got.OwnerAccountID)
			}
			if got.ExpectedChunkCount != 3 {
				t.Errorf("ExpectedChunkCount = %d, want 3", got.ExpectedChunkCount)
			}
			if got.Completed {
				t.Error("Completed = true for fresh session")
			}
			if got.ThumbnailHash != "" {
				t.Errorf("ThumbnailHash = %q, want empty", got.ThumbnailHash)
			}
		})
	}
}

func TestGetMissingReturnsNil(t *testing.T) {
	for name, newStore := range storeFixtures(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			got, err := s.Get(context.Background(), "nope")
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if got != nil {
				t.Errorf("Get = %+v, want nil for missing session", got)
			}
		})
	}
}

func TestInsertDuplicateFails(t *testing.T) {
	for name, newStore := range storeFixtures(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()

			if err := s.Insert(ctx, testRecord("tok-1", "acct-1")); err != nil {
				t.Fatalf("first Insert failed: %v", err)
			}
			if err := s.Insert(ctx, testRecord("tok-1", "acct-2")); err == nil {
				t.Fatal("duplicate Insert succeeded, want error")
			}
		})
	}
}

func TestGetByOwner(t *testing.T) {
	for name, newStore := range storeFixtures(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()

			profile := testRecord("acct-1-profile", "acct-1")
			profile.Category = CategoryProfile
			if err := s.Insert(ctx, profile); err != nil {
				t.Fatalf("Insert failed: %v", err)
			}
			if err := s.Insert(ctx, testRecord("tok-other", "acct-1")); err != nil {
				t.Fatalf("Insert failed: %v", err)
			}

			got, err := s.GetByOwner(ctx, "acct-1", CategoryProfile)
			if err != nil {
				t.Fatalf("GetByOwner failed: %v", err)
			}
			if got == nil || got.Token != "acct-1-profile" {
				t.Errorf("GetByOwner = %+v, want token acct-1-profile", got)
			}

			got, err = s.GetByOwner(ctx, "acct-2", CategoryProfile)
			if err != nil {
				t.Fatalf("GetByOwner failed: %v", err)
			}
			if got != nil {
				t.Errorf("GetByOwner = %+v, want nil for unknown owner", got)
			}
		})
	}
}

func TestSetCompleted(t *testing.T) {
	for name, newStore := range storeFixtures(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()

			if err := s.Insert(ctx, testRecord("tok-1", "acct-1")); err != nil {
				t.Fatalf("Insert failed: %v", err)
			}
			if err := s.SetCompleted(ctx, "tok-1", true); err != nil {
				t.Fatalf("SetCompleted failed: %v", err)
			}

			got, err := s.Get(ctx, "tok-1")
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if !got.Completed {
				t.Error("Completed = false after SetCompleted(true)")
			}

			if err := s.SetCompleted(ctx, "missing", true); err == nil {
				t.Error("SetCompleted on missing session succeeded, want error")
			}
		})
	}
}

func TestSetThumbnailHash(t *testing.T) {
	for name, newStore := range storeFixtures(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()

			if err := s.Insert(ctx, testRecord("tok-1", "acct-1")); err != nil {
				t.Fatalf("Insert failed: %v", err)
			}
			if err := s.SetThumbnailHash(ctx, "tok-1", "LKO2?U%2Tw=w"); err != nil {
				t.Fatalf("SetThumbnailHash failed: %v", err)
			}

			got, err := s.Get(ctx, "tok-1")
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if got.ThumbnailHash != "LKO2?U%2Tw=w" {
				t.Errorf("ThumbnailHash = %q, want LKO2?U%%2Tw=w", got.ThumbnailHash)
			}
		})
	}
}

func TestDeleteIdempotent(t *testing.T) {
	for name, newStore := range storeFixtures(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()

			if err := s.Insert(ctx, testRecord("tok-1", "acct-1")); err != nil {
				t.Fatalf("Insert failed: %v", err)
			}
			if err := s.Delete(ctx, "tok-1"); err != nil {
				t.Fatalf("Delete failed: %v", err)
			}
			got, err := s.Get(ctx, "tok-1")
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if got != nil {
				t.Error("session still present after Delete")
			}

			// Second delete of the same token must also succeed.
			if err := s.Delete(ctx, "tok-1"); err != nil {
				t.Errorf("repeated Delete failed: %v", err)
			}
			if err := s.Delete(ctx, "never-existed"); err != nil {
				t.Errorf("Delete of absent token failed: %v", err)
			}
		})
	}
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sessions.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	if err := s.Insert(ctx, testRecord("tok-durable", "acct-1")); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	s2, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("reopening store failed: %v", err)
	}
	defer s2.Close()

	got, err := s2.Get(ctx, "tok-durable")
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if got == nil {
		t.Fatal("session lost across reopen")
	}
}
