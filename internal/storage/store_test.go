package storage

import (
	"context"
	"testing"
	"time"
)

func TestUserLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	id, err := store.CreateUser(ctx, "alice", "hash", "a@x.com")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if id == 0 {
		t.Fatalf("expected id > 0")
	}
	if _, err := store.CreateUser(ctx, "alice", "hash2", "other@x.com"); err != ErrUserExists {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}

	user, err := store.GetUserByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if user == nil || user.Username != "alice" || user.Email != "a@x.com" {
		t.Fatalf("unexpected user: %+v", user)
	}
	missing, err := store.GetUserByUsername(ctx, "nobody")
	if err != nil || missing != nil {
		t.Fatalf("expected nil for unknown user, got %+v err=%v", missing, err)
	}
}

func TestFileRecordLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	rec := FileRecord{
		ID:         "id-1",
		RoomID:     "general",
		Filename:   "notes.txt",
		StoredName: "id-1-notes.txt",
		Uploader:   "alice",
		SizeBytes:  42,
		SHA256:     "abc",
		UploadedAt: time.Now(),
	}
	if err := store.CreateFileRecord(ctx, rec); err != nil {
		t.Fatalf("CreateFileRecord: %v", err)
	}

	files, err := store.ListRoomFiles(ctx, "general")
	if err != nil {
		t.Fatalf("ListRoomFiles: %v", err)
	}
	if len(files) != 1 || files[0].Filename != "notes.txt" || files[0].SizeBytes != 42 {
		t.Fatalf("unexpected files: %+v", files)
	}
	empty, err := store.ListRoomFiles(ctx, "tech")
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected empty catalogue for tech, got %+v err=%v", empty, err)
	}
}

func TestFindRoomFileMostRecentWins(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"id-old", "id-new"} {
		rec := FileRecord{
			ID:         id,
			RoomID:     "general",
			Filename:   "report.pdf",
			StoredName: id + "-report.pdf",
			Uploader:   "alice",
			SizeBytes:  int64(100 + i),
			UploadedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.CreateFileRecord(ctx, rec); err != nil {
			t.Fatalf("CreateFileRecord %s: %v", id, err)
		}
	}

	found, err := store.FindRoomFile(ctx, "general", "report.pdf")
	if err != nil {
		t.Fatalf("FindRoomFile: %v", err)
	}
	if found == nil || found.ID != "id-new" {
		t.Fatalf("expected the most recent upload, got %+v", found)
	}
	none, err := store.FindRoomFile(ctx, "general", "absent.txt")
	if err != nil || none != nil {
		t.Fatalf("expected nil for unknown filename, got %+v err=%v", none, err)
	}
}

func TestRoomFileStats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	count, total, err := store.RoomFileStats(ctx, "general")
	if err != nil || count != 0 || total != 0 {
		t.Fatalf("expected zero stats, got count=%d total=%d err=%v", count, total, err)
	}

	for i, id := range []string{"a", "b", "c"} {
		rec := FileRecord{
			ID:         id,
			RoomID:     "general",
			Filename:   id + ".bin",
			StoredName: id + "-stored.bin",
			Uploader:   "bob",
			SizeBytes:  int64((i + 1) * 10),
			UploadedAt: time.Now(),
		}
		if err := store.CreateFileRecord(ctx, rec); err != nil {
			t.Fatalf("CreateFileRecord: %v", err)
		}
	}
	count, total, err = store.RoomFileStats(ctx, "general")
	if err != nil {
		t.Fatalf("RoomFileStats: %v", err)
	}
	if count != 3 || total != 60 {
		t.Fatalf("expected count=3 total=60, got count=%d total=%d", count, total)
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := "sqlite://file:" + t.Name() + "?mode=memory&cache=shared"
	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}
