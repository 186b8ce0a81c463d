package state

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/njoerd114/mediarelay/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test-state.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleSource() *model.TrackedSource {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &model.TrackedSource{
		Provider:        model.ProviderPhoto,
		SourceID:        "17841400000000001",
		Title:           "Mountain Diaries",
		PostTarget:      model.DedicatedContentType,
		ContentInstance: "mountain",
		CategoryID:      "7",
		AllKnown:        model.NewIDSet("p1", "p2", "p3"),
		Imported:        model.NewIDSet("p1"),
		CreatedAt:       now,
	}
}

func TestOpen_CreatesSchema(t *testing.T) {
	s := openTestStore(t)
	sources, err := s.List(context.Background())
	if err != nil {
		t.Fatalf("List after open: %v", err)
	}
	if len(sources) != 0 {
		t.Errorf("expected empty store after open, got %d sources", len(sources))
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	if err := s1.Create(context.Background(), sampleSource()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("s1.Close: %v", err)
	}

	// Re-opening the same file must not fail or wipe data.
	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer func() { _ = s2.Close() }()

	got, err := s2.Load(context.Background(), model.ProviderPhoto, "17841400000000001")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got == nil {
		t.Fatal("source lost after reopening the database")
	}
}

func TestCreateAndLoad(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	src := sampleSource()

	if err := s.Create(ctx, src); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := s.Load(ctx, src.Provider, src.SourceID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got == nil {
		t.Fatal("Load returned nil, want source")
	}
	if got.Title != "Mountain Diaries" {
		t.Errorf("Title = %q, want %q", got.Title, "Mountain Diaries")
	}
	if got.PostTarget != model.DedicatedContentType {
		t.Errorf("PostTarget = %q, want %q", got.PostTarget, model.DedicatedContentType)
	}
	if got.ContentInstance != "mountain" || got.CategoryID != "7" {
		t.Errorf("ContentInstance/CategoryID = %q/%q, want mountain/7", got.ContentInstance, got.CategoryID)
	}
	if !got.AllKnown.Equal(src.AllKnown) {
		t.Errorf("AllKnown = %v, want %v", got.AllKnown.Sorted(), src.AllKnown.Sorted())
	}
	if !got.Imported.Equal(src.Imported) {
		t.Errorf("Imported = %v, want %v", got.Imported.Sorted(), src.Imported.Sorted())
	}
	if got.BackfillCompleted {
		t.Error("BackfillCompleted = true, want false")
	}
	if !got.CreatedAt.Equal(src.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, src.CreatedAt)
	}
}

func TestLoad_NotFound(t *testing.T) {
	s := openTestStore(t)
	got, err := s.Load(context.Background(), model.ProviderVideo, "UC-missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing source, got %+v", got)
	}
}

func TestLoad_ProviderScoped(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.Create(ctx, sampleSource()); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := s.Load(ctx, model.ProviderVideo, "17841400000000001")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != nil {
		t.Error("same source ID under another provider must not match")
	}
}

func TestCreate_Duplicate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.Create(ctx, sampleSource()); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	err := s.Create(ctx, sampleSource())
	if !errors.Is(err, ErrSourceExists) {
		t.Errorf("second Create error = %v, want ErrSourceExists", err)
	}
}

func TestCommit_OverwritesLedger(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	src := sampleSource()
	if err := s.Create(ctx, src); err != nil {
		t.Fatalf("Create: %v", err)
	}

	updated := src.Clone()
	updated.Title = "Mountain Diaries (renamed)"
	updated.AllKnown.Add("p4")
	updated.Imported.Add("p2", "p4")
	updated.BackfillCompleted = true
	updated.LastSyncedAt = time.Now().UTC().Truncate(time.Millisecond)

	if err := s.Commit(ctx, updated); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	got, err := s.Load(ctx, src.Provider, src.SourceID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Title != "Mountain Diaries (renamed)" {
		t.Errorf("Title = %q, want renamed", got.Title)
	}
	if !got.AllKnown.Equal(model.NewIDSet("p1", "p2", "p3", "p4")) {
		t.Errorf("AllKnown = %v", got.AllKnown.Sorted())
	}
	if !got.Imported.Equal(model.NewIDSet("p1", "p2", "p4")) {
		t.Errorf("Imported = %v", got.Imported.Sorted())
	}
	if !got.BackfillCompleted {
		t.Error("BackfillCompleted = false, want true")
	}
	if !got.LastSyncedAt.Equal(updated.LastSyncedAt) {
		t.Errorf("LastSyncedAt = %v, want %v", got.LastSyncedAt, updated.LastSyncedAt)
	}
}

func TestCommit_UnregisteredSource(t *testing.T) {
	s := openTestStore(t)
	err := s.Commit(context.Background(), sampleSource())
	if !errors.Is(err, ErrNotRegistered) {
		t.Errorf("Commit error = %v, want ErrNotRegistered", err)
	}
}

func TestCommit_RejectsImportedOutsideKnown(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	src := sampleSource()
	if err := s.Create(ctx, src); err != nil {
		t.Fatalf("Create: %v", err)
	}

	bad := src.Clone()
	bad.Imported.Add("never-listed")
	if err := s.Commit(ctx, bad); err == nil {
		t.Fatal("expected error when imported is not a subset of known")
	}

	// The stored ledger must be untouched.
	got, err := s.Load(ctx, src.Provider, src.SourceID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Imported.Has("never-listed") {
		t.Error("rejected commit was persisted")
	}
}

func TestList_Ordered(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	video := &model.TrackedSource{
		Provider: model.ProviderVideo, SourceID: "UC123", PostTarget: model.GenericPost,
		AllKnown: model.NewIDSet("v1"), Imported: model.NewIDSet(),
	}
	photo := sampleSource()
	for _, src := range []*model.TrackedSource{video, photo} {
		if err := s.Create(ctx, src); err != nil {
			t.Fatalf("Create %s: %v", src.SourceID, err)
		}
	}

	sources, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(sources) != 2 {
		t.Fatalf("List len = %d, want 2", len(sources))
	}
	if sources[0].Provider != model.ProviderPhoto || sources[1].Provider != model.ProviderVideo {
		t.Errorf("List order = %s, %s; want photo, video", sources[0].Provider, sources[1].Provider)
	}
	if !sources[1].AllKnown.Has("v1") {
		t.Error("List did not load ID sets")
	}
}
