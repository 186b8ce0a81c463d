package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/njoerd114/mediarelay/internal/model"
)

func TestRegistrar_EnsureCreatesSeededLedger(t *testing.T) {
	store := newMockStore()
	client := newMockClient("c", "b", "a")
	reg := NewRegistrar(map[model.Provider]RemoteClient{photo: client}, store, nil, discardLogger())

	created, err := reg.Ensure(context.Background(), SourceConfig{Provider: photo, SourceID: "acct", CategoryID: "3"})
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if !created {
		t.Error("created = false for a new source")
	}
	if client.lastLimit != BackfillPageLimit {
		t.Errorf("registration listed %d items, want %d", client.lastLimit, BackfillPageLimit)
	}

	src := store.get(photo, "acct")
	if src == nil {
		t.Fatal("source not stored")
	}
	if !src.AllKnown.Equal(model.NewIDSet("a", "b", "c")) || src.Imported.Len() != 0 {
		t.Errorf("ledger = known %v imported %v", src.AllKnown.Sorted(), src.Imported.Sorted())
	}
	if src.BackfillCompleted {
		t.Error("new source must not be backfilled")
	}
	if src.Title != "Source Title" || src.ContentInstance != "acct" || src.CategoryID != "3" {
		t.Errorf("Title/ContentInstance/CategoryID = %q/%q/%q", src.Title, src.ContentInstance, src.CategoryID)
	}
	if src.PendingBackfill() != 3 {
		t.Errorf("PendingBackfill = %d, want 3", src.PendingBackfill())
	}
}

func TestRegistrar_SteadyStateAfterRegistration(t *testing.T) {
	store := newMockStore()
	client := newMockClient("b", "a")
	locks := NewSourceLocks()
	reg := NewRegistrar(map[model.Provider]RemoteClient{photo: client}, store, locks, discardLogger())
	ctx := context.Background()

	if _, err := reg.Ensure(ctx, SourceConfig{Provider: photo, SourceID: "acct"}); err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	imp := newMockImporter()
	r := newTestRunner(client, store, imp, WithLocks(locks))
	client.setIDs("c", "b", "a")
	if _, err := r.RunSync(ctx, "acct"); err != nil {
		t.Fatalf("RunSync: %v", err)
	}
	if got := imp.importedIDs(); len(got) != 1 || got[0] != "c" {
		t.Errorf("steady state imported %v, want only the post-registration item", got)
	}
}

func TestRegistrar_EnsureExistingRefreshesSettings(t *testing.T) {
	existing := newSource(photo, "acct", []string{"a"}, []string{"a"})
	existing.ContentInstance = "acct"
	existing.BackfillCompleted = true
	existing.LastSyncedAt = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store := newMockStore(existing)
	client := newMockClient("z")
	reg := NewRegistrar(map[model.Provider]RemoteClient{photo: client}, store, nil, discardLogger())

	created, err := reg.Ensure(context.Background(), SourceConfig{
		Provider: photo, SourceID: "acct", PostTarget: model.GenericPost, CategoryID: "9",
	})
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if created {
		t.Error("created = true for an existing source")
	}
	if list, _ := client.calls(); list != 0 {
		t.Errorf("existing source listed %d times, want 0", list)
	}

	src := store.get(photo, "acct")
	if src.PostTarget != model.GenericPost || src.CategoryID != "9" {
		t.Errorf("settings not refreshed: %q/%q", src.PostTarget, src.CategoryID)
	}
	if !src.AllKnown.Equal(model.NewIDSet("a")) || !src.Imported.Equal(model.NewIDSet("a")) || !src.BackfillCompleted {
		t.Error("refresh touched the ledger")
	}
}

func TestRegistrar_EnsureUnchangedDoesNotCommit(t *testing.T) {
	existing := newSource(photo, "acct", nil, nil)
	existing.ContentInstance = "acct"
	store := newMockStore(existing)
	reg := NewRegistrar(map[model.Provider]RemoteClient{photo: newMockClient()}, store, nil, discardLogger())

	if _, err := reg.Ensure(context.Background(), SourceConfig{Provider: photo, SourceID: "acct", PostTarget: model.DedicatedContentType}); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if store.commitCount() != 0 {
		t.Errorf("commits = %d, want 0", store.commitCount())
	}
}

func TestRegistrar_EnsureAllContinuesAfterFailure(t *testing.T) {
	store := newMockStore()
	failing := newMockClient()
	failing.listErr = errors.New("unauthorized")
	video := newMockClient("v1")
	reg := NewRegistrar(map[model.Provider]RemoteClient{
		photo:               failing,
		model.ProviderVideo: video,
	}, store, nil, discardLogger())

	created, err := reg.EnsureAll(context.Background(), []SourceConfig{
		{Provider: photo, SourceID: "acct"},
		{Provider: model.ProviderVideo, SourceID: "UC1"},
	})
	if created != 1 {
		t.Errorf("created = %d, want 1", created)
	}
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Errorf("error = %v, want ErrProviderUnavailable", err)
	}
	if store.get(photo, "acct") != nil {
		t.Error("failed registration stored a ledger")
	}
	if store.get(model.ProviderVideo, "UC1") == nil {
		t.Error("second source not registered")
	}
}

func TestRegistrar_UnknownProvider(t *testing.T) {
	reg := NewRegistrar(map[model.Provider]RemoteClient{}, newMockStore(), nil, discardLogger())
	if _, err := reg.Ensure(context.Background(), SourceConfig{Provider: photo, SourceID: "acct"}); err == nil {
		t.Error("expected error for provider without client")
	}
}
