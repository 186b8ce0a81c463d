package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/njoerd114/mediarelay/internal/model"
)

// SourceConfig describes one configured account or channel.
type SourceConfig struct {
	Provider        model.Provider
	SourceID        string
	PostTarget      model.PostTargetKind
	ContentInstance string
	CategoryID      string
}

// Registrar creates the ledger of newly configured sources and keeps the
// configuration-owned fields of existing ones current.
//
// A new source's ledger is seeded with the first backfill page as known and
// nothing imported: steady-state passes then only pick up items published
// after registration, and the pre-existing ones are left to [Runner.RunBackfill].
type Registrar struct {
	clients map[model.Provider]RemoteClient
	store   LedgerStore
	locks   *SourceLocks
	log     *slog.Logger
	now     func() time.Time
}

// NewRegistrar creates a Registrar. locks should be the table shared with the
// runners so registration never races a pass; nil creates a private table.
func NewRegistrar(clients map[model.Provider]RemoteClient, store LedgerStore, locks *SourceLocks, logger *slog.Logger) *Registrar {
	if locks == nil {
		locks = NewSourceLocks()
	}
	return &Registrar{
		clients: clients,
		store:   store,
		locks:   locks,
		log:     logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Ensure registers sc if it has no ledger yet and reports whether it did.
// For an existing source only PostTarget, ContentInstance and CategoryID are
// refreshed; the ledger sets are never touched.
func (r *Registrar) Ensure(ctx context.Context, sc SourceConfig) (bool, error) {
	client, ok := r.clients[sc.Provider]
	if !ok {
		return false, fmt.Errorf("no client configured for provider %q", sc.Provider)
	}
	if sc.ContentInstance == "" {
		sc.ContentInstance = sc.SourceID
	}

	unlock, err := r.locks.Lock(ctx, sc.Provider, sc.SourceID)
	if err != nil {
		return false, err
	}
	defer unlock()

	existing, err := r.store.Load(ctx, sc.Provider, sc.SourceID)
	if err != nil {
		return false, fmt.Errorf("loading ledger of %s: %w", sc.SourceID, err)
	}
	if existing != nil {
		return false, r.refresh(ctx, existing, sc)
	}

	listing, err := client.ListItems(ctx, sc.SourceID, BackfillPageLimit)
	if err != nil {
		return false, fmt.Errorf("listing %s for registration: %w: %w", sc.SourceID, ErrProviderUnavailable, err)
	}

	title := listing.SourceTitle
	if title == "" {
		title = sc.SourceID
	}
	src := &model.TrackedSource{
		Provider:        sc.Provider,
		SourceID:        sc.SourceID,
		Title:           title,
		PostTarget:      sc.PostTarget,
		ContentInstance: sc.ContentInstance,
		CategoryID:      sc.CategoryID,
		AllKnown:        model.NewIDSet(listing.IDs()...),
		Imported:        model.NewIDSet(),
		CreatedAt:       r.now(),
	}
	if err := r.store.Create(ctx, src); err != nil {
		return false, fmt.Errorf("registering %s: %w", sc.SourceID, err)
	}

	r.log.Info("source registered",
		"provider", sc.Provider,
		"source_id", sc.SourceID,
		"title", title,
		"pending_backfill", src.AllKnown.Len(),
	)
	return true, nil
}

// EnsureAll runs [Registrar.Ensure] for every configured source. A failing
// source is logged and skipped; the failures are returned joined.
func (r *Registrar) EnsureAll(ctx context.Context, sources []SourceConfig) (int, error) {
	created := 0
	var errs []error
	for _, sc := range sources {
		ok, err := r.Ensure(ctx, sc)
		if err != nil {
			r.log.Error("source registration failed",
				"provider", sc.Provider,
				"source_id", sc.SourceID,
				"error", err,
			)
			errs = append(errs, err)
			continue
		}
		if ok {
			created++
		}
	}
	return created, errors.Join(errs...)
}

func (r *Registrar) refresh(ctx context.Context, src *model.TrackedSource, sc SourceConfig) error {
	if src.PostTarget == sc.PostTarget &&
		src.ContentInstance == sc.ContentInstance &&
		src.CategoryID == sc.CategoryID {
		return nil
	}

	next := src.Clone()
	next.PostTarget = sc.PostTarget
	next.ContentInstance = sc.ContentInstance
	next.CategoryID = sc.CategoryID
	if err := r.store.Commit(ctx, next); err != nil {
		return fmt.Errorf("updating settings of %s: %w", sc.SourceID, err)
	}

	r.log.Info("source settings updated",
		"provider", sc.Provider,
		"source_id", sc.SourceID,
		"post_target", sc.PostTarget,
	)
	return nil
}
