// Package sync implements the incremental-import engine for MediaRelay. It
// compares a provider's current listing against a source's persisted ledger,
// imports exactly the items never seen before, and commits the updated ledger
// only when the whole pass succeeded.
//
// The package contains four main components:
//
//   - [Reconcile] is the pure set diff deciding which remote IDs are new.
//   - [Runner] executes one steady-state pass ([Runner.RunSync]) or the
//     one-shot historical import ([Runner.RunBackfill]) for one source.
//   - [Registrar] creates the ledger of a newly configured source.
//   - [Engine] runs passes for every registered source on a schedule.
package sync

import (
	"context"

	"github.com/njoerd114/mediarelay/internal/model"
)

// RemoteClient lists a source's items and fetches per-item detail.
// Implemented by [instagram.Client] and [youtube.Client].
type RemoteClient interface {
	// ListItems returns at most limit of the source's most recent items in
	// provider order.
	ListItems(ctx context.Context, sourceID string, limit int) (model.Listing, error)
	FetchDetail(ctx context.Context, stub model.RemoteItemStub) (*model.RemoteItem, error)
}

// LedgerStore persists one ledger record per tracked source.
// Implemented by [state.Store].
type LedgerStore interface {
	// Load returns (nil, nil) when the source is not registered.
	Load(ctx context.Context, provider model.Provider, sourceID string) (*model.TrackedSource, error)
	// Commit atomically overwrites the full record of a registered source.
	Commit(ctx context.Context, src *model.TrackedSource) error
	Create(ctx context.Context, src *model.TrackedSource) error
	List(ctx context.Context) ([]*model.TrackedSource, error)
}

// Importer turns one fetched item into a local content entry.
// Implemented by [importer.Importer].
type Importer interface {
	Import(ctx context.Context, src *model.TrackedSource, item *model.RemoteItem) (contentID string, err error)
}
