package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/njoerd114/mediarelay/internal/importer"
	"github.com/njoerd114/mediarelay/internal/model"
)

// DefaultPageSize is how many of a source's most recent items a steady-state
// pass lists when no page size is configured.
const DefaultPageSize = 20

var (
	// ErrProviderUnavailable wraps listing and detail failures
	// (network, auth, rate limiting).
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrImportRejected is returned when the content store refused an entry.
	ErrImportRejected = importer.ErrImportRejected

	// ErrSourceNotFound is returned for a source that was never registered.
	ErrSourceNotFound = errors.New("source not found")

	// ErrAlreadyBackfilled is returned when a backfill is requested for a
	// source whose backfill already completed.
	ErrAlreadyBackfilled = errors.New("backfill already completed")
)

// ItemError reports a failure to fetch or import one remote item.
type ItemError struct {
	RemoteID string
	Err      error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("item %s: %v", e.RemoteID, e.Err)
}

func (e *ItemError) Unwrap() error { return e.Err }

// Outcome is the result of one pass for one source.
type Outcome struct {
	RunID    string
	Provider model.Provider
	SourceID string

	ImportedCount int
	// SkippedCount is the number of listed items that were already known.
	SkippedCount int

	// Errors holds the provider and import failures of the pass, in order.
	// A non-empty list suppresses the ledger commit under the default policy.
	Errors []error

	// Committed reports whether the ledger was written.
	Committed bool

	// CapacityReached is set by a backfill whose listing filled the whole
	// page: older items beyond the provider cap were not imported.
	CapacityReached bool
}

// Err joins the pass errors, or returns nil for an error-free pass.
func (o Outcome) Err() error {
	return errors.Join(o.Errors...)
}

// Runner executes passes for the sources of one provider. It is stateless
// between calls; all persistent state lives in the [LedgerStore].
type Runner struct {
	provider model.Provider
	client   RemoteClient
	store    LedgerStore
	importer Importer
	log      *slog.Logger

	locks    *SourceLocks
	policy   CommitPolicy
	pageSize int
	now      func() time.Time
}

// Option configures a [Runner].
type Option func(*Runner)

// WithCommitPolicy selects the partial-failure policy of steady-state passes.
func WithCommitPolicy(p CommitPolicy) Option {
	return func(r *Runner) { r.policy = p }
}

// WithPageSize sets how many recent items a steady-state pass lists.
func WithPageSize(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.pageSize = n
		}
	}
}

// WithLocks shares a lock table between runners and the [Registrar].
func WithLocks(l *SourceLocks) Option {
	return func(r *Runner) { r.locks = l }
}

// WithClock overrides the time source used for LastSyncedAt.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// NewRunner creates a Runner for provider's sources.
func NewRunner(provider model.Provider, client RemoteClient, store LedgerStore, imp Importer, logger *slog.Logger, opts ...Option) *Runner {
	r := &Runner{
		provider: provider,
		client:   client,
		store:    store,
		importer: imp,
		log:      logger,
		locks:    NewSourceLocks(),
		policy:   CommitAllOrNothing,
		pageSize: DefaultPageSize,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Provider returns the provider whose sources this runner handles.
func (r *Runner) Provider() model.Provider { return r.provider }

// RunSync performs one steady-state pass for the source: list the most recent
// page, import every item never seen before, and commit the ledger.
//
// Provider and import failures do not make RunSync return an error; they are
// collected in [Outcome.Errors] and stop the remainder of the pass. The
// returned error is reserved for an unknown source and ledger store failures.
func (r *Runner) RunSync(ctx context.Context, sourceID string) (Outcome, error) {
	out := r.newOutcome(sourceID)
	log := r.log.With("provider", r.provider, "source_id", sourceID, "run_id", out.RunID)

	unlock, err := r.locks.Lock(ctx, r.provider, sourceID)
	if err != nil {
		return out, err
	}
	defer unlock()

	src, err := r.load(ctx, sourceID)
	if err != nil {
		return out, err
	}

	listing, err := r.client.ListItems(ctx, sourceID, r.pageSize)
	if err != nil {
		out.Errors = append(out.Errors, fmt.Errorf("listing %s: %w: %w", sourceID, ErrProviderUnavailable, err))
		log.Error("listing failed, nothing committed", "error", err)
		return out, nil
	}

	ids := listing.IDs()
	plan := Reconcile(ids, src.AllKnown, src.Imported)
	out.SkippedCount = plan.Skipped(ids)

	if len(plan.ToImport) == 0 {
		log.Debug("no new items", "listed", len(ids))
		return out, nil
	}

	log.Info("new items detected", "count", len(plan.ToImport), "listed", len(ids))

	update := &ledgerUpdate{base: src, plan: plan, title: listing.SourceTitle}
	r.importAll(ctx, log, src, listing, plan.ToImport, update, &out)

	next, ok := update.merge(r.policy, len(out.Errors) > 0, r.now())
	if !ok {
		log.Warn("pass had errors, ledger left unchanged",
			"imported", out.ImportedCount,
			"errors", len(out.Errors),
		)
		return out, nil
	}
	if err := r.store.Commit(ctx, next); err != nil {
		return out, fmt.Errorf("committing ledger of %s: %w", sourceID, err)
	}
	out.Committed = true

	log.Info("pass complete",
		"imported", out.ImportedCount,
		"skipped", out.SkippedCount,
		"errors", len(out.Errors),
	)
	return out, nil
}

// importAll fetches and imports ids in order, staging each success. The first
// failure is recorded in out and ends the loop.
func (r *Runner) importAll(ctx context.Context, log *slog.Logger, src *model.TrackedSource, listing model.Listing, ids []string, update *ledgerUpdate, out *Outcome) {
	stubs := make(map[string]model.RemoteItemStub, len(listing.Items))
	for _, stub := range listing.Items {
		if _, dup := stubs[stub.RemoteID]; !dup {
			stubs[stub.RemoteID] = stub
		}
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			out.Errors = append(out.Errors, &ItemError{RemoteID: id, Err: err})
			return
		}

		item, err := r.client.FetchDetail(ctx, stubs[id])
		if err != nil {
			out.Errors = append(out.Errors, &ItemError{RemoteID: id, Err: fmt.Errorf("%w: %w", ErrProviderUnavailable, err)})
			log.Error("fetching item detail failed", "remote_id", id, "error", err)
			return
		}

		contentID, err := r.importer.Import(ctx, src, item)
		if err != nil {
			if !errors.Is(err, ErrImportRejected) {
				err = fmt.Errorf("%w: %w", ErrImportRejected, err)
			}
			out.Errors = append(out.Errors, &ItemError{RemoteID: id, Err: err})
			log.Error("import failed", "remote_id", id, "error", err)
			return
		}

		update.stage(id)
		out.ImportedCount++
		log.Debug("item imported", "remote_id", id, "content_id", contentID)
	}
}

func (r *Runner) load(ctx context.Context, sourceID string) (*model.TrackedSource, error) {
	src, err := r.store.Load(ctx, r.provider, sourceID)
	if err != nil {
		return nil, fmt.Errorf("loading ledger of %s: %w", sourceID, err)
	}
	if src == nil {
		return nil, fmt.Errorf("%s source %q: %w", r.provider, sourceID, ErrSourceNotFound)
	}
	return src, nil
}

func (r *Runner) newOutcome(sourceID string) Outcome {
	return Outcome{
		RunID:    uuid.NewString(),
		Provider: r.provider,
		SourceID: sourceID,
	}
}
