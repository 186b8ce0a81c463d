package sync

import (
	"context"
	"fmt"
)

// BackfillPageLimit is the provider ceiling on how many historical items a
// single listing call returns, and therefore on what a backfill can import.
const BackfillPageLimit = 50

// EffectiveBackfillLimit clamps a requested backfill size to
// (0, BackfillPageLimit]; zero or less selects the full page.
func EffectiveBackfillLimit(n int) int {
	if n <= 0 {
		return BackfillPageLimit
	}
	return min(n, BackfillPageLimit)
}

// RunBackfill performs the one-shot historical import for the source: list up
// to pageLimit items, import every item not yet imported, and on a fully
// error-free pass commit the ledger together with BackfillCompleted = true.
//
// A completed backfill is never repeated, even when the listing hit the page
// cap and older items remain; [Outcome.CapacityReached] reports that case.
// On any error nothing is committed and the backfill may be retried.
//
// An unknown source returns [ErrSourceNotFound] and an already backfilled one
// [ErrAlreadyBackfilled], both before any provider call. pageLimit is
// clamped with [EffectiveBackfillLimit].
func (r *Runner) RunBackfill(ctx context.Context, sourceID string, pageLimit int) (Outcome, error) {
	out := r.newOutcome(sourceID)
	log := r.log.With("provider", r.provider, "source_id", sourceID, "run_id", out.RunID)

	pageLimit = EffectiveBackfillLimit(pageLimit)

	unlock, err := r.locks.Lock(ctx, r.provider, sourceID)
	if err != nil {
		return out, err
	}
	defer unlock()

	src, err := r.load(ctx, sourceID)
	if err != nil {
		return out, err
	}
	if src.BackfillCompleted {
		return out, fmt.Errorf("%s source %q: %w", r.provider, sourceID, ErrAlreadyBackfilled)
	}

	listing, err := r.client.ListItems(ctx, sourceID, pageLimit)
	if err != nil {
		out.Errors = append(out.Errors, fmt.Errorf("listing %s: %w: %w", sourceID, ErrProviderUnavailable, err))
		log.Error("backfill listing failed", "error", err)
		return out, nil
	}

	ids := listing.IDs()
	out.CapacityReached = len(listing.Items) >= pageLimit
	if out.CapacityReached {
		log.Warn("backfill listing reached the provider page cap, older items will not be imported",
			"page_limit", pageLimit)
	}

	plan := ReconcileBackfill(ids, src.AllKnown, src.Imported)
	out.SkippedCount = plan.Skipped(ids)
	log.Info("backfill starting", "to_import", len(plan.ToImport), "listed", len(ids))

	update := &ledgerUpdate{base: src, plan: plan, title: listing.SourceTitle}
	r.importAll(ctx, log, src, listing, plan.ToImport, update, &out)

	// The backfill flag must only flip on a clean pass, whatever the
	// steady-state policy says.
	next, ok := update.merge(CommitAllOrNothing, len(out.Errors) > 0, r.now())
	if !ok {
		log.Warn("backfill had errors, ledger left unchanged",
			"imported", out.ImportedCount,
			"errors", len(out.Errors),
		)
		return out, nil
	}
	next.BackfillCompleted = true

	if err := r.store.Commit(ctx, next); err != nil {
		return out, fmt.Errorf("committing ledger of %s: %w", sourceID, err)
	}
	out.Committed = true

	log.Info("backfill complete", "imported", out.ImportedCount, "skipped", out.SkippedCount)
	return out, nil
}
