package sync

import (
	"fmt"
	"time"

	"github.com/njoerd114/mediarelay/internal/model"
)

// CommitPolicy decides what a pass persists when some of its steps failed.
type CommitPolicy int

const (
	// CommitAllOrNothing persists nothing if any error occurred in the pass.
	// The next pass recomputes the diff from scratch.
	CommitAllOrNothing CommitPolicy = iota

	// CommitPartial persists the imports that succeeded before the failure
	// and records the whole listing as known. The failed item is then known
	// but not imported, so steady-state passes will not retry it; only a
	// backfill can still pick it up.
	CommitPartial
)

// String returns the configuration name of the policy.
func (p CommitPolicy) String() string {
	if p == CommitPartial {
		return "partial"
	}
	return "all_or_nothing"
}

// ParseCommitPolicy parses a policy name from configuration. Empty selects
// [CommitAllOrNothing].
func ParseCommitPolicy(s string) (CommitPolicy, error) {
	switch s {
	case "", "all_or_nothing":
		return CommitAllOrNothing, nil
	case "partial":
		return CommitPartial, nil
	default:
		return 0, fmt.Errorf("unknown commit policy %q (want all_or_nothing or partial)", s)
	}
}

// ledgerUpdate stages the effect of one pass on the record loaded at its
// start.
type ledgerUpdate struct {
	base   *model.TrackedSource
	plan   Plan
	staged []string

	// title is the source title the provider reported, empty if unknown.
	title string
}

// stage records a successfully imported ID.
func (u *ledgerUpdate) stage(id string) {
	u.staged = append(u.staged, id)
}

// merge returns the record to commit, or false when policy forbids a commit
// after failure. The base record is never modified.
func (u *ledgerUpdate) merge(policy CommitPolicy, failed bool, now time.Time) (*model.TrackedSource, bool) {
	if failed && policy != CommitPartial {
		return nil, false
	}

	next := u.base.Clone()
	next.AllKnown = u.plan.AllKnown.Clone()
	next.Imported = u.plan.Imported(u.staged...)
	if u.title != "" {
		next.Title = u.title
	}
	next.LastSyncedAt = now
	return next, true
}
