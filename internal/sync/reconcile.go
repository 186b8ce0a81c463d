package sync

import "github.com/njoerd114/mediarelay/internal/model"

// Plan is the result of diffing one listing against a source's ledger.
type Plan struct {
	// ToImport holds the IDs to import now, in listing order.
	ToImport []string

	// AllKnown is the projected known set: the prior known set plus every ID
	// in the listing, whether or not its import succeeds.
	AllKnown model.IDSet

	imported model.IDSet
}

// Imported returns the projected imported set after the given IDs were
// successfully imported.
func (p Plan) Imported(staged ...string) model.IDSet {
	return p.imported.Union(staged...)
}

// Skipped is the number of distinct listed IDs that are not imported this pass.
func (p Plan) Skipped(remoteNow []string) int {
	return len(model.NewIDSet(remoteNow...)) - len(p.ToImport)
}

// Reconcile computes the steady-state diff. An ID is imported only if it was
// never observed in any prior pass and is not already imported:
//
//	toImport = (remoteNow − imported) − allKnown
//
// An item seen once and intentionally left out is therefore never offered
// again merely because it is still listed. Neither input set is modified.
func Reconcile(remoteNow []string, allKnown, imported model.IDSet) Plan {
	return diff(remoteNow, allKnown, imported, true)
}

// ReconcileBackfill computes the diff for the one-shot historical import.
// It differs from [Reconcile] only in not excluding known IDs: the items a
// source already had when it was registered are recorded as known, and
// importing them is the purpose of the backfill.
//
//	toImport = remoteNow − imported
func ReconcileBackfill(remoteNow []string, allKnown, imported model.IDSet) Plan {
	return diff(remoteNow, allKnown, imported, false)
}

func diff(remoteNow []string, allKnown, imported model.IDSet, excludeKnown bool) Plan {
	plan := Plan{
		AllKnown: allKnown.Union(remoteNow...),
		imported: imported.Clone(),
	}

	seen := make(model.IDSet, len(remoteNow))
	for _, id := range remoteNow {
		if seen.Has(id) {
			continue
		}
		seen.Add(id)

		if imported.Has(id) {
			continue
		}
		if excludeKnown && allKnown.Has(id) {
			continue
		}
		plan.ToImport = append(plan.ToImport, id)
	}
	return plan
}
