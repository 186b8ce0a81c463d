// Package model defines shared types used across the sync core, the provider
// clients, the importer, and the ledger store.
package model

import (
	"fmt"
	"sort"
	"time"
)

// Provider identifies which remote media feed a source belongs to.
type Provider string

const (
	// ProviderPhoto is the photo account feed (Instagram).
	ProviderPhoto Provider = "photo"
	// ProviderVideo is the video channel feed (YouTube).
	ProviderVideo Provider = "video"
)

// ParseProvider validates a provider name from configuration or the CLI.
// "instagram" and "youtube" are accepted as aliases.
func ParseProvider(s string) (Provider, error) {
	switch s {
	case string(ProviderPhoto), "instagram":
		return ProviderPhoto, nil
	case string(ProviderVideo), "youtube":
		return ProviderVideo, nil
	default:
		return "", fmt.Errorf("unknown provider %q (want %q or %q)", s, ProviderPhoto, ProviderVideo)
	}
}

// PostTargetKind governs which local content bucket imports land in.
type PostTargetKind string

const (
	// GenericPost sends imports to the regular blog post bucket.
	GenericPost PostTargetKind = "post"
	// DedicatedContentType sends imports to a per-source content type.
	DedicatedContentType PostTargetKind = "dedicated"
)

// ParsePostTarget validates a post target from configuration. Empty means
// [DedicatedContentType], which is what a freshly registered source uses.
func ParsePostTarget(s string) (PostTargetKind, error) {
	switch s {
	case "", string(DedicatedContentType):
		return DedicatedContentType, nil
	case string(GenericPost):
		return GenericPost, nil
	default:
		return "", fmt.Errorf("unknown post target %q (want %q or %q)", s, GenericPost, DedicatedContentType)
	}
}

// TrackedSource is the persisted ledger record for one account or channel.
//
// Invariant: Imported is a subset of AllKnown. Both sets only ever grow.
type TrackedSource struct {
	Provider Provider
	SourceID string
	Title    string

	PostTarget PostTargetKind

	// ContentInstance keys the source's dedicated content type in the
	// content-type registry. Defaults to SourceID.
	ContentInstance string

	// CategoryID is applied to every import whose item carries no category.
	CategoryID string

	AllKnown          IDSet
	Imported          IDSet
	BackfillCompleted bool

	CreatedAt    time.Time
	LastSyncedAt time.Time
}

// Clone returns a deep copy so callers can stage changes without touching
// the loaded record.
func (s *TrackedSource) Clone() *TrackedSource {
	cp := *s
	cp.AllKnown = s.AllKnown.Clone()
	cp.Imported = s.Imported.Clone()
	return &cp
}

// PendingBackfill is the number of known items that have not been imported,
// i.e. what a backfill would still pick up from the registration page.
func (s *TrackedSource) PendingBackfill() int {
	n := 0
	for id := range s.AllKnown {
		if !s.Imported.Has(id) {
			n++
		}
	}
	return n
}

// RemoteItemStub is one entry of a provider listing. Only RemoteID is
// guaranteed; providers fill in whatever else the listing call returned.
type RemoteItemStub struct {
	RemoteID    string
	Title       string
	PublishedAt time.Time
}

// Listing is the result of one provider list call.
type Listing struct {
	// SourceTitle is the account or channel display name as currently
	// reported by the provider. Empty if the provider did not report it.
	SourceTitle string
	Items       []RemoteItemStub
}

// IDs returns the listing's remote IDs in provider order.
func (l Listing) IDs() []string {
	ids := make([]string, 0, len(l.Items))
	for _, it := range l.Items {
		ids = append(ids, it.RemoteID)
	}
	return ids
}

// RemoteItem is one fetched item detail, decoded from the provider payload.
type RemoteItem struct {
	RemoteID     string
	Title        string
	Author       string
	PublishedAt  time.Time
	Body         string
	MediaURL     string
	ThumbnailURL string
	Tags         []string
	CategoryID   string
}

// IDSet is a set of remote IDs.
type IDSet map[string]struct{}

// NewIDSet builds a set from the given IDs.
func NewIDSet(ids ...string) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has reports whether id is in the set. A nil set contains nothing.
func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Add inserts ids into the set.
func (s IDSet) Add(ids ...string) {
	for _, id := range ids {
		s[id] = struct{}{}
	}
}

// Len returns the number of IDs.
func (s IDSet) Len() int { return len(s) }

// Clone returns an independent copy. Cloning a nil set yields an empty set.
func (s IDSet) Clone() IDSet {
	cp := make(IDSet, len(s))
	for id := range s {
		cp[id] = struct{}{}
	}
	return cp
}

// Union returns a new set holding the members of s and ids.
func (s IDSet) Union(ids ...string) IDSet {
	u := s.Clone()
	u.Add(ids...)
	return u
}

// Contains reports whether every member of other is in s.
func (s IDSet) Contains(other IDSet) bool {
	for id := range other {
		if !s.Has(id) {
			return false
		}
	}
	return true
}

// Equal reports whether both sets hold exactly the same IDs.
func (s IDSet) Equal(other IDSet) bool {
	return len(s) == len(other) && s.Contains(other)
}

// Sorted returns the members in lexical order, for stable persistence and
// output.
func (s IDSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
