// Package importer turns fetched remote items into local content entries.
package importer

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/njoerd114/mediarelay/internal/contenttype"
	"github.com/njoerd114/mediarelay/internal/model"
)

const (
	// DefaultTitleMaxLen is used when no title length is configured.
	DefaultTitleMaxLen = 100
	// MaxTitleMaxLen is the largest accepted title length.
	MaxTitleMaxLen = 250
)

// ErrImportRejected is returned when the content store refused an entry.
var ErrImportRejected = errors.New("import rejected")

// Entry is a content entry ready to be written.
type Entry struct {
	Title       string
	ContentType string
	// Body is HTML.
	Body        string
	PublishedAt time.Time
	Meta        map[string]string
}

// ContentStore is the local content store the importer writes into.
type ContentStore interface {
	// CreateEntry writes a new entry and returns its ID.
	CreateEntry(ctx context.Context, e Entry) (string, error)
	AssignTags(ctx context.Context, entryID, taxonomy string, tags []string) error
	AssignCategory(ctx context.Context, entryID, taxonomy, categoryID string) error
	SetFeaturedMedia(ctx context.Context, entryID, mediaURL string) error
}

// Importer creates one content entry per remote item.
type Importer struct {
	store       ContentStore
	types       *contenttype.Registry
	titleMaxLen int
	log         *slog.Logger
}

// New creates an Importer. A titleMaxLen outside 1..[MaxTitleMaxLen] selects
// [DefaultTitleMaxLen].
func New(store ContentStore, types *contenttype.Registry, titleMaxLen int, logger *slog.Logger) *Importer {
	if titleMaxLen < 1 || titleMaxLen > MaxTitleMaxLen {
		titleMaxLen = DefaultTitleMaxLen
	}
	return &Importer{
		store:       store,
		types:       types,
		titleMaxLen: titleMaxLen,
		log:         logger,
	}
}

// Import writes item as a new entry in src's content bucket and returns the
// entry ID. Only the entry creation can fail the import; tags, category and
// featured media are applied best-effort.
func (i *Importer) Import(ctx context.Context, src *model.TrackedSource, item *model.RemoteItem) (string, error) {
	if item == nil {
		return "", fmt.Errorf("%w: empty item", ErrImportRejected)
	}
	ct := i.types.Resolve(src)

	entry := Entry{
		Title:       DeriveTitle(*item, i.titleMaxLen),
		ContentType: ct.Key,
		Body:        buildBody(src.PostTarget, *item),
		PublishedAt: item.PublishedAt,
		Meta: map[string]string{
			"provider":  string(src.Provider),
			"source_id": src.SourceID,
			"remote_id": item.RemoteID,
		},
	}
	if item.MediaURL != "" {
		entry.Meta["media_url"] = item.MediaURL
	}

	id, err := i.store.CreateEntry(ctx, entry)
	if err != nil {
		return "", fmt.Errorf("%w: creating entry for %s: %w", ErrImportRejected, item.RemoteID, err)
	}

	log := i.log.With("entry_id", id, "remote_id", item.RemoteID)

	if len(item.Tags) > 0 {
		if err := i.store.AssignTags(ctx, id, ct.TagTaxonomy, item.Tags); err != nil {
			log.Warn("assigning tags failed", "error", err)
		}
	}

	category := item.CategoryID
	if category == "" {
		category = src.CategoryID
	}
	if category != "" {
		if err := i.store.AssignCategory(ctx, id, ct.CategoryTaxonomy, category); err != nil {
			log.Warn("assigning category failed", "category", category, "error", err)
		}
	}

	if item.ThumbnailURL != "" {
		if err := i.store.SetFeaturedMedia(ctx, id, item.ThumbnailURL); err != nil {
			log.Warn("setting featured media failed", "error", err)
		}
	}

	return id, nil
}

// DeriveTitle picks the entry title: the item title, else the first line of
// its body. A candidate that is empty or longer than maxLen runes is replaced
// by "<author> – <date>".
func DeriveTitle(item model.RemoteItem, maxLen int) string {
	candidate := strings.TrimSpace(item.Title)
	if candidate == "" {
		candidate, _, _ = strings.Cut(strings.TrimSpace(item.Body), "\n")
		candidate = strings.TrimSpace(candidate)
	}
	if candidate != "" && utf8.RuneCountInString(candidate) <= maxLen {
		return candidate
	}

	author := item.Author
	if author == "" {
		author = item.RemoteID
	}
	if item.PublishedAt.IsZero() {
		return author
	}
	return author + " – " + item.PublishedAt.Format("January 2, 2006")
}

// buildBody renders the entry HTML. Generic posts carry the description only;
// dedicated entries lead with the media link.
func buildBody(target model.PostTargetKind, item model.RemoteItem) string {
	var b strings.Builder
	if target == model.DedicatedContentType && item.MediaURL != "" {
		u := html.EscapeString(item.MediaURL)
		fmt.Fprintf(&b, "<p><a href=\"%s\">%s</a></p>\n", u, u)
	}
	for _, para := range strings.Split(strings.TrimSpace(item.Body), "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		lines := strings.Split(para, "\n")
		for n, l := range lines {
			lines[n] = html.EscapeString(strings.TrimSpace(l))
		}
		fmt.Fprintf(&b, "<p>%s</p>\n", strings.Join(lines, "<br>"))
	}
	return b.String()
}
