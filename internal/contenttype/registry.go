// Package contenttype keeps the registry of local content buckets that
// imports land in: the shared post bucket and one dedicated bucket per
// registered source instance.
//
// A single [*Registry] is created by main and handed to the importer; there
// is no package-level instance.
package contenttype

import (
	"sort"
	"strings"
	"sync"

	"github.com/njoerd114/mediarelay/internal/model"
)

// ContentType describes one content bucket and its taxonomies.
type ContentType struct {
	Key              string
	Label            string
	TagTaxonomy      string
	CategoryTaxonomy string
}

// Post is the regular post bucket used by [model.GenericPost] sources.
var Post = ContentType{
	Key:              "post",
	Label:            "Posts",
	TagTaxonomy:      "post_tag",
	CategoryTaxonomy: "category",
}

// Registry maps stable instance keys to dedicated content types.
type Registry struct {
	mu    sync.RWMutex
	types map[string]ContentType
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]ContentType)}
}

// Register returns the dedicated content type for the provider's instance,
// creating it on first use. label is only used on creation.
func (r *Registry) Register(provider model.Provider, instanceID, label string) ContentType {
	key := "mediarelay_" + string(provider) + "_" + sanitize(instanceID)

	r.mu.RLock()
	ct, ok := r.types[key]
	r.mu.RUnlock()
	if ok {
		return ct
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if ct, ok := r.types[key]; ok {
		return ct
	}
	if label == "" {
		label = instanceID
	}
	ct = ContentType{
		Key:              key,
		Label:            label,
		TagTaxonomy:      key + "-tag",
		CategoryTaxonomy: key + "-category",
	}
	r.types[key] = ct
	return ct
}

// Resolve returns the content type a source's imports land in.
func (r *Registry) Resolve(src *model.TrackedSource) ContentType {
	if src.PostTarget == model.GenericPost {
		return Post
	}
	instance := src.ContentInstance
	if instance == "" {
		instance = src.SourceID
	}
	return r.Register(src.Provider, instance, src.Title)
}

// All returns the registered dedicated content types ordered by key.
func (r *Registry) All() []ContentType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ContentType, 0, len(r.types))
	for _, ct := range r.types {
		out = append(out, ct)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// sanitize reduces an instance ID to lowercase letters, digits and
// underscores so it is safe as a directory name and taxonomy key.
func sanitize(id string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(id) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "default"
	}
	return b.String()
}
