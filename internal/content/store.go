// Package content implements the local content store as a directory of
// Markdown files with YAML front matter, one file per imported entry:
//
//	<root>/<content-type>/<yyyy-mm-dd>-<slug>.md
//
// Entry IDs are the file paths relative to the root.
package content

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"github.com/njoerd114/mediarelay/internal/importer"
)

const (
	fileMode = 0o644
	dirMode  = 0o755

	maxSlugLen = 60
)

// ErrInvalidEntry is returned for entries the store cannot write.
var ErrInvalidEntry = errors.New("invalid entry")

// FrontMatter is the YAML header of an entry file.
type FrontMatter struct {
	Title         string              `yaml:"title"`
	Date          time.Time           `yaml:"date"`
	ContentType   string              `yaml:"content_type"`
	Taxonomies    map[string][]string `yaml:"taxonomies,omitempty"`
	FeaturedMedia string              `yaml:"featured_media,omitempty"`
	Meta          map[string]string   `yaml:"meta,omitempty"`
}

// Document is a parsed entry file.
type Document struct {
	FrontMatter
	Body string
}

// Store writes entries below a root directory. It is safe for concurrent use.
type Store struct {
	root      string
	converter *md.Converter
	now       func() time.Time

	mu sync.Mutex
}

// New creates a Store rooted at dir, creating the directory if needed.
func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("content directory is required")
	}
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return nil, fmt.Errorf("creating content directory: %w", err)
	}
	return &Store{
		root:      dir,
		converter: md.NewConverter("", true, nil),
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// CreateEntry converts e's HTML body to Markdown and writes a new file.
// Titles sharing a date and slug get a numeric suffix.
func (s *Store) CreateEntry(_ context.Context, e importer.Entry) (string, error) {
	if strings.TrimSpace(e.Title) == "" {
		return "", fmt.Errorf("%w: title is required", ErrInvalidEntry)
	}
	if e.ContentType == "" || strings.ContainsAny(e.ContentType, `/\`) || strings.HasPrefix(e.ContentType, ".") {
		return "", fmt.Errorf("%w: bad content type %q", ErrInvalidEntry, e.ContentType)
	}

	body, err := s.converter.ConvertString(e.Body)
	if err != nil {
		return "", fmt.Errorf("converting body to markdown: %w", err)
	}

	date := e.PublishedAt
	if date.IsZero() {
		date = s.now()
	}
	doc := &Document{
		FrontMatter: FrontMatter{
			Title:       e.Title,
			Date:        date.UTC(),
			ContentType: e.ContentType,
			Meta:        e.Meta,
		},
		Body: body,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.root, e.ContentType)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return "", fmt.Errorf("creating %s: %w", dir, err)
	}

	base := date.UTC().Format("2006-01-02") + "-" + Slugify(e.Title)
	for n := 1; ; n++ {
		name := base + ".md"
		if n > 1 {
			name = base + "-" + strconv.Itoa(n) + ".md"
		}
		id := e.ContentType + "/" + name
		path := filepath.Join(dir, name)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, fileMode)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("creating %s: %w", id, err)
		}
		data, err := doc.marshal()
		if err == nil {
			_, err = f.Write(data)
		}
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(path)
			return "", fmt.Errorf("writing %s: %w", id, err)
		}
		return id, nil
	}
}

// AssignTags adds tags to the entry's taxonomy, skipping duplicates.
func (s *Store) AssignTags(_ context.Context, entryID, taxonomy string, tags []string) error {
	return s.update(entryID, func(doc *Document) {
		doc.addTerms(taxonomy, tags...)
	})
}

// AssignCategory adds categoryID to the entry's category taxonomy.
func (s *Store) AssignCategory(_ context.Context, entryID, taxonomy, categoryID string) error {
	return s.update(entryID, func(doc *Document) {
		doc.addTerms(taxonomy, categoryID)
	})
}

// SetFeaturedMedia records the entry's featured image URL.
func (s *Store) SetFeaturedMedia(_ context.Context, entryID, mediaURL string) error {
	return s.update(entryID, func(doc *Document) {
		doc.FeaturedMedia = mediaURL
	})
}

// Read loads an entry by ID.
func (s *Store) Read(entryID string) (*Document, error) {
	path, err := s.path(entryID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", entryID, err)
	}
	return parseDocument(data)
}

func (s *Store) update(entryID string, fn func(*Document)) error {
	path, err := s.path(entryID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", entryID, err)
	}
	doc, err := parseDocument(data)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", entryID, err)
	}
	fn(doc)

	out, err := doc.marshal()
	if err != nil {
		return fmt.Errorf("encoding %s: %w", entryID, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, out, fileMode); err != nil {
		return fmt.Errorf("writing %s: %w", entryID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replacing %s: %w", entryID, err)
	}
	return nil
}

func (s *Store) path(entryID string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(entryID))
	if clean == "." || filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("%w: bad entry ID %q", ErrInvalidEntry, entryID)
	}
	return filepath.Join(s.root, clean), nil
}

func (d *Document) addTerms(taxonomy string, terms ...string) {
	if d.Taxonomies == nil {
		d.Taxonomies = make(map[string][]string)
	}
	existing := d.Taxonomies[taxonomy]
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t == "" || slices.Contains(existing, t) {
			continue
		}
		existing = append(existing, t)
	}
	d.Taxonomies[taxonomy] = existing
}

var fence = []byte("---\n")

func (d *Document) marshal() ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(fence)
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&d.FrontMatter); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	buf.Write(fence)
	buf.WriteByte('\n')
	buf.WriteString(strings.TrimSpace(d.Body))
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func parseDocument(data []byte) (*Document, error) {
	if !bytes.HasPrefix(data, fence) {
		return nil, fmt.Errorf("missing front matter")
	}
	rest := data[len(fence):]
	end := bytes.Index(rest, append([]byte("\n"), fence...))
	if end < 0 {
		return nil, fmt.Errorf("unterminated front matter")
	}

	var doc Document
	if err := yaml.Unmarshal(rest[:end+1], &doc.FrontMatter); err != nil {
		return nil, fmt.Errorf("decoding front matter: %w", err)
	}
	doc.Body = strings.TrimSpace(string(rest[end+1+len(fence):]))
	return &doc, nil
}

var stripMarks = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Slugify turns a title into a lowercase ASCII file name fragment.
func Slugify(title string) string {
	folded, _, err := transform.String(stripMarks, title)
	if err != nil {
		folded = title
	}

	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(folded) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
		if b.Len() >= maxSlugLen {
			break
		}
	}
	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		return "entry"
	}
	return slug
}
