package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/njoerd114/mediarelay/internal/model"
	"github.com/njoerd114/mediarelay/internal/state"
)

// --- Mock Remote Client ------------------------------------------------------

type mockClient struct {
	mu      sync.Mutex
	title   string
	ids     []string
	listErr error

	// detailErr fails FetchDetail for the given remote IDs.
	detailErr map[string]error

	listCalls   int
	detailCalls int
	lastLimit   int
}

func newMockClient(ids ...string) *mockClient {
	return &mockClient{title: "Source Title", ids: ids, detailErr: make(map[string]error)}
}

func (m *mockClient) setIDs(ids ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids = ids
}

func (m *mockClient) ListItems(_ context.Context, _ string, limit int) (model.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.listCalls++
	m.lastLimit = limit
	if m.listErr != nil {
		return model.Listing{}, m.listErr
	}
	l := model.Listing{SourceTitle: m.title}
	for _, id := range m.ids {
		if len(l.Items) == limit {
			break
		}
		l.Items = append(l.Items, model.RemoteItemStub{RemoteID: id})
	}
	return l, nil
}

func (m *mockClient) FetchDetail(_ context.Context, stub model.RemoteItemStub) (*model.RemoteItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.detailCalls++
	if err := m.detailErr[stub.RemoteID]; err != nil {
		return nil, err
	}
	return &model.RemoteItem{RemoteID: stub.RemoteID, Title: "Item " + stub.RemoteID}, nil
}

func (m *mockClient) calls() (list, detail int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listCalls, m.detailCalls
}

// --- Mock Ledger Store -------------------------------------------------------

type mockStore struct {
	mu        sync.Mutex
	sources   map[string]*model.TrackedSource
	commits   int
	commitErr error
	loadErr   error
}

func newMockStore(sources ...*model.TrackedSource) *mockStore {
	m := &mockStore{sources: make(map[string]*model.TrackedSource)}
	for _, src := range sources {
		m.sources[storeKey(src.Provider, src.SourceID)] = src.Clone()
	}
	return m
}

func storeKey(p model.Provider, id string) string { return string(p) + "/" + id }

func (m *mockStore) Load(_ context.Context, p model.Provider, id string) (*model.TrackedSource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	src, ok := m.sources[storeKey(p, id)]
	if !ok {
		return nil, nil
	}
	return src.Clone(), nil
}

func (m *mockStore) Commit(_ context.Context, src *model.TrackedSource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.commitErr != nil {
		return m.commitErr
	}
	key := storeKey(src.Provider, src.SourceID)
	if _, ok := m.sources[key]; !ok {
		return state.ErrNotRegistered
	}
	if !src.AllKnown.Contains(src.Imported) {
		return errors.New("imported is not a subset of known")
	}
	m.commits++
	m.sources[key] = src.Clone()
	return nil
}

func (m *mockStore) Create(_ context.Context, src *model.TrackedSource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := storeKey(src.Provider, src.SourceID)
	if _, ok := m.sources[key]; ok {
		return state.ErrSourceExists
	}
	m.sources[key] = src.Clone()
	return nil
}

func (m *mockStore) List(_ context.Context) ([]*model.TrackedSource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	var out []*model.TrackedSource
	for _, src := range m.sources {
		out = append(out, src.Clone())
	}
	return out, nil
}

func (m *mockStore) get(p model.Provider, id string) *model.TrackedSource {
	m.mu.Lock()
	defer m.mu.Unlock()
	if src, ok := m.sources[storeKey(p, id)]; ok {
		return src.Clone()
	}
	return nil
}

func (m *mockStore) commitCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commits
}

// --- Mock Importer -----------------------------------------------------------

type mockImporter struct {
	mu       sync.Mutex
	failOn   map[string]error
	imported []string
}

func newMockImporter() *mockImporter {
	return &mockImporter{failOn: make(map[string]error)}
}

func (m *mockImporter) Import(_ context.Context, _ *model.TrackedSource, item *model.RemoteItem) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failOn[item.RemoteID]; err != nil {
		return "", err
	}
	m.imported = append(m.imported, item.RemoteID)
	return fmt.Sprintf("entry-%s", item.RemoteID), nil
}

func (m *mockImporter) importedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.imported...)
}

// --- Helpers -----------------------------------------------------------------

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newSource(provider model.Provider, id string, known, imported []string) *model.TrackedSource {
	return &model.TrackedSource{
		Provider:   provider,
		SourceID:   id,
		Title:      "Old Title",
		PostTarget: model.DedicatedContentType,
		AllKnown:   model.NewIDSet(known...),
		Imported:   model.NewIDSet(imported...),
	}
}
