package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/R3E-Network/geoharvest/internal/app/domain/journal"
	"github.com/R3E-Network/geoharvest/internal/app/domain/layer"
	"github.com/R3E-Network/geoharvest/internal/app/domain/link"
	"github.com/R3E-Network/geoharvest/internal/app/domain/remote"
	"github.com/R3E-Network/geoharvest/internal/app/storage"
	"github.com/R3E-Network/geoharvest/internal/errors"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu       sync.RWMutex
	nextID   int64
	services map[string]remote.Service
	layers   map[string]layer.Layer
	links    map[string][]link.Link
	journals map[string]journal.Entry
}

var _ storage.ServiceStore = (*Store)(nil)
var _ storage.LayerStore = (*Store)(nil)
var _ storage.LinkStore = (*Store)(nil)
var _ storage.JournalStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:   1,
		services: make(map[string]remote.Service),
		layers:   make(map[string]layer.Layer),
		links:    make(map[string][]link.Link),
		journals: make(map[string]journal.Entry),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

// ServiceStore implementation -------------------------------------------------

func (s *Store) CreateService(_ context.Context, svc remote.Service) (remote.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.services {
		if existing.BaseURL == svc.BaseURL {
			return remote.Service{}, errors.NewConflictError("service", svc.BaseURL)
		}
		if existing.Name == svc.Name {
			return remote.Service{}, errors.NewConflictError("service", svc.Name)
		}
	}

	if svc.ID == "" {
		svc.ID = s.nextIDLocked()
	} else if _, exists := s.services[svc.ID]; exists {
		return remote.Service{}, errors.NewConflictError("service", svc.ID)
	}

	now := time.Now().UTC()
	svc.CreatedAt = now
	svc.UpdatedAt = now
	svc = cloneService(svc)

	s.services[svc.ID] = svc
	return cloneService(svc), nil
}

func (s *Store) UpdateService(_ context.Context, svc remote.Service) (remote.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.services[svc.ID]
	if !ok {
		return remote.Service{}, errors.NewNotFoundError("service", svc.ID)
	}

	svc.CreatedAt = original.CreatedAt
	svc.UpdatedAt = time.Now().UTC()
	svc = cloneService(svc)

	s.services[svc.ID] = svc
	return cloneService(svc), nil
}

func (s *Store) GetService(_ context.Context, id string) (remote.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	svc, ok := s.services[id]
	if !ok {
		return remote.Service{}, errors.NewNotFoundError("service", id)
	}
	return cloneService(svc), nil
}

func (s *Store) GetServiceByURL(_ context.Context, baseURL string) (remote.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, svc := range s.services {
		if svc.BaseURL == baseURL {
			return cloneService(svc), nil
		}
	}
	return remote.Service{}, errors.NewNotFoundError("service", baseURL)
}

func (s *Store) ListServices(_ context.Context) ([]remote.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]remote.Service, 0, len(s.services))
	for _, svc := range s.services {
		result = append(result, cloneService(svc))
	}
	sort.Slice(result, func(i, j int) bool { return lessID(result[i].ID, result[j].ID) })
	return result, nil
}

// LayerStore implementation ---------------------------------------------------

func (s *Store) CreateLayer(_ context.Context, l layer.Layer) (layer.Layer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := l.Key()
	for _, existing := range s.layers {
		if existing.Key() == key {
			return layer.Layer{}, errors.NewConflictError("layer", key.Workspace+":"+key.Name)
		}
	}

	if l.ID == "" {
		l.ID = s.nextIDLocked()
	} else if _, exists := s.layers[l.ID]; exists {
		return layer.Layer{}, errors.NewConflictError("layer", l.ID)
	}

	now := time.Now().UTC()
	l.CreatedAt = now
	l.UpdatedAt = now
	l.Keywords = cloneStrings(l.Keywords)

	s.layers[l.ID] = l
	return cloneLayer(l), nil
}

func (s *Store) UpdateLayer(_ context.Context, l layer.Layer) (layer.Layer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.layers[l.ID]
	if !ok {
		return layer.Layer{}, errors.NewNotFoundError("layer", l.ID)
	}

	l.CreatedAt = original.CreatedAt
	l.UpdatedAt = time.Now().UTC()
	l.Keywords = cloneStrings(l.Keywords)

	s.layers[l.ID] = l
	return cloneLayer(l), nil
}

func (s *Store) GetLayer(_ context.Context, id string) (layer.Layer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.layers[id]
	if !ok {
		return layer.Layer{}, errors.NewNotFoundError("layer", id)
	}
	return cloneLayer(l), nil
}

func (s *Store) FindLayer(_ context.Context, key layer.Key) (layer.Layer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, l := range s.layers {
		if l.Key() == key {
			return cloneLayer(l), nil
		}
	}
	return layer.Layer{}, errors.NewNotFoundError("layer", key.Name)
}

func (s *Store) ListLayers(_ context.Context, serviceID string) ([]layer.Layer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]layer.Layer, 0)
	for _, l := range s.layers {
		if serviceID == "" || l.ServiceID == serviceID {
			result = append(result, cloneLayer(l))
		}
	}
	sort.Slice(result, func(i, j int) bool { return lessID(result[i].ID, result[j].ID) })
	return result, nil
}

// LinkStore implementation ----------------------------------------------------

func (s *Store) GetOrCreateLink(_ context.Context, lnk link.Link) (link.Link, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := lnk.Key()
	for _, existing := range s.links[lnk.ResourceID] {
		if existing.Key() == key {
			return existing, false, nil
		}
	}

	lnk.ID = s.nextIDLocked()
	s.links[lnk.ResourceID] = append(s.links[lnk.ResourceID], lnk)
	return lnk, true, nil
}

func (s *Store) ReplaceLink(_ context.Context, lnk link.Link) (link.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.links[lnk.ResourceID][:0:0]
	for _, existing := range s.links[lnk.ResourceID] {
		if existing.Name != lnk.Name {
			kept = append(kept, existing)
		}
	}
	lnk.ID = s.nextIDLocked()
	s.links[lnk.ResourceID] = append(kept, lnk)
	return lnk, nil
}

func (s *Store) ListLinks(_ context.Context, resourceID string) ([]link.Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]link.Link(nil), s.links[resourceID]...), nil
}

// JournalStore implementation -------------------------------------------------

func (s *Store) CreateJournalEntry(_ context.Context, e journal.Entry) (journal.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(e.Title) == "" {
		return journal.Entry{}, errors.RequiredError("title")
	}
	if e.ID == "" {
		e.ID = s.nextIDLocked()
	}
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now

	s.journals[e.ID] = e
	return e, nil
}

func (s *Store) ListJournalEntries(_ context.Context, limit, offset int) ([]journal.Entry, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]journal.Entry, 0, len(s.journals))
	for _, e := range s.journals {
		all = append(all, e)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return lessID(all[i].ID, all[j].ID)
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})

	total := len(all)
	if offset > total {
		offset = total
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return all[offset:end], total, nil
}

func (s *Store) GetJournalEntry(_ context.Context, id string) (journal.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.journals[id]
	if !ok {
		return journal.Entry{}, errors.NewNotFoundError("journal entry", id)
	}
	return e, nil
}

// lessID orders the numeric string identifiers handed out by nextIDLocked.
func lessID(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

func cloneService(svc remote.Service) remote.Service {
	svc.Keywords = cloneStrings(svc.Keywords)
	if svc.Headers != nil {
		headers := make(map[string]string, len(svc.Headers))
		for k, v := range svc.Headers {
			headers[k] = v
		}
		svc.Headers = headers
	}
	return svc
}

func cloneLayer(l layer.Layer) layer.Layer {
	l.Keywords = cloneStrings(l.Keywords)
	return l
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}
