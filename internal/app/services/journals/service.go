// Package journals exposes published diary entries.
package journals

import (
	"context"
	"strings"

	"github.com/R3E-Network/geoharvest/internal/app/domain/journal"
	"github.com/R3E-Network/geoharvest/internal/app/storage"
	"github.com/R3E-Network/geoharvest/internal/errors"
	"github.com/R3E-Network/geoharvest/pkg/logger"
)

// DefaultLimit is the page size used when none is requested.
const DefaultLimit = 20

// Page is one page of entries.
type Page struct {
	Entries []journal.Entry
	Limit   int
	Offset  int
	Total   int
}

// Service reads journal entries.
type Service struct {
	store storage.JournalStore
	log   *logger.Logger
}

// New constructs a journal service.
func New(store storage.JournalStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("journals")
	}
	return &Service{store: store, log: log}
}

// List returns a page of entries. A limit of 0 selects DefaultLimit and a
// negative limit is rejected.
func (s *Service) List(ctx context.Context, limit, offset int) (Page, error) {
	if limit < 0 {
		return Page{}, errors.NewValidationError("limit", "must not be negative")
	}
	if offset < 0 {
		return Page{}, errors.NewValidationError("offset", "must not be negative")
	}
	if limit == 0 {
		limit = DefaultLimit
	}
	entries, total, err := s.store.ListJournalEntries(ctx, limit, offset)
	if err != nil {
		return Page{}, err
	}
	return Page{Entries: entries, Limit: limit, Offset: offset, Total: total}, nil
}

// Get returns a single entry.
func (s *Service) Get(ctx context.Context, id string) (journal.Entry, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return journal.Entry{}, errors.RequiredError("id")
	}
	return s.store.GetJournalEntry(ctx, id)
}
