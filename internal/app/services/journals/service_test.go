package journals

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/geoharvest/internal/app/domain/journal"
	"github.com/R3E-Network/geoharvest/internal/app/storage/memory"
	"github.com/R3E-Network/geoharvest/internal/errors"
)

func seed(t *testing.T, store *memory.Store, n int) []journal.Entry {
	t.Helper()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]journal.Entry, 0, n)
	for i := 0; i < n; i++ {
		e, err := store.CreateJournalEntry(context.Background(), journal.Entry{
			Title:     fmt.Sprintf("entry %d", i),
			Publish:   true,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		})
		require.NoError(t, err)
		out = append(out, e)
	}
	return out
}

func TestListDefaultsAndPaging(t *testing.T) {
	store := memory.New()
	seed(t, store, 25)
	svc := New(store, nil)

	page, err := svc.List(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultLimit, page.Limit)
	assert.Equal(t, 25, page.Total)
	assert.Len(t, page.Entries, DefaultLimit)
	assert.Equal(t, "entry 0", page.Entries[0].Title)

	page, err = svc.List(context.Background(), 10, 20)
	require.NoError(t, err)
	assert.Len(t, page.Entries, 5)
	assert.Equal(t, "entry 20", page.Entries[0].Title)

	_, err = svc.List(context.Background(), -1, 0)
	assert.True(t, errors.IsValidationError(err))
}

func TestGet(t *testing.T) {
	store := memory.New()
	entries := seed(t, store, 1)
	svc := New(store, nil)

	got, err := svc.Get(context.Background(), entries[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "entry 0", got.Title)

	_, err = svc.Get(context.Background(), "999")
	assert.True(t, errors.IsNotFound(err))

	_, err = svc.Get(context.Background(), " ")
	assert.True(t, errors.IsValidationError(err))
}
