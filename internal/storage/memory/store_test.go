package memory

import (
	"context"
	"testing"
	"time"

	"github.com/bobmcallan/folio/internal/common"
	"github.com/bobmcallan/folio/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore() *Store {
	return NewStore(common.NewSilentLogger())
}

func TestStore_SaveAndLoad(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	doc := models.NewDocument("main")
	doc.Positions = append(doc.Positions, models.Position{Ticker: "0700.HK", Lots: []models.Lot{{Date: "2025-03-03", Quantity: 100, Price: 400}}})
	require.NoError(t, s.Save(ctx, doc))
	assert.Equal(t, int64(1), doc.Version)
	assert.False(t, doc.LastUpdated.IsZero())

	got, err := s.Load(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	require.Len(t, got.Positions, 1)
	assert.Equal(t, "0700.HK", got.Positions[0].Ticker)

	// Loaded copies are independent of the store.
	got.Positions[0].Ticker = "MUTATED"
	again, err := s.Load(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, "0700.HK", again.Positions[0].Ticker)
}

func TestStore_LoadNotFound(t *testing.T) {
	_, err := newTestStore().Load(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestStore_VersionConflict(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	doc := models.NewDocument("main")
	require.NoError(t, s.Save(ctx, doc))

	stale := models.NewDocument("main")
	err := s.Save(ctx, stale)
	assert.ErrorIs(t, err, models.ErrVersionConflict)
	assert.Equal(t, int64(0), stale.Version)

	require.NoError(t, s.Save(ctx, doc))
	assert.Equal(t, int64(2), doc.Version)

	doc.Version = 1
	assert.ErrorIs(t, s.Save(ctx, doc), models.ErrVersionConflict)
}

func TestStore_List(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, models.NewDocument("us")))
	require.NoError(t, s.Save(ctx, models.NewDocument("hk")))

	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"hk", "us"}, ids)
}

func TestStore_Subscribe(t *testing.T) {
	s := newTestStore()
	ctx, cancel := context.WithCancel(context.Background())

	events, err := s.Subscribe(ctx, "main")
	require.NoError(t, err)

	require.NoError(t, s.Save(context.Background(), models.NewDocument("main")))
	select {
	case ev := <-events:
		assert.Equal(t, "main", ev.DocumentID)
		assert.Equal(t, int64(1), ev.Version)
	case <-time.After(time.Second):
		t.Fatal("no change event")
	}

	cancel()
	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription not closed")
	}
}

func TestStore_Close(t *testing.T) {
	s := newTestStore()
	events, err := s.Subscribe(context.Background(), "main")
	require.NoError(t, err)

	require.NoError(t, s.Close())
	_, ok := <-events
	assert.False(t, ok)
	assert.Error(t, s.Save(context.Background(), models.NewDocument("main")))
}
