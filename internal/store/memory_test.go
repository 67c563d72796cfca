package store

import (
	"context"
	"testing"
	"time"

	"github.com/CloudReel/sentinel/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCounter(t *testing.T) {
	ctx := context.Background()

	t.Run("increments within a window", func(t *testing.T) {
		clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
		counter := NewMemoryCounter(clk)

		for i := int64(1); i <= 3; i++ {
			n, err := counter.IncrementWithExpiry(ctx, "user:1", time.Minute)
			require.NoError(t, err)
			assert.Equal(t, i, n)
		}
	})

	t.Run("resets after expiry", func(t *testing.T) {
		clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
		counter := NewMemoryCounter(clk)

		_, err := counter.IncrementWithExpiry(ctx, "user:2", time.Minute)
		require.NoError(t, err)

		clk.Advance(2 * time.Minute)

		n, err := counter.IncrementWithExpiry(ctx, "user:2", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("keys are independent", func(t *testing.T) {
		counter := NewMemoryCounter(nil)

		_, err := counter.IncrementWithExpiry(ctx, "a", time.Minute)
		require.NoError(t, err)
		n, err := counter.IncrementWithExpiry(ctx, "b", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()

	t.Run("put then get round-trips", func(t *testing.T) {
		s := NewMemoryStore()
		doc := Document{
			ID:      "d1",
			Indexed: map[string]string{"user_id": "u1"},
			At:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
			Body:    []byte(`{"action":"login"}`),
		}
		require.NoError(t, s.Put(ctx, "audit_2026-03", doc))

		got, err := s.Get(ctx, "audit_2026-03", "d1")
		require.NoError(t, err)
		assert.Equal(t, doc, got)
	})

	t.Run("get missing returns ErrNotFound", func(t *testing.T) {
		s := NewMemoryStore()
		_, err := s.Get(ctx, "audit_2026-03", "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("query filters and orders descending", func(t *testing.T) {
		s := NewMemoryStore()
		base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		for i := 0; i < 5; i++ {
			user := "u1"
			if i%2 == 1 {
				user = "u2"
			}
			require.NoError(t, s.Put(ctx, "events", Document{
				ID:      string(rune('a' + i)),
				Indexed: map[string]string{"user_id": user},
				At:      base.Add(time.Duration(i) * time.Hour),
				Body:    []byte(`{}`),
			}))
		}

		docs, err := s.Query(ctx, "events", Query{Filters: map[string]string{"user_id": "u1"}})
		require.NoError(t, err)
		require.Len(t, docs, 3)
		for i := 1; i < len(docs); i++ {
			assert.True(t, docs[i-1].At.After(docs[i].At))
		}
	})

	t.Run("query honors time range and limit", func(t *testing.T) {
		s := NewMemoryStore()
		base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		for i := 0; i < 10; i++ {
			require.NoError(t, s.Put(ctx, "events", Document{
				ID: string(rune('a' + i)),
				At: base.Add(time.Duration(i) * time.Hour),
			}))
		}

		docs, err := s.Query(ctx, "events", Query{
			From:  base.Add(2 * time.Hour),
			To:    base.Add(8 * time.Hour),
			Limit: 3,
		})
		require.NoError(t, err)
		assert.Len(t, docs, 3)
		assert.Equal(t, base.Add(8*time.Hour), docs[0].At)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		s := NewMemoryStore()
		require.NoError(t, s.Put(ctx, "events", Document{ID: "d1"}))
		require.NoError(t, s.Delete(ctx, "events", "d1"))
		require.NoError(t, s.Delete(ctx, "events", "d1"))

		_, err := s.Get(ctx, "events", "d1")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("collections lists by prefix", func(t *testing.T) {
		s := NewMemoryStore()
		require.NoError(t, s.Put(ctx, "audit_2026-02", Document{ID: "x"}))
		require.NoError(t, s.Put(ctx, "audit_2026-03", Document{ID: "y"}))
		require.NoError(t, s.Put(ctx, "incidents", Document{ID: "z"}))

		names, err := s.Collections(ctx, "audit_")
		require.NoError(t, err)
		assert.Equal(t, []string{"audit_2026-02", "audit_2026-03"}, names)
	})
}
