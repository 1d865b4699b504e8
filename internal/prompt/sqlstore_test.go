package prompt

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	store, err := NewSQLStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedFixtures(t *testing.T, store *SQLStore) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, store.SeedVersion(ctx, "org-1", Version{
		ID:         "v1",
		PromptID:   "support-bot",
		Model:      "gpt-4o-mini/openai",
		Body:       map[string]any{"messages": []any{map[string]any{"role": "user", "content": "{{question}}"}}},
		Production: true,
	}))
	require.NoError(t, store.SeedVersion(ctx, "org-1", Version{
		ID:          "v2",
		PromptID:    "support-bot",
		Environment: "staging",
		Model:       "gpt-4o/openai",
	}))
}

func TestSQLStore_Lookups(t *testing.T) {
	store := newTestStore(t)
	seedFixtures(t, store)
	ctx := context.Background()

	v, err := store.GetProductionVersion(ctx, "org-1", "support-bot")
	require.NoError(t, err)
	assert.Equal(t, "v1", v.ID)
	assert.Equal(t, "gpt-4o-mini/openai", v.Model)
	assert.NotNil(t, v.Body["messages"])

	v, err = store.GetVersionByID(ctx, "org-1", "support-bot", "v2")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o/openai", v.Model)

	v, err = store.GetVersionByEnvironment(ctx, "org-1", "support-bot", "staging")
	require.NoError(t, err)
	assert.Equal(t, "v2", v.ID)

	_, err = store.GetVersionByID(ctx, "org-1", "support-bot", "nope")
	assert.ErrorIs(t, err, ErrVersionNotFound)

	_, err = store.GetVersionByEnvironment(ctx, "org-1", "support-bot", "qa")
	assert.ErrorIs(t, err, ErrVersionNotFound)
}

func TestSQLStore_PromptFailureClasses(t *testing.T) {
	store := newTestStore(t)
	seedFixtures(t, store)
	ctx := context.Background()

	_, err := store.GetProductionVersion(ctx, "org-1", "missing")
	assert.ErrorIs(t, err, ErrPromptNotFound)

	_, err = store.GetProductionVersion(ctx, "org-2", "support-bot")
	assert.ErrorIs(t, err, ErrUnauthorized)

	require.NoError(t, store.MarkDeleted(ctx, "support-bot"))
	_, err = store.GetProductionVersion(ctx, "org-1", "support-bot")
	assert.ErrorIs(t, err, ErrPromptDeleted)
}

func TestCachedStore_ReadThrough(t *testing.T) {
	store := newTestStore(t)
	seedFixtures(t, store)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cached := NewCachedStore(store, client, nil)
	ctx := context.Background()

	v, err := cached.GetProductionVersion(ctx, "org-1", "support-bot")
	require.NoError(t, err)
	assert.Equal(t, "v1", v.ID)

	// Second read is served from redis even if the row disappears.
	require.NoError(t, store.MarkDeleted(ctx, "support-bot"))
	v, err = cached.GetProductionVersion(ctx, "org-1", "support-bot")
	require.NoError(t, err)
	assert.Equal(t, "v1", v.ID)

	// Expiry falls back to the store, which now reports the deletion.
	mr.FastForward(cacheTTL * 2)
	_, err = cached.GetProductionVersion(ctx, "org-1", "support-bot")
	assert.ErrorIs(t, err, ErrPromptDeleted)
}

func TestCachedStore_ErrorsNotCached(t *testing.T) {
	store := newTestStore(t)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cached := NewCachedStore(store, client, nil)
	ctx := context.Background()

	_, err := cached.GetProductionVersion(ctx, "org-1", "late-prompt")
	assert.ErrorIs(t, err, ErrPromptNotFound)

	// The prompt shows up afterwards and is immediately visible.
	require.NoError(t, store.SeedVersion(ctx, "org-1", Version{
		ID: "v1", PromptID: "late-prompt", Model: "gpt-4o/openai", Production: true,
	}))
	v, err := cached.GetProductionVersion(ctx, "org-1", "late-prompt")
	require.NoError(t, err)
	assert.Equal(t, "v1", v.ID)
}
