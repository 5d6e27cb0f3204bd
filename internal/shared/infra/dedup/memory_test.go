package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryProcessedStore_SetIfAbsent(t *testing.T) {
	store := NewInMemoryProcessedStore(time.Hour)
	ctx := context.Background()
	eventID := uuid.New()

	fresh, err := store.SetIfAbsent(ctx, "saga:enrollment-saga", eventID)
	require.NoError(t, err)
	assert.True(t, fresh)

	// el mismo (consumer, eventId) ya está visto
	fresh, err = store.SetIfAbsent(ctx, "saga:enrollment-saga", eventID)
	require.NoError(t, err)
	assert.False(t, fresh)

	// otro consumidor procesa el mismo evento de forma independiente
	fresh, err = store.SetIfAbsent(ctx, "analytics", eventID)
	require.NoError(t, err)
	assert.True(t, fresh)
}

func TestInMemoryProcessedStore_ReleaseFreesTheSlot(t *testing.T) {
	store := NewInMemoryProcessedStore(time.Hour)
	ctx := context.Background()
	eventID := uuid.New()

	fresh, err := store.SetIfAbsent(ctx, "analytics", eventID)
	require.NoError(t, err)
	assert.True(t, fresh)

	// liberada la marca, la reentrega vuelve a ser nueva
	require.NoError(t, store.Release(ctx, "analytics", eventID))
	fresh, err = store.SetIfAbsent(ctx, "analytics", eventID)
	require.NoError(t, err)
	assert.True(t, fresh)

	// liberar una marca inexistente es inocuo
	require.NoError(t, store.Release(ctx, "analytics", uuid.New()))
}

func TestInMemoryProcessedStore_ExpiredKeysAreSeenAgain(t *testing.T) {
	store := NewInMemoryProcessedStore(time.Millisecond)
	ctx := context.Background()
	eventID := uuid.New()

	fresh, err := store.SetIfAbsent(ctx, "analytics", eventID)
	require.NoError(t, err)
	assert.True(t, fresh)

	time.Sleep(5 * time.Millisecond)

	// caducada la ventana de deduplicación, el evento vuelve a ser nuevo
	fresh, err = store.SetIfAbsent(ctx, "analytics", eventID)
	require.NoError(t, err)
	assert.True(t, fresh)
}
