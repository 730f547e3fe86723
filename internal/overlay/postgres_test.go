package overlay

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/sdko-org/outfit-relay/internal/database/dbtest"
	"github.com/sdko-org/outfit-relay/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore_SingleRowLifecycle(t *testing.T) {
	db := dbtest.Open(t)
	store := NewPostgresStore(db)
	ctx := context.Background()

	_, ok, err := store.Get(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Save(ctx, json.RawMessage(`{"shirt":"red-tee.png"}`)))
	require.NoError(t, store.Save(ctx, json.RawMessage(`{"shirt":"blue-tee.png","accessories":["cap.png"]}`)))

	var rows int64
	require.NoError(t, db.Model(&models.OverlaySlot{}).Count(&rows).Error)
	assert.EqualValues(t, 1, rows, "saves overwrite the one slot row")

	state, ok, err := store.Get(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"shirt":"blue-tee.png","accessories":["cap.png"]}`, string(state.Payload))
	assert.False(t, state.UpdatedAt.IsZero())

	require.NoError(t, store.Clear(ctx))
	_, ok, err = store.Get(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Clear(ctx), "clearing an empty slot is a no-op")
	require.NoError(t, db.Model(&models.OverlaySlot{}).Count(&rows).Error)
	assert.Zero(t, rows)
}

func TestPostgresStore_RejectsEmptyPayload(t *testing.T) {
	store := NewPostgresStore(dbtest.Open(t))
	assert.ErrorIs(t, store.Save(context.Background(), nil), ErrEmptyPayload)
}
