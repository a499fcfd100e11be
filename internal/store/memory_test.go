package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRoundTrip(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.SaveTable(ctx, "t1", []byte(`{"id":"t1"}`)))
	require.NoError(t, m.SavePlayers(ctx, "t1", []byte(`[]`)))

	rec, err := m.Load(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "t1", rec.TableID)
	assert.JSONEq(t, `{"id":"t1"}`, string(rec.Table))
	assert.JSONEq(t, `[]`, string(rec.Players))
}

func TestMemoryLoadMissing(t *testing.T) {
	m := NewMemory()

	_, err := m.Load(context.Background(), "absent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemorySaveOverwritesWholesale(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.SaveTable(ctx, "t1", []byte(`{"round":1}`)))
	require.NoError(t, m.SaveTable(ctx, "t1", []byte(`{"round":2}`)))

	rec, err := m.Load(ctx, "t1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"round":2}`, string(rec.Table))
}

func TestMemoryCopiesCallerBuffers(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	buf := []byte(`{"round":1}`)
	require.NoError(t, m.SaveTable(ctx, "t1", buf))
	buf[2] = 'X'

	rec, err := m.Load(ctx, "t1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"round":1}`, string(rec.Table), "stored bytes must not alias the caller's buffer")
}

func TestMemoryListAndDelete(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.SaveTable(ctx, "t1", []byte(`{}`)))
	require.NoError(t, m.SaveTable(ctx, "t2", []byte(`{}`)))

	ids, err := m.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"t1", "t2"}, ids)

	require.NoError(t, m.Delete(ctx, "t1"))
	ids, err = m.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"t2"}, ids)

	_, err = m.Load(ctx, "t1")
	assert.ErrorIs(t, err, ErrNotFound)
}
