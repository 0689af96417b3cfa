package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pubsync/internal/record"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func entity(title string, at time.Time) record.Entity {
	return record.Entity{ID: uuid.New(), Fields: record.Fields{"title": record.String(title)}, ModifiedAt: at}
}

func TestMemory_StagedInvisibleUntilCommit(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("Item")
	e := entity("a", t0)

	m.Insert(e)

	n, err := m.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	latest, err := m.FetchLatest(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	// FetchByID reads through staged changes.
	got, err := m.FetchByID(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, record.String("a"), got.Fields["title"])

	require.NoError(t, m.Commit(ctx))
	n, err = m.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, m.Commits())
}

func TestMemory_InsertReplacesExistingKey(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("Item")
	e := entity("a", t0)
	m.Insert(e)
	require.NoError(t, m.Commit(ctx))

	e.Fields = record.Fields{"title": record.String("b")}
	m.Insert(e)
	require.NoError(t, m.Commit(ctx))

	n, err := m.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	got, err := m.FetchByID(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, record.String("b"), got.Fields["title"])
}

func TestMemory_UpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("Item")
	e := entity("a", t0)
	m.Insert(e)
	require.NoError(t, m.Commit(ctx))

	m.UpdateFields(e.ID, record.Fields{"title": record.String("z")}, t0.Add(time.Hour))
	require.NoError(t, m.Commit(ctx))
	got, err := m.FetchByID(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, record.Fields{"title": record.String("z")}, got.Fields)
	assert.Equal(t, t0.Add(time.Hour), got.ModifiedAt)

	m.Delete(e.ID)
	require.NoError(t, m.Commit(ctx))
	_, err = m.FetchByID(ctx, e.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_UpdateMissingIsNoop(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("Item")
	m.UpdateFields(uuid.New(), record.Fields{"x": record.Int(1)}, t0)
	require.NoError(t, m.Commit(ctx))
	n, err := m.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestMemory_FailedCommitAppliesNothing(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("Item")
	m.Insert(entity("a", t0))
	m.Insert(entity("b", t0))
	m.FailNextCommit(errors.New("disk full"))

	err := m.Commit(ctx)
	require.Error(t, err)
	assert.True(t, IsPersistenceError(err))
	assert.Contains(t, err.Error(), "disk full")

	n, err := m.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// Staged changes were discarded with the failed commit.
	require.NoError(t, m.Commit(ctx))
	n, err = m.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestMemory_FetchLatest(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("Item")
	old := entity("old", t0)
	mid := entity("mid", t0.Add(time.Minute))
	newest := entity("new", t0.Add(time.Hour))
	m.Insert(old)
	m.Insert(newest)
	m.Insert(mid)
	require.NoError(t, m.Commit(ctx))

	got, err := m.FetchLatest(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, newest.ID, got.ID)
}

func TestMemory_Discard(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("Item")
	e := entity("a", t0)
	m.Insert(e)
	m.Discard()
	require.NoError(t, m.Commit(ctx))
	_, err := m.FetchByID(ctx, e.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestChangeSet_Overlay(t *testing.T) {
	var cs ChangeSet
	e := entity("a", t0)

	assert.Nil(t, cs.Overlay(e.ID, nil))

	cs.Update(e.ID, record.Fields{"title": record.String("ignored")}, t0)
	assert.Nil(t, cs.Overlay(e.ID, nil), "update without a row stays absent")

	got := cs.Overlay(e.ID, &e)
	require.NotNil(t, got)
	assert.Equal(t, record.String("ignored"), got.Fields["title"])
	assert.Equal(t, record.String("a"), e.Fields["title"], "overlay must not mutate the committed row")

	cs.Delete(e.ID)
	assert.Nil(t, cs.Overlay(e.ID, &e))

	cs.Insert(e)
	assert.NotNil(t, cs.Overlay(e.ID, nil))
	assert.Equal(t, 3, cs.Len())
}

func TestChangeKind_String(t *testing.T) {
	assert.Equal(t, "insert", ChangeInsert.String())
	assert.Equal(t, "update", ChangeUpdate.String())
	assert.Equal(t, "delete", ChangeDelete.String())
	assert.Equal(t, "unknown", ChangeKind(9).String())
}
