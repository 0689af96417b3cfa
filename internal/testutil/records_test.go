package testutil

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordID_ParsesAsUUID(t *testing.T) {
	_, err := uuid.Parse(RecordID(42))
	require.NoError(t, err)
	assert.NotEqual(t, RecordID(1), RecordID(2))
}

func TestRecords_Deterministic(t *testing.T) {
	a := Records("CD_Item", 3, start)
	b := Records("CD_Item", 3, start)
	assert.Equal(t, a, b)

	require.Len(t, a, 3)
	assert.Equal(t, "CD_Item", a[0].Type)
	assert.True(t, a[2].ModifiedAt.After(a[1].ModifiedAt))
	id, ok := a[1].Fields.StringValue("CD_id")
	require.True(t, ok)
	assert.Equal(t, a[1].ID, id)
}
