package record

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalFields_SortedAndTyped(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 30, 0, 500, time.UTC)
	f := Fields{
		"CD_title": String("x"),
		"CD_count": Int(3),
		"CD_done":  Bool(true),
		"CD_due":   NewTime(ts),
	}

	got, err := MarshalFields(f)
	require.NoError(t, err)

	want := `{"CD_count":{"type":"INT64","value":3},` +
		`"CD_done":{"type":"BOOLEAN","value":true},` +
		`"CD_due":{"type":"TIMESTAMP","value":"2024-03-01T12:30:00.0000005Z"},` +
		`"CD_title":{"type":"STRING","value":"x"}}`
	assert.Equal(t, want, string(got))
}

func TestMarshalFields_NoHTMLEscaping(t *testing.T) {
	got, err := MarshalFields(Fields{"a": String("<b>&</b>")})
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"type":"STRING","value":"<b>&</b>"}}`, string(got))
}

func TestMarshalFields_NFCNormalizesKeysOnly(t *testing.T) {
	// "e" + combining acute accent: the key is composed, the value is kept.
	got, err := MarshalFields(Fields{"cafe\u0301": String("cafe\u0301")})
	require.NoError(t, err)
	assert.Equal(t, "{\"caf\u00e9\":{\"type\":\"STRING\",\"value\":\"cafe\u0301\"}}", string(got))

	back, err := UnmarshalFields(got)
	require.NoError(t, err)
	assert.Equal(t, String("cafe\u0301"), back["caf\u00e9"])
}

func TestMarshalFields_Empty(t *testing.T) {
	got, err := MarshalFields(nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(got))
}

func TestUnmarshalFields_RoundTrip(t *testing.T) {
	ts := time.Date(2023, 11, 5, 8, 0, 0, 0, time.UTC)
	in := Fields{
		"CD_id":    String("3F2504E0-4F89-11D3-9A0C-0305E82C3301"),
		"CD_n":     Int(-42),
		"CD_flag":  Bool(false),
		"CD_stamp": NewTime(ts),
	}

	data, err := MarshalFields(in)
	require.NoError(t, err)

	out, err := UnmarshalFields(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestUnmarshalFields_RejectsFloat(t *testing.T) {
	_, err := UnmarshalFields([]byte(`{"price":{"type":"INT64","value":1.5}}`))
	require.Error(t, err)
	assert.True(t, IsDecodeError(err))
	assert.Contains(t, err.Error(), "price")
}

func TestUnmarshalFields_RejectsUnknownType(t *testing.T) {
	_, err := UnmarshalFields([]byte(`{"tags":{"type":"LIST","value":["a"]}}`))
	require.Error(t, err)

	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "tags", de.Field)
	assert.Contains(t, de.Reason, "LIST")
}

func TestUnmarshalFields_RejectsTypeMismatch(t *testing.T) {
	_, err := UnmarshalFields([]byte(`{"title":{"type":"STRING","value":7}}`))
	assert.True(t, IsDecodeError(err))
}

func TestUnmarshalFields_RejectsBadTimestamp(t *testing.T) {
	_, err := UnmarshalFields([]byte(`{"due":{"type":"TIMESTAMP","value":"yesterday"}}`))
	assert.True(t, IsDecodeError(err))
}

func TestUnmarshalFields_Malformed(t *testing.T) {
	_, err := UnmarshalFields([]byte(`not json`))
	require.Error(t, err)
	assert.True(t, IsDecodeError(err))
}
