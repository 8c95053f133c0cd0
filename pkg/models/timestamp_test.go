package models

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimestampCompare(t *testing.T) {
	a := Timestamp{T: 100, I: 0}
	b := Timestamp{T: 100, I: 1}
	c := Timestamp{T: 101, I: 0}

	assert.Equal(t, 0, a.Compare(a))
	assert.True(t, a.Before(b))
	assert.True(t, b.Before(c))
	assert.True(t, c.After(a))
	assert.False(t, a.After(a))
	assert.True(t, Timestamp{}.IsZero())
}

func TestTimestampJSON(t *testing.T) {
	data, err := json.Marshal(Timestamp{T: 101, I: 3})
	require.NoError(t, err)
	assert.JSONEq(t, `[101,3]`, string(data))

	var ts Timestamp
	require.NoError(t, json.Unmarshal([]byte(`[7,8]`), &ts))
	assert.Equal(t, Timestamp{T: 7, I: 8}, ts)

	assert.Error(t, json.Unmarshal([]byte(`[7]`), &ts))
	assert.Error(t, json.Unmarshal([]byte(`[1.5,0]`), &ts))
}

func TestTimestampCBOR(t *testing.T) {
	data, err := cbor.Marshal(Timestamp{T: 5, I: 9})
	require.NoError(t, err)

	var ts Timestamp
	require.NoError(t, cbor.Unmarshal(data, &ts))
	assert.Equal(t, Timestamp{T: 5, I: 9}, ts)

	// decoded into an interface the pair arrives as []any of uint64
	var generic any
	require.NoError(t, cbor.Unmarshal(data, &generic))
	parsed, err := ParseTimestamp(generic)
	require.NoError(t, err)
	assert.Equal(t, ts, parsed)
}

func TestParseTimestampOverflow(t *testing.T) {
	_, err := ParseTimestamp([]any{uint64(1) << 33, uint64(0)})
	assert.Error(t, err)

	_, err = ParseTimestamp("100,0")
	assert.Error(t, err)
}
