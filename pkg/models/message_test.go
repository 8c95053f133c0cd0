package models

import (
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surrealdb/surrealmirror/internal/codec"
)

func decode(t *testing.T, s string) map[string]any {
	t.Helper()
	raw, err := codec.DecodeMessage(codec.JSON(), []byte(s))
	require.NoError(t, err)
	return raw
}

func TestParseMessageMutations(t *testing.T) {
	t.Run("upsert", func(t *testing.T) {
		in, err := ParseMessage(decode(t, `{"type":"upsert","data":{"_id":"1","a":1},"ts":[100,0]}`))
		require.NoError(t, err)
		require.NotNil(t, in.Event)
		assert.Equal(t, OpUpsert, in.Event.Operation)
		assert.Equal(t, "1", in.Event.ID)
		assert.Equal(t, "1", in.Event.Key)
		assert.Equal(t, Timestamp{T: 100}, in.Event.Timestamp)
		assert.Equal(t, int64(1), in.Event.Payload["a"])
	})

	t.Run("numeric identity", func(t *testing.T) {
		in, err := ParseMessage(decode(t, `{"type":"delete","data":{"_id":42},"ts":[1,2]}`))
		require.NoError(t, err)
		assert.Equal(t, "42", in.Event.ID)
	})

	t.Run("noop uses sentinel identity", func(t *testing.T) {
		in, err := ParseMessage(decode(t, `{"type":"noop","data":{"msg":"periodic"},"ts":[200,0]}`))
		require.NoError(t, err)
		assert.Equal(t, NoopIdentity, in.Event.ID)
	})

	t.Run("noop without data", func(t *testing.T) {
		in, err := ParseMessage(decode(t, `{"type":"noop","ts":[200,0]}`))
		require.NoError(t, err)
		assert.NotNil(t, in.Event.Payload)
	})
}

func TestParseMessageRequests(t *testing.T) {
	in, err := ParseMessage(decode(t, `{"type":"timestamp-request"}`))
	require.NoError(t, err)
	require.NotNil(t, in.Request)
	assert.Equal(t, RequestTimestamp, in.Request.Kind)
	assert.Nil(t, in.Request.Since)

	in, err = ParseMessage(decode(t, `{"type":"ids-since-timestamp-request","ts":[5,6]}`))
	require.NoError(t, err)
	require.NotNil(t, in.Request.Since)
	assert.Equal(t, Timestamp{T: 5, I: 6}, *in.Request.Since)
}

func TestParseMessageMalformed(t *testing.T) {
	cases := map[string]string{
		"unknown type":          `{"type":"truncate","ts":[1,0]}`,
		"missing type":          `{"data":{"_id":"1"},"ts":[1,0]}`,
		"non-string type":       `{"type":7}`,
		"missing ts":            `{"type":"upsert","data":{"_id":"1"}}`,
		"bad ts":                `{"type":"upsert","data":{"_id":"1"},"ts":[1]}`,
		"negative ts":           `{"type":"upsert","data":{"_id":"1"},"ts":[-1,0]}`,
		"missing identity":      `{"type":"upsert","data":{"a":1},"ts":[1,0]}`,
		"data not an object":    `{"type":"upsert","data":[1,2],"ts":[1,0]}`,
		"ids-since without ts":  `{"type":"ids-since-timestamp-request"}`,
		"update with bad field": `{"type":"update","data":{"_id":"1","a":2},"ts":[1,0]}`,
	}
	for name, msg := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseMessage(decode(t, msg))
			require.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestReplyEchoesFields(t *testing.T) {
	raw := decode(t, `{"type":"timestamp-request","request_id":"abc","data":"x"}`)
	in, err := ParseMessage(raw)
	require.NoError(t, err)

	out := in.Reply(Timestamp{T: 200}.Wire())
	assert.Equal(t, "timestamp-request", out["type"])
	assert.Equal(t, "abc", out["request_id"])
	assert.Equal(t, []uint32{200, 0}, out["data"])
	// the input message is left untouched
	assert.Equal(t, "x", raw["data"])
}

func TestNormalizeLastModified(t *testing.T) {
	doc := map[string]any{"_id": "1", LastModifiedField: "2020-01-02T03:04:05.123456"}
	out, err := NormalizeLastModified(doc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2020, 1, 2, 3, 4, 5, 123456000, time.UTC), out[LastModifiedField])
	assert.IsType(t, "", doc[LastModifiedField])

	_, err = NormalizeLastModified(map[string]any{LastModifiedField: "yesterday"})
	assert.Error(t, err)

	assert.Equal(t, "2020-01-02T03:04:05.123456", FormatLastModified(out[LastModifiedField].(time.Time)))
}

func TestNumericIdentities(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want string
	}{
		{"small int", `7`, "7"},
		{"negative int", `-12`, "-12"},
		{"above 2^53", `9007199254740993`, "9007199254740993"},
		{"2^53", `9007199254740992`, "9007199254740992"},
		{"above int64", `18446744073709551615`, "18446744073709551615"},
		{"above uint64", `123456789012345678901234567890`, "123456789012345678901234567890"},
		{"float", `1.5`, "1.5"},
		{"integral float", `2.0`, "2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := ParseMessage(decode(t, `{"type":"delete","data":{"_id":`+tt.id+`},"ts":[1,0]}`))
			require.NoError(t, err)
			assert.Equal(t, tt.want, in.Event.ID)
		})
	}
}

func TestLargeIdentitiesStayDistinct(t *testing.T) {
	a, err := ParseMessage(decode(t, `{"type":"upsert","data":{"_id":9007199254740993,"n":9007199254740993},"ts":[1,0]}`))
	require.NoError(t, err)
	b, err := ParseMessage(decode(t, `{"type":"upsert","data":{"_id":9007199254740992,"n":9007199254740992},"ts":[1,0]}`))
	require.NoError(t, err)

	assert.NotEqual(t, a.Event.ID, b.Event.ID)
	assert.Equal(t, int64(9007199254740993), a.Event.Key)
	assert.Equal(t, int64(9007199254740993), a.Event.Payload["n"])
	assert.Equal(t, int64(9007199254740992), b.Event.Payload["n"])
}

func TestIdentityStringNumber(t *testing.T) {
	id, err := IdentityString(json.Number("123456789012345678901234567890"))
	require.NoError(t, err)
	assert.Equal(t, "123456789012345678901234567890", id)

	id, err = IdentityString(json.Number("2.50"))
	require.NoError(t, err)
	assert.Equal(t, "2.5", id)
}
