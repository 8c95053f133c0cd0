package codec

import (
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surrealdb/surrealmirror/pkg/constants"
	"github.com/surrealdb/surrealmirror/pkg/models"
)

func TestLookup(t *testing.T) {
	c, err := Lookup("")
	require.NoError(t, err)
	assert.Equal(t, JSONName, c.Name())
	assert.False(t, c.Binary())

	c, err = Lookup("cbor")
	require.NoError(t, err)
	assert.True(t, c.Binary())

	_, err = Lookup("msgpack")
	assert.ErrorIs(t, err, constants.ErrUnknownCodec)
}

func TestRoundTripMessage(t *testing.T) {
	for _, c := range []Codec{JSON(), CBOR()} {
		t.Run(c.Name(), func(t *testing.T) {
			data, err := c.Marshal(map[string]any{
				"type": "upsert",
				"data": map[string]any{"_id": "a", "nested": map[string]any{"x": "y"}},
				"ts":   models.Timestamp{T: 10, I: 2},
			})
			require.NoError(t, err)

			raw, err := DecodeMessage(c, data)
			require.NoError(t, err)

			in, err := models.ParseMessage(raw)
			require.NoError(t, err)
			assert.Equal(t, models.OpUpsert, in.Type)
			assert.Equal(t, "a", in.Event.ID)
			assert.Equal(t, models.Timestamp{T: 10, I: 2}, in.Event.Timestamp)
			assert.IsType(t, map[string]any{}, in.Event.Payload["nested"])
		})
	}
}

func TestDecodeMessageRejectsNonObjects(t *testing.T) {
	_, err := DecodeMessage(JSON(), []byte(`null`))
	assert.Error(t, err)

	_, err = DecodeMessage(JSON(), []byte(`[1,2]`))
	assert.Error(t, err)

	_, err = DecodeMessage(JSON(), []byte(`{"type":`))
	assert.Error(t, err)
}

func TestJSONNumbersDecodeExactly(t *testing.T) {
	raw, err := DecodeMessage(JSON(), []byte(`{"type":"upsert","data":{"_id":9007199254740993,"big":18446744073709551615,"huge":123456789012345678901234567890,"f":1.25,"list":[1,2.5],"nested":{"n":-3}},"ts":[1,0]}`))
	require.NoError(t, err)

	data := raw["data"].(map[string]any)
	assert.Equal(t, int64(9007199254740993), data["_id"])
	assert.Equal(t, uint64(18446744073709551615), data["big"])
	assert.Equal(t, json.Number("123456789012345678901234567890"), data["huge"])
	assert.Equal(t, 1.25, data["f"])
	assert.Equal(t, []any{int64(1), 2.5}, data["list"])
	assert.Equal(t, map[string]any{"n": int64(-3)}, data["nested"])
	assert.Equal(t, []any{int64(1), int64(0)}, raw["ts"])
}

func TestJSONAndCBORAgreeOnIntegers(t *testing.T) {
	msg := map[string]any{"type": "delete", "data": map[string]any{"_id": int64(9007199254740993)}, "ts": []any{1, 0}}
	for _, c := range []Codec{JSON(), CBOR()} {
		t.Run(c.Name(), func(t *testing.T) {
			data, err := c.Marshal(msg)
			require.NoError(t, err)
			raw, err := DecodeMessage(c, data)
			require.NoError(t, err)

			in, err := models.ParseMessage(raw)
			require.NoError(t, err)
			assert.Equal(t, "9007199254740993", in.Event.ID)
		})
	}
}

func TestJSONRejectsTrailingData(t *testing.T) {
	_, err := DecodeMessage(JSON(), []byte(`{"type":"noop"} {"type":"noop"}`))
	assert.Error(t, err)
}

func TestJSONDecoderNormalizes(t *testing.T) {
	var v any
	require.NoError(t, JSON().NewDecoder(strings.NewReader(`{"a":[9007199254740993]}`)).Decode(&v))
	assert.Equal(t, map[string]any{"a": []any{int64(9007199254740993)}}, v)
}

func TestNormalizeNumbers(t *testing.T) {
	assert.Equal(t, int64(5), Number("5"))
	assert.Equal(t, 5.0, Number("5e0"))
	assert.Equal(t, json.Number("99999999999999999999999"), Number("99999999999999999999999"))
	assert.Equal(t, "x", NormalizeNumbers("x"))
}
