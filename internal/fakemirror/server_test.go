package fakemirror

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surrealdb/surrealmirror/internal/codec"
)

func TestServer(t *testing.T) {
	server := NewServer("127.0.0.1:0", nil)
	require.NoError(t, server.Start())
	assert.NotEmpty(t, server.Address())
	assert.Equal(t, "ws://"+server.Address()+"/", server.URL())
	require.NoError(t, server.Stop())
}

func TestRejectsBadToken(t *testing.T) {
	server := NewServer("127.0.0.1:0", nil)
	server.Token = "secret"
	require.NoError(t, server.Start())
	defer server.Stop()

	req, err := http.NewRequest(http.MethodGet, "http://"+server.Address()+"/", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer wrong")
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, 1, server.Rejected())
	assert.Equal(t, 0, server.Connections())
}

func TestMalformedFrameDoesNotDecode(t *testing.T) {
	for _, c := range []codec.Codec{codec.JSON(), codec.CBOR()} {
		s := NewServer("127.0.0.1:0", c)
		_, err := codec.DecodeMessage(c, s.malformed())
		assert.Error(t, err, c.Name())
	}
}
