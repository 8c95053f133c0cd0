package connection

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surrealdb/surrealmirror/internal/codec"
	"github.com/surrealdb/surrealmirror/pkg/constants"
)

func TestNewConfig(t *testing.T) {
	cfg, err := NewConfig("http://mirror:8080/stream")
	require.NoError(t, err)
	assert.Equal(t, "ws://mirror:8080/stream", cfg.URL.String())
	assert.Equal(t, codec.JSONName, cfg.Codec.Name())
	assert.Equal(t, DefaultHandshakeTimeout, cfg.HandshakeTimeout)
	require.NoError(t, cfg.Validate())

	cfg, err = NewConfig("https://mirror")
	require.NoError(t, err)
	assert.Equal(t, "wss", cfg.URL.Scheme)

	_, err = NewConfig("")
	assert.ErrorIs(t, err, constants.ErrNoBaseURL)

	_, err = NewConfig("ftp://mirror")
	assert.Error(t, err)

	_, err = NewConfig("ws:///path")
	assert.ErrorIs(t, err, constants.ErrNoBaseURL)
}

func TestValidateRequiresCodec(t *testing.T) {
	cfg, err := NewConfig("ws://mirror")
	require.NoError(t, err)
	cfg.Codec = nil
	assert.ErrorIs(t, cfg.Validate(), constants.ErrNoCodec)
}

func TestHeader(t *testing.T) {
	cfg, err := NewConfig("ws://mirror")
	require.NoError(t, err)
	assert.Empty(t, cfg.Header().Get(AuthorizationHeader))

	cfg.Token = "abc"
	assert.Equal(t, "Bearer abc", cfg.Header().Get(AuthorizationHeader))
}

func TestHandshakeError(t *testing.T) {
	cause := errors.New("bad handshake")

	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		err := HandshakeError(status, cause)
		assert.ErrorIs(t, err, constants.ErrAuthorization)
		assert.ErrorIs(t, err, cause)
	}

	assert.ErrorIs(t, HandshakeError(http.StatusBadGateway, cause), constants.ErrHandshake)
	assert.ErrorIs(t, HandshakeError(0, cause), constants.ErrHandshake)
}
