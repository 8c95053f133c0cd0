package logger_test

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/surrealdb/surrealmirror/pkg/logger"
)

func TestLog(t *testing.T) {
	buff := bytes.NewBuffer([]byte{})
	templogger, err := logger.NewBuild().FromBuffer(buff).Make()
	require.NoError(t, err)
	require.NotNil(t, templogger)
	// Get Stats Before
	require.Equal(t, buff.Len(), 0)
	templogger.Logger.Info().Msg("Test")
	// Get Stats After
	require.Contains(t, buff.String(), "Test")
}

func TestZerologAdapter(t *testing.T) {
	buff := bytes.NewBuffer([]byte{})
	data, err := logger.NewBuild().FromBuffer(buff).Level("debug").Make()
	require.NoError(t, err)

	l := logger.Zerolog(data.Logger)
	l.Warn("apply failed", "identity", "abc", "error", errors.New("boom"))

	out := buff.String()
	require.Contains(t, out, `"level":"warn"`)
	require.Contains(t, out, `"identity":"abc"`)
	require.Contains(t, out, `"error":"boom"`)
	require.Contains(t, out, `"message":"apply failed"`)
}

func TestLevelFiltering(t *testing.T) {
	buff := bytes.NewBuffer([]byte{})
	data, err := logger.NewBuild().FromBuffer(buff).Level("warn").Make()
	require.NoError(t, err)

	l := logger.Zerolog(data.Logger)
	l.Info("hidden")
	l.Debug("hidden too")
	require.Equal(t, 0, buff.Len())

	l.Error("shown")
	require.Contains(t, buff.String(), "shown")
}

func TestWith(t *testing.T) {
	t.Run("zerolog", func(t *testing.T) {
		buff := bytes.NewBuffer([]byte{})
		data, err := logger.NewBuild().FromBuffer(buff).Make()
		require.NoError(t, err)

		l := logger.With(logger.Zerolog(data.Logger), "session", "s1")
		l.Info("hello")
		require.Contains(t, buff.String(), `"session":"s1"`)
	})

	t.Run("slog", func(t *testing.T) {
		buff := bytes.NewBuffer([]byte{})
		l := logger.With(logger.New(slog.NewJSONHandler(buff, nil)), "backend", "memory")
		l.Info("hello")
		require.Contains(t, buff.String(), `"backend":"memory"`)
	})
}
