package supervisor

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/surrealdb/surrealmirror/pkg/constants"
)

func wrap(err error) error {
	return fmt.Errorf("session: %w", err)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		restart bool
		want    Outcome
	}{
		{"nil", nil, false, Clean},
		{"cancelled", context.Canceled, false, Clean},
		{"authorization", wrap(constants.ErrAuthorization), true, Fatal},
		{"protocol violation", wrap(constants.ErrProtocolViolation), true, Fatal},
		{"adapter with restart", wrap(constants.ErrAdapter), true, Retry},
		{"adapter without restart", wrap(constants.ErrAdapter), false, Fatal},
		{"handshake", wrap(constants.ErrHandshake), false, Retry},
		{"connection lost", wrap(constants.ErrConnectionLost), false, Retry},
		{"closed", constants.ErrClosed, false, Retry},
		{"config", wrap(constants.ErrUnknownBackend), true, Fatal},
		{"unknown", errors.New("boom"), true, Fatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err, tt.restart))
		})
	}
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitOK, ExitCode(nil))
	assert.Equal(t, ExitOK, ExitCode(context.Canceled))
	assert.Equal(t, ExitAuthorization, ExitCode(wrap(constants.ErrAuthorization)))
	assert.Equal(t, ExitProtocol, ExitCode(wrap(constants.ErrProtocolViolation)))
	assert.Equal(t, ExitConfig, ExitCode(wrap(constants.ErrInvalidNamespace)))
	assert.Equal(t, ExitConfig, ExitCode(wrap(constants.ErrNoBaseURL)))
	assert.Equal(t, ExitConfig, ExitCode(constants.ErrConfig))
	assert.Equal(t, ExitFailure, ExitCode(wrap(constants.ErrAdapter)))
	assert.Equal(t, ExitFailure, ExitCode(errors.New("boom")))
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "clean", Clean.String())
	assert.Equal(t, "retry", Retry.String())
	assert.Equal(t, "fatal", Fatal.String())
}
