package supervisor

import (
	"context"
	"errors"

	"github.com/surrealdb/surrealmirror/pkg/constants"
)

// Outcome is what the supervisor does after a session ends.
type Outcome int

const (
	// Clean ends supervision without error.
	Clean Outcome = iota
	// Retry starts a new session after a delay.
	Retry
	// Fatal ends supervision with the session's error.
	Fatal
)

func (o Outcome) String() string {
	switch o {
	case Clean:
		return "clean"
	case Retry:
		return "retry"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Exit codes of the relay process.
const (
	ExitOK            = 0
	ExitFailure       = 1
	ExitAuthorization = 2
	ExitProtocol      = 3
	ExitConfig        = 4
)

// Classify maps the error a session ended with to an outcome. Adapter
// failures restart only when restartOnAdapterFailure is set. Authorization
// failures, protocol violations and configuration errors never restart.
func Classify(err error, restartOnAdapterFailure bool) Outcome {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return Clean
	case errors.Is(err, constants.ErrAuthorization),
		errors.Is(err, constants.ErrProtocolViolation),
		isConfig(err):
		return Fatal
	case errors.Is(err, constants.ErrAdapter):
		if restartOnAdapterFailure {
			return Retry
		}
		return Fatal
	case errors.Is(err, constants.ErrHandshake),
		errors.Is(err, constants.ErrConnectionLost),
		errors.Is(err, constants.ErrClosed):
		return Retry
	default:
		return Fatal
	}
}

// ExitCode maps the error the relay ended with to its process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return ExitOK
	case errors.Is(err, constants.ErrAuthorization):
		return ExitAuthorization
	case errors.Is(err, constants.ErrProtocolViolation):
		return ExitProtocol
	case isConfig(err):
		return ExitConfig
	default:
		return ExitFailure
	}
}

func isConfig(err error) bool {
	for _, target := range []error{
		constants.ErrConfig,
		constants.ErrInvalidNamespace,
		constants.ErrUnknownBackend,
		constants.ErrUnknownCodec,
		constants.ErrNoBaseURL,
		constants.ErrNoCodec,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
