package session

import "fmt"

// NoopPolicy decides what a failed heartbeat checkpoint does to the session.
type NoopPolicy string

const (
	// NoopFail ends the session like any other adapter failure.
	NoopFail NoopPolicy = "fail"
	// NoopContinue logs the failure and keeps streaming.
	NoopContinue NoopPolicy = "continue"
)

func ParseNoopPolicy(s string) (NoopPolicy, error) {
	switch NoopPolicy(s) {
	case "", NoopFail:
		return NoopFail, nil
	case NoopContinue:
		return NoopContinue, nil
	}
	return "", fmt.Errorf("unknown noop error policy %q (want %s or %s)", s, NoopFail, NoopContinue)
}
