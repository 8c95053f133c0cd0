package models

import (
	"bytes"
	"fmt"
	"math"

	"github.com/fxamacker/cbor/v2"
	"github.com/goccy/go-json"
)

// Timestamp is the mirror's progress token: a {seconds, ordinal} pair that is
// totally ordered and never generated locally. On the wire it is the
// two-element array [seconds, ordinal].
type Timestamp struct {
	T uint32
	I uint32
}

// Compare returns -1, 0 or +1 depending on whether ts orders before, equal to,
// or after other.
func (ts Timestamp) Compare(other Timestamp) int {
	switch {
	case ts.T < other.T:
		return -1
	case ts.T > other.T:
		return 1
	case ts.I < other.I:
		return -1
	case ts.I > other.I:
		return 1
	default:
		return 0
	}
}

func (ts Timestamp) Before(other Timestamp) bool {
	return ts.Compare(other) < 0
}

func (ts Timestamp) After(other Timestamp) bool {
	return ts.Compare(other) > 0
}

func (ts Timestamp) IsZero() bool {
	return ts.T == 0 && ts.I == 0
}

func (ts Timestamp) String() string {
	return fmt.Sprintf("(%d,%d)", ts.T, ts.I)
}

// Wire returns the array form sent back to the mirror.
func (ts Timestamp) Wire() []uint32 {
	return []uint32{ts.T, ts.I}
}

func (ts Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(ts.Wire())
}

func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	var pair []any
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	parsed, err := ParseTimestamp(pair)
	if err != nil {
		return err
	}
	*ts = parsed
	return nil
}

func (ts Timestamp) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal([2]uint32{ts.T, ts.I})
}

func (ts *Timestamp) UnmarshalCBOR(data []byte) error {
	var pair [2]uint32
	if err := cbor.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	ts.T, ts.I = pair[0], pair[1]
	return nil
}

// ParseTimestamp converts a decoded wire value into a Timestamp.
// It accepts the array form produced by either wire codec.
func ParseTimestamp(v any) (Timestamp, error) {
	var items []any
	switch pair := v.(type) {
	case Timestamp:
		return pair, nil
	case *Timestamp:
		if pair == nil {
			return Timestamp{}, fmt.Errorf("timestamp: nil")
		}
		return *pair, nil
	case []any:
		items = pair
	case []uint32:
		if len(pair) != 2 {
			return Timestamp{}, fmt.Errorf("timestamp: expected 2 elements, got %d", len(pair))
		}
		return Timestamp{T: pair[0], I: pair[1]}, nil
	default:
		return Timestamp{}, fmt.Errorf("timestamp: expected [seconds, ordinal], got %T", v)
	}

	if len(items) != 2 {
		return Timestamp{}, fmt.Errorf("timestamp: expected 2 elements, got %d", len(items))
	}
	t, err := toUint32(items[0])
	if err != nil {
		return Timestamp{}, fmt.Errorf("timestamp seconds: %w", err)
	}
	i, err := toUint32(items[1])
	if err != nil {
		return Timestamp{}, fmt.Errorf("timestamp ordinal: %w", err)
	}
	return Timestamp{T: t, I: i}, nil
}

func toUint32(v any) (uint32, error) {
	var n float64
	switch x := v.(type) {
	case uint32:
		return x, nil
	case uint64:
		if x > math.MaxUint32 {
			return 0, fmt.Errorf("%d overflows uint32", x)
		}
		return uint32(x), nil
	case int64:
		n = float64(x)
	case int:
		n = float64(x)
	case float64:
		n = x
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0, err
		}
		n = f
	default:
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
	if n < 0 || n > math.MaxUint32 || n != math.Trunc(n) {
		return 0, fmt.Errorf("%v is not a valid uint32", v)
	}
	return uint32(n), nil
}
