package models

import (
	"errors"
	"fmt"
	"maps"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// ErrMalformed is returned by ParseMessage for messages that cannot be
// interpreted. Callers treat it as a protocol violation.
var ErrMalformed = errors.New("malformed message")

// ChangeEvent is a single mutation delivered by the mirror.
type ChangeEvent struct {
	// ID is the identity in its wire form, used for checkpoints.
	ID string
	// Key is the backend's native key for ID. ParseMessage sets it to the
	// wire value of "_id"; an adapter's Normalize may replace it.
	Key       any
	Operation MessageType
	// Payload is the full document for upsert, the update document
	// ($set/$unset) for update, and whatever the mirror sent otherwise.
	Payload   map[string]any
	Timestamp Timestamp
}

// ControlRequest is a question the mirror asks about the backend's state.
type ControlRequest struct {
	Kind MessageType
	// Since is set for ids-since-timestamp requests.
	Since *Timestamp
}

// Inbound is a decoded wire message. Raw holds every field exactly as
// received so replies can echo them.
type Inbound struct {
	Type    MessageType
	Event   *ChangeEvent
	Request *ControlRequest
	Raw     map[string]any
}

// ParseMessage interprets a decoded wire object.
func ParseMessage(raw map[string]any) (*Inbound, error) {
	if raw == nil {
		return nil, fmt.Errorf("%w: empty message", ErrMalformed)
	}
	typ, ok := raw["type"].(string)
	if !ok {
		return nil, fmt.Errorf("%w: missing or non-string type", ErrMalformed)
	}

	in := &Inbound{Type: MessageType(typ), Raw: raw}
	switch {
	case in.Type.IsMutation():
		ev, err := parseEvent(in.Type, raw)
		if err != nil {
			return nil, err
		}
		in.Event = ev
	case in.Type.IsRequest():
		req := &ControlRequest{Kind: in.Type}
		if in.Type == RequestIDsSinceTimestamp {
			v, present := raw["ts"]
			if !present || v == nil {
				return nil, fmt.Errorf("%w: %s without ts", ErrMalformed, typ)
			}
			ts, err := ParseTimestamp(v)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
			}
			req.Since = &ts
		}
		in.Request = req
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformed, typ)
	}
	return in, nil
}

func parseEvent(op MessageType, raw map[string]any) (*ChangeEvent, error) {
	v, present := raw["ts"]
	if !present || v == nil {
		return nil, fmt.Errorf("%w: %s without ts", ErrMalformed, op)
	}
	ts, err := ParseTimestamp(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	payload, err := asDocument(raw["data"])
	if err != nil {
		return nil, fmt.Errorf("%w: %s data: %w", ErrMalformed, op, err)
	}

	ev := &ChangeEvent{
		Operation: op,
		Payload:   payload,
		Timestamp: ts,
	}

	if op == OpNoop {
		ev.ID = NoopIdentity
		ev.Key = NoopIdentity
		return ev, nil
	}

	key, present := payload[IDField]
	if !present || key == nil {
		return nil, fmt.Errorf("%w: %s without data._id", ErrMalformed, op)
	}
	id, err := IdentityString(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	ev.ID = id
	ev.Key = key

	if op == OpUpdate {
		if _, err := ParseUpdate(payload); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
	}
	return ev, nil
}

func asDocument(v any) (map[string]any, error) {
	switch doc := v.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return doc, nil
	case map[any]any:
		out := make(map[string]any, len(doc))
		for k, val := range doc {
			ks, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("non-string key %v", k)
			}
			out[ks] = val
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected an object, got %T", v)
	}
}

// IdentityString renders a wire identity as the string used for checkpoints.
func IdentityString(v any) (string, error) {
	switch id := v.(type) {
	case string:
		if id == "" {
			return "", errors.New("empty identity")
		}
		return id, nil
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64), nil
	case int64:
		return strconv.FormatInt(id, 10), nil
	case uint64:
		return strconv.FormatUint(id, 10), nil
	case int:
		return strconv.Itoa(id), nil
	case json.Number:
		// integers beyond 64 bits keep their exact digits
		if !strings.ContainsAny(id.String(), ".eE") {
			return id.String(), nil
		}
		f, err := id.Float64()
		if err != nil {
			return "", fmt.Errorf("identity %s: %w", id, err)
		}
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	case fmt.Stringer:
		return id.String(), nil
	default:
		return "", fmt.Errorf("unsupported identity type %T", v)
	}
}

// Reply builds the response to a control request: every field of the
// original message with "data" replaced by result.
func (in *Inbound) Reply(result any) map[string]any {
	out := maps.Clone(in.Raw)
	if out == nil {
		out = map[string]any{"type": string(in.Type)}
	}
	out["data"] = result
	return out
}

// Document returns a shallow copy of the event payload without the identity
// field, which some stores keep outside the document body.
func (ev *ChangeEvent) Document() map[string]any {
	doc := maps.Clone(ev.Payload)
	delete(doc, IDField)
	return doc
}
