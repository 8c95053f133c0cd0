package models

import "fmt"

// MessageType is the value of the "type" field of every wire message.
type MessageType string

// Mutation operations.
const (
	OpUpsert MessageType = "upsert"
	OpUpdate MessageType = "update"
	OpDelete MessageType = "delete"
	OpNoop   MessageType = "noop"
)

// Control requests.
const (
	RequestProtocol          MessageType = "protocol-request"
	RequestTimestamp         MessageType = "timestamp-request"
	RequestInitialPoint      MessageType = "init-point-request"
	RequestIDsSinceTimestamp MessageType = "ids-since-timestamp-request"
)

// IsMutation reports whether t is one of the four mutation operations.
func (t MessageType) IsMutation() bool {
	switch t {
	case OpUpsert, OpUpdate, OpDelete, OpNoop:
		return true
	}
	return false
}

// IsRequest reports whether t is one of the four control requests.
func (t MessageType) IsRequest() bool {
	switch t {
	case RequestProtocol, RequestTimestamp, RequestInitialPoint, RequestIDsSinceTimestamp:
		return true
	}
	return false
}

// ProtocolKind is the capability tier a backend implements.
type ProtocolKind int

const (
	ProtocolReduced ProtocolKind = iota + 1
	ProtocolFull
)

// String returns the name the mirror expects in a protocol-request reply.
// The reduced tier is called "simple" on the wire.
func (p ProtocolKind) String() string {
	switch p {
	case ProtocolReduced:
		return "simple"
	case ProtocolFull:
		return "full"
	default:
		return "unknown"
	}
}

// Supports reports whether a backend of this tier must answer t.
func (p ProtocolKind) Supports(t MessageType) bool {
	switch t {
	case RequestProtocol, RequestInitialPoint, RequestTimestamp, OpUpsert, OpNoop:
		return p == ProtocolReduced || p == ProtocolFull
	case OpUpdate, OpDelete, RequestIDsSinceTimestamp:
		return p == ProtocolFull
	}
	return false
}

// ParseProtocolKind accepts both the wire names and the descriptive names.
func ParseProtocolKind(s string) (ProtocolKind, error) {
	switch s {
	case "simple", "reduced":
		return ProtocolReduced, nil
	case "full":
		return ProtocolFull, nil
	}
	return 0, fmt.Errorf("unknown protocol %q", s)
}

// NoopIdentity is the checkpoint identity under which heartbeats are recorded.
const NoopIdentity = "noop"

// IDField is the payload field carrying a record's identity.
const IDField = "_id"
