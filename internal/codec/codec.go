package codec

import (
	"fmt"
	"io"

	"github.com/surrealdb/surrealmirror/pkg/constants"
)

type Encoder interface {
	Encode(v any) error
}

type Decoder interface {
	Decode(v any) error
}

type Marshaler interface {
	Marshal(v any) ([]byte, error)
	NewEncoder(w io.Writer) Encoder
}

type Unmarshaler interface {
	Unmarshal(data []byte, dst any) error
	NewDecoder(r io.Reader) Decoder
}

// Codec encodes wire messages. Binary reports whether its frames are sent as
// websocket binary messages rather than text messages.
type Codec interface {
	Marshaler
	Unmarshaler
	Name() string
	Binary() bool
}

// Lookup returns the codec registered under name.
func Lookup(name string) (Codec, error) {
	switch name {
	case "", JSONName:
		return JSON(), nil
	case CBORName:
		return CBOR(), nil
	}
	return nil, fmt.Errorf("%w: %q", constants.ErrUnknownCodec, name)
}

// DecodeMessage decodes a wire frame into a generic object.
func DecodeMessage(c Codec, data []byte) (map[string]any, error) {
	var raw map[string]any
	if err := c.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("%s: frame is not an object", c.Name())
	}
	return raw, nil
}
