package codec

import (
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

const CBORName = "cbor"

type cborCodec struct {
	em cbor.EncMode
	dm cbor.DecMode
}

// CBOR returns the binary-frame codec. Maps decode as map[string]any so that
// messages look the same regardless of the codec that carried them.
func CBOR() Codec {
	em, err := cbor.EncOptions{
		Time: cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(err)
	}

	dm, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(err)
	}

	return &cborCodec{em: em, dm: dm}
}

func (c *cborCodec) Name() string { return CBORName }

func (c *cborCodec) Binary() bool { return true }

func (c *cborCodec) Marshal(v any) ([]byte, error) {
	return c.em.Marshal(v)
}

func (c *cborCodec) NewEncoder(w io.Writer) Encoder {
	return c.em.NewEncoder(w)
}

func (c *cborCodec) Unmarshal(data []byte, dst any) error {
	return c.dm.Unmarshal(data, dst)
}

func (c *cborCodec) NewDecoder(r io.Reader) Decoder {
	return c.dm.NewDecoder(r)
}
