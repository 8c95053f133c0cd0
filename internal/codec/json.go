package codec

import (
	"bytes"
	"errors"
	"io"

	"github.com/goccy/go-json"
)

const JSONName = "json"

type jsonCodec struct{}

// JSON returns the text-frame codec. Numbers decode exactly: integers as
// int64 or uint64, like the CBOR codec, and other numbers as float64.
// Generic destinations are converted; json.Number values nested inside
// structs are left for the caller to pass through NormalizeNumbers.
func JSON() Codec {
	return jsonCodec{}
}

func (jsonCodec) Name() string { return JSONName }

func (jsonCodec) Binary() bool { return false }

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) NewEncoder(w io.Writer) Encoder {
	return json.NewEncoder(w)
}

func (jsonCodec) Unmarshal(data []byte, dst any) error {
	dec := newNumberDecoder(bytes.NewReader(data))
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("json: trailing data after value")
	}
	return nil
}

func (jsonCodec) NewDecoder(r io.Reader) Decoder {
	return newNumberDecoder(r)
}

type numberDecoder struct {
	*json.Decoder
}

func newNumberDecoder(r io.Reader) *numberDecoder {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	return &numberDecoder{Decoder: dec}
}

func (d *numberDecoder) Decode(v any) error {
	if err := d.Decoder.Decode(v); err != nil {
		return err
	}
	normalizeInto(v)
	return nil
}
