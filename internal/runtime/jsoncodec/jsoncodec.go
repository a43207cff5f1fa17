// Package jsoncodec encodes the payloads resflow exchanges with the gateway:
// request bodies, replies, events and the status API.
//
// Everything goes through one frozen sonic configuration. Map keys are sorted
// so identical events produce identical frames, and HTML characters are left
// alone since nothing on the wire is rendered by a browser.
package jsoncodec

import (
	"io"

	"github.com/bytedance/sonic"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

var wire = sonic.Config{
	SortMapKeys:      true,
	CompactMarshaler: true,
	CopyString:       true,
	ValidateString:   true,
}.Froze()

var (
	protoOut = protojson.MarshalOptions{EmitUnpopulated: true}
	// Gateways may add fields the handler's message type predates.
	protoIn = protojson.UnmarshalOptions{DiscardUnknown: true}
)

func Marshal(v any) ([]byte, error) { return wire.Marshal(v) }

func Unmarshal(data []byte, v any) error { return wire.Unmarshal(data, v) }

// MarshalIndent is used for the human facing status endpoints.
func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return wire.MarshalIndent(v, prefix, indent)
}

// Encode writes v to w followed by a newline.
func Encode(w io.Writer, v any) error { return wire.NewEncoder(w).Encode(v) }

// Decode reads one JSON document from r into v. The decoder buffers ahead,
// so input after the first value is consumed and lost; read streams of values
// with NewDecoder.
func Decode(r io.Reader, v any) error { return wire.NewDecoder(r).Decode(v) }

// NewEncoder returns an encoder writing successive values to w.
func NewEncoder(w io.Writer) sonic.Encoder { return wire.NewEncoder(w) }

// NewDecoder returns a decoder reading successive values from r.
func NewDecoder(r io.Reader) sonic.Decoder { return wire.NewDecoder(r) }

// MarshalValue encodes a model, collection, call result or event payload.
// Proto messages keep their protojson field names and well known type
// encodings; every other value is encoded with Marshal.
func MarshalValue(v any) ([]byte, error) {
	m, ok := v.(proto.Message)
	if !ok {
		return Marshal(v)
	}
	return protoOut.Marshal(m)
}

// UnmarshalValue decodes request params and resolved values, honouring the
// same proto split as MarshalValue.
func UnmarshalValue(data []byte, v any) error {
	m, ok := v.(proto.Message)
	if !ok {
		return Unmarshal(data, v)
	}
	return protoIn.Unmarshal(data, m)
}
