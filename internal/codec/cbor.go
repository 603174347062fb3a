package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// encMode and decMode are built once; options are fixed for the process.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	// Core Deterministic Encoding sorts map keys and picks the shortest
	// form, so equal snapshots produce identical bytes and digests.
	encOptions := cbor.CoreDetEncOptions()
	// Oids have unexported fields and would encode as empty maps; as
	// TextMarshalers they travel as text strings instead.
	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Only applies to any-typed targets: maps come back as
		// map[string]any, not map[any]any, which encoding/json rejects.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		// Mirrors TextMarshalerTextString so Oids decode from text.
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
		// Invalid text is corruption. Encoders upstream refuse to write it.
		UTF8: cbor.UTF8RejectInvalid,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// RawMessage is a raw encoded CBOR value used to delay decoding of a
// payload until its kind is known.
type RawMessage = cbor.RawMessage
