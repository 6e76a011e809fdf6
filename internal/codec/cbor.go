// Package codec encodes ledger objects with deterministic CBOR so the same
// registry state always produces the same bytes (and the same object hash).
package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var (
	// encMode uses Core Deterministic Encoding (RFC 8949 §4.2):
	// sorted map keys, smallest integer encoding, no indefinite lengths.
	encMode cbor.EncMode

	// decMode accepts standard CBOR and ignores unknown fields.
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to deterministic CBOR.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}
