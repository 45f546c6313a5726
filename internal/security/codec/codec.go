// Package codec is the wire codec collaborator of the security core.
//
// The core only needs a canonical, deterministic byte encoding of its wire
// structures: the bytes feed hashes directly, so two encoders producing
// different bytes for the same value would break every signature. This
// implementation uses CBOR core deterministic encoding (RFC 8949 §4.2) with
// array-encoded structs; a COER codec can replace it behind the same two
// functions.
package codec

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var ErrDecode = errors.New("codec: decode")

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyEnforcedAPF,
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// Marshal encodes v canonically.
func Marshal(v any) ([]byte, error) {
	b, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec: encode %T: %w", v, err)
	}
	return b, nil
}

// Unmarshal decodes data into v. Trailing bytes are rejected.
func Unmarshal(data []byte, v any) error {
	rest, err := decMode.UnmarshalFirst(data, v)
	if err != nil {
		return fmt.Errorf("%w %T: %v", ErrDecode, v, err)
	}
	if len(rest) != 0 {
		return fmt.Errorf("%w %T: %d trailing bytes", ErrDecode, v, len(rest))
	}
	return nil
}
