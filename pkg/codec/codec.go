// Package codec encodes MAL message bodies. A body is an ordered list of
// elements; the default Codec writes it as a deterministic CBOR array.
package codec

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Errors
var (
	ErrElementCount = errors.New("body element count mismatch")
	ErrBadEncoding  = errors.New("body cannot be decoded")
)

// Codec encodes and decodes the elements of a message body.
type Codec interface {
	// Encode returns the body holding elements in order.
	Encode(elements ...any) ([]byte, error)
	// Decode fills targets, which must be pointers, from body.
	Decode(body []byte, targets ...any) error
	// Count returns the number of elements in body.
	Count(body []byte) (int, error)
}

// CBOR is a Codec using core deterministic CBOR.
type CBOR struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// NewCBOR returns a CBOR codec. Encoding is deterministic so equal
// bodies always produce equal bytes.
func NewCBOR() (*CBOR, error) {
	encOptions := cbor.CoreDetEncOptions()
	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	enc, err := encOptions.EncMode()
	if err != nil {
		return nil, fmt.Errorf("codec: CBOR encoder initialization failed: %w", err)
	}
	dec, err := cbor.DecOptions{
		DefaultMapType:  reflect.TypeOf(map[string]any(nil)),
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("codec: CBOR decoder initialization failed: %w", err)
	}
	return &CBOR{enc: enc, dec: dec}, nil
}

var defaultCBOR = func() *CBOR {
	c, err := NewCBOR()
	if err != nil {
		panic(err.Error())
	}
	return c
}()

// Default returns the shared CBOR codec.
func Default() *CBOR { return defaultCBOR }

// Encode returns elements as a CBOR array.
func (c *CBOR) Encode(elements ...any) ([]byte, error) {
	if elements == nil {
		elements = []any{}
	}
	return c.enc.Marshal(elements)
}

// Decode unmarshals each array entry into the matching target.
func (c *CBOR) Decode(body []byte, targets ...any) error {
	var raw []cbor.RawMessage
	if err := c.dec.Unmarshal(body, &raw); err != nil {
		return fmt.Errorf("%w: %w", ErrBadEncoding, err)
	}
	if len(raw) != len(targets) {
		return fmt.Errorf("%w: body has %d, want %d", ErrElementCount, len(raw), len(targets))
	}
	for i, r := range raw {
		if err := c.dec.Unmarshal(r, targets[i]); err != nil {
			return fmt.Errorf("%w: element %d: %w", ErrBadEncoding, i, err)
		}
	}
	return nil
}

// Count returns the array length of body.
func (c *CBOR) Count(body []byte) (int, error) {
	var raw []cbor.RawMessage
	if err := c.dec.Unmarshal(body, &raw); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrBadEncoding, err)
	}
	return len(raw), nil
}

// Diagnose renders body in CBOR diagnostic notation for logs and the CLI.
func Diagnose(body []byte) (string, error) {
	return cbor.Diagnose(body)
}
