// Package codec encodes the fixed-size pieces of a hal envelope: the request id,
// the variant discriminant and the variant payload.
//
// Nothing on the wire is length-prefixed. A reader must know which union it is
// decoding and consumes exactly the bytes of one value, so the stream is left at
// the start of the next one.
package codec

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"hal-rpc/message"
)

// ErrUnknownVariant is returned when a discriminant names no known variant.
var ErrUnknownVariant = errors.New("codec: unknown variant")

// ByteOrder selects how multi-byte integers are laid out.
type ByteOrder byte

const (
	// ByteOrderNative follows the host. Client and daemon share a machine, so
	// this is the default and what existing daemons speak.
	ByteOrderNative ByteOrder = 0
	ByteOrderLittle ByteOrder = 1
	ByteOrderBig    ByteOrder = 2
)

func (o ByteOrder) String() string {
	switch o {
	case ByteOrderNative:
		return "native"
	case ByteOrderLittle:
		return "little"
	case ByteOrderBig:
		return "big"
	}
	return fmt.Sprintf("ByteOrder(%d)", byte(o))
}

// ParseByteOrder accepts "native", "little" or "big". The empty string is native.
func ParseByteOrder(s string) (ByteOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "native":
		return ByteOrderNative, nil
	case "little", "le":
		return ByteOrderLittle, nil
	case "big", "be":
		return ByteOrderBig, nil
	}
	return 0, fmt.Errorf("codec: unknown byte order %q", s)
}

// Codec reads and appends the primitive parts of an envelope.
type Codec interface {
	AppendID(dst []byte, id uint64) []byte
	AppendRequest(dst []byte, req message.Request) ([]byte, error)
	AppendResponse(dst []byte, resp message.Response) ([]byte, error)

	ReadID(r io.Reader) (uint64, error)
	ReadRequest(r io.Reader) (message.Request, error)
	ReadResponse(r io.Reader) (message.Response, error)

	Order() ByteOrder
}

// IDSize is the encoded length of a request id.
const IDSize = 8

// GetCodec returns the codec for the given byte order.
func GetCodec(order ByteOrder) Codec {
	return newBinaryCodec(order)
}
