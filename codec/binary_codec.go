package codec

import (
	"encoding/binary"
	"fmt"
	"io"

	"hal-rpc/message"
)

const discriminantSize = 4

// BinaryCodec lays values out back to back with no padding:
//
//	id:      8 bytes
//	variant: 4-byte discriminant, then 1 byte of payload for u8 variants
type BinaryCodec struct {
	order byteOrder
	kind  ByteOrder
}

// byteOrder is satisfied by binary.LittleEndian, BigEndian and NativeEndian.
type byteOrder interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

func newBinaryCodec(kind ByteOrder) *BinaryCodec {
	c := &BinaryCodec{kind: kind}
	switch kind {
	case ByteOrderLittle:
		c.order = binary.LittleEndian
	case ByteOrderBig:
		c.order = binary.BigEndian
	default:
		c.kind = ByteOrderNative
		c.order = binary.NativeEndian
	}
	return c
}

func (c *BinaryCodec) Order() ByteOrder {
	return c.kind
}

func (c *BinaryCodec) AppendID(dst []byte, id uint64) []byte {
	return c.order.AppendUint64(dst, id)
}

func (c *BinaryCodec) AppendRequest(dst []byte, req message.Request) ([]byte, error) {
	if !req.Kind.Valid() {
		return dst, fmt.Errorf("%w: request discriminant %d", ErrUnknownVariant, uint32(req.Kind))
	}
	dst = c.order.AppendUint32(dst, uint32(req.Kind))
	if req.Kind.HasPayload() {
		dst = append(dst, req.Value)
	}
	return dst, nil
}

func (c *BinaryCodec) AppendResponse(dst []byte, resp message.Response) ([]byte, error) {
	if !resp.Kind.Valid() {
		return dst, fmt.Errorf("%w: response discriminant %d", ErrUnknownVariant, uint32(resp.Kind))
	}
	dst = c.order.AppendUint32(dst, uint32(resp.Kind))
	if resp.Kind.HasPayload() {
		dst = append(dst, resp.Value)
	}
	return dst, nil
}

func (c *BinaryCodec) ReadID(r io.Reader) (uint64, error) {
	var buf [IDSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return c.order.Uint64(buf[:]), nil
}

func (c *BinaryCodec) ReadRequest(r io.Reader) (message.Request, error) {
	disc, err := c.readDiscriminant(r)
	if err != nil {
		return message.Request{}, err
	}
	req := message.Request{Kind: message.RequestKind(disc)}
	if !req.Kind.Valid() {
		return message.Request{}, fmt.Errorf("%w: request discriminant %d", ErrUnknownVariant, disc)
	}
	if req.Kind.HasPayload() {
		if req.Value, err = readByte(r); err != nil {
			return message.Request{}, err
		}
	}
	return req, nil
}

func (c *BinaryCodec) ReadResponse(r io.Reader) (message.Response, error) {
	disc, err := c.readDiscriminant(r)
	if err != nil {
		return message.Response{}, err
	}
	resp := message.Response{Kind: message.ResponseKind(disc)}
	if !resp.Kind.Valid() {
		return message.Response{}, fmt.Errorf("%w: response discriminant %d", ErrUnknownVariant, disc)
	}
	if resp.Kind.HasPayload() {
		if resp.Value, err = readByte(r); err != nil {
			return message.Response{}, err
		}
	}
	return resp, nil
}

func (c *BinaryCodec) readDiscriminant(r io.Reader) (uint32, error) {
	var buf [discriminantSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return c.order.Uint32(buf[:]), nil
}

func readByte(r io.Reader) (byte, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		// the discriminant was read, so a missing payload is always a short read
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return 0, err
	}
	return buf[0], nil
}
