// Package protocol implements the hal envelope, the unit written in one
// direction on the daemon socket.
//
// An envelope is a request id followed by a tagged payload. There is no magic,
// no version and no length prefix: the size of every variant is known
// statically, so the reader must know which direction it is decoding and reads
// exactly one envelope worth of bytes.
//
//	0                8               12     13
//	┌────────────────┬───────────────┬──────┐
//	│       id       │ discriminant  │ u8?  │
//	│     uint64     │    uint32     │      │
//	└────────────────┴───────────────┴──────┘
//
// Integers use the codec's byte order, host-native unless configured otherwise.
package protocol

import (
	"errors"
	"fmt"
	"io"

	"hal-rpc/codec"
	"hal-rpc/message"
)

// MaxEnvelopeSize is the largest envelope in either direction.
const MaxEnvelopeSize = codec.IDSize + 5

// OutboundEnvelope is a request travelling from client to daemon.
type OutboundEnvelope struct {
	ID      uint64
	Request message.Request
}

// Size returns the encoded length of the envelope.
func (e *OutboundEnvelope) Size() int {
	return codec.IDSize + e.Request.Size()
}

// InboundEnvelope is a response travelling from daemon to client.
type InboundEnvelope struct {
	ID       uint64
	Response message.Response
}

// Size returns the encoded length of the envelope.
func (e *InboundEnvelope) Size() int {
	return codec.IDSize + e.Response.Size()
}

// EncodeOutbound writes env to w with a single Write call.
// The caller must hold a write lock if several goroutines share w, otherwise
// envelopes interleave and the daemon loses track of boundaries.
func EncodeOutbound(w io.Writer, c codec.Codec, env *OutboundEnvelope) error {
	buf := make([]byte, 0, MaxEnvelopeSize)
	buf = c.AppendID(buf, env.ID)
	buf, err := c.AppendRequest(buf, env.Request)
	if err != nil {
		return fmt.Errorf("protocol: encode #%d: %w", env.ID, err)
	}
	return writeFull(w, buf)
}

// EncodeInbound writes env to w with a single Write call.
func EncodeInbound(w io.Writer, c codec.Codec, env *InboundEnvelope) error {
	buf := make([]byte, 0, MaxEnvelopeSize)
	buf = c.AppendID(buf, env.ID)
	buf, err := c.AppendResponse(buf, env.Response)
	if err != nil {
		return fmt.Errorf("protocol: encode #%d: %w", env.ID, err)
	}
	return writeFull(w, buf)
}

// DecodeOutbound reads exactly one OutboundEnvelope from r.
// It returns io.EOF untouched when r ends cleanly between envelopes.
func DecodeOutbound(r io.Reader, c codec.Codec) (*OutboundEnvelope, error) {
	id, err := c.ReadID(r)
	if err != nil {
		return nil, idError(err)
	}
	req, err := c.ReadRequest(r)
	if err != nil {
		return nil, payloadError(id, err)
	}
	return &OutboundEnvelope{ID: id, Request: req}, nil
}

// DecodeInbound reads exactly one InboundEnvelope from r.
// It returns io.EOF untouched when r ends cleanly between envelopes.
func DecodeInbound(r io.Reader, c codec.Codec) (*InboundEnvelope, error) {
	id, err := c.ReadID(r)
	if err != nil {
		return nil, idError(err)
	}
	resp, err := c.ReadResponse(r)
	if err != nil {
		return nil, payloadError(id, err)
	}
	return &InboundEnvelope{ID: id, Response: resp}, nil
}

func idError(err error) error {
	if errors.Is(err, io.EOF) {
		return io.EOF
	}
	return fmt.Errorf("protocol: decode id: %w", err)
}

func payloadError(id uint64, err error) error {
	// the id is consumed, so even a clean EOF here cuts an envelope in half
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return fmt.Errorf("protocol: decode #%d: %w", id, err)
}

func writeFull(w io.Writer, buf []byte) error {
	n, err := w.Write(buf)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return io.ErrShortWrite
	}
	return nil
}
