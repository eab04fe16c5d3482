// Package ipc implements the length-prefixed msgpack framing used to
// record and relay model output streams.
//
// A frame is a 4-byte big-endian payload length followed by a msgpack map
// with a "type" discriminant: "chunk" carries one text delta, "end" closes
// a message.
package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/justapithecus/artificer/types"
)

const (
	// LengthPrefixSize is the size of the big-endian length prefix.
	LengthPrefixSize = 4
	// MaxFrameSize bounds a whole frame, prefix included (16 MiB).
	MaxFrameSize = 16 << 20
	// MaxPayloadSize bounds the msgpack body of one frame.
	MaxPayloadSize = MaxFrameSize - LengthPrefixSize
)

// FrameErrorKind classifies frame errors.
type FrameErrorKind int

const (
	// FrameErrorPartial is a frame cut short by the end of the stream.
	FrameErrorPartial FrameErrorKind = iota
	// FrameErrorTooLarge is a length prefix above MaxPayloadSize.
	FrameErrorTooLarge
	// FrameErrorDecode is an undecodable payload or unknown frame type.
	FrameErrorDecode
	// FrameErrorSequence is a chunk out of order or after its end frame.
	FrameErrorSequence
)

var frameErrorKindNames = [...]string{
	FrameErrorPartial:  "partial",
	FrameErrorTooLarge: "too_large",
	FrameErrorDecode:   "decode",
	FrameErrorSequence: "sequence",
}

func (k FrameErrorKind) String() string {
	if k >= 0 && int(k) < len(frameErrorKindNames) {
		return frameErrorKindNames[k]
	}
	return fmt.Sprintf("FrameErrorKind(%d)", int(k))
}

// FrameError is a framing or decoding failure.
type FrameError struct {
	Kind FrameErrorKind
	Msg  string
	Err  error
}

func newFrameError(kind FrameErrorKind, cause error, format string, args ...any) *FrameError {
	return &FrameError{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: cause}
}

func (e *FrameError) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	return e.Msg + ": " + e.Err.Error()
}

func (e *FrameError) Unwrap() error { return e.Err }

// IsFatal reports whether the stream cannot continue after this error.
// Partial and oversized frames leave the reader misaligned; a bad payload
// or sequence only spoils one frame.
func (e *FrameError) IsFatal() bool {
	switch e.Kind {
	case FrameErrorPartial, FrameErrorTooLarge:
		return true
	}
	return false
}

// IsFatalFrameError reports whether err carries a fatal *FrameError.
func IsFatalFrameError(err error) bool {
	var fe *FrameError
	return errors.As(err, &fe) && fe.IsFatal()
}

// FrameDecoder splits a byte stream into frame payloads.
type FrameDecoder struct {
	r      io.Reader
	prefix [LengthPrefixSize]byte
}

// NewFrameDecoder returns a decoder reading from r.
func NewFrameDecoder(r io.Reader) *FrameDecoder {
	return &FrameDecoder{r: r}
}

// ReadFrame returns the next raw payload. It returns io.EOF only when the
// stream ends exactly on a frame boundary.
func (d *FrameDecoder) ReadFrame() ([]byte, error) {
	switch _, err := io.ReadFull(d.r, d.prefix[:]); {
	case err == io.EOF:
		return nil, io.EOF
	case err != nil:
		return nil, newFrameError(FrameErrorPartial, err, "failed to read length prefix")
	}

	n := binary.BigEndian.Uint32(d.prefix[:])
	if n > MaxPayloadSize {
		return nil, newFrameError(FrameErrorTooLarge, nil, "payload size %d exceeds maximum %d", n, MaxPayloadSize)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(d.r, payload); err != nil {
		return nil, newFrameError(FrameErrorPartial, err, "failed to read payload")
	}
	return payload, nil
}

// frameTypes maps the "type" discriminant to a constructor for its frame.
var frameTypes = map[string]func() any{
	types.ChunkFrameType: func() any { return new(types.ChunkFrame) },
	types.EndFrameType:   func() any { return new(types.EndFrame) },
}

// DecodeFrame decodes a payload into *types.ChunkFrame or *types.EndFrame.
func DecodeFrame(payload []byte) (any, error) {
	var probe struct {
		Type string `msgpack:"type"`
	}
	if err := msgpack.Unmarshal(payload, &probe); err != nil {
		return nil, newFrameError(FrameErrorDecode, err, "failed to decode frame type")
	}

	alloc, ok := frameTypes[probe.Type]
	if !ok {
		return nil, newFrameError(FrameErrorDecode, nil, "unknown frame type %q", probe.Type)
	}
	frame := alloc()
	if err := msgpack.Unmarshal(payload, frame); err != nil {
		return nil, newFrameError(FrameErrorDecode, err, "failed to decode %s frame", probe.Type)
	}
	return frame, nil
}

// FrameEncoder writes length-prefixed msgpack frames. It reuses one buffer
// across writes and is not safe for concurrent use.
type FrameEncoder struct {
	w   io.Writer
	buf []byte
}

// NewFrameEncoder returns an encoder writing to w.
func NewFrameEncoder(w io.Writer) *FrameEncoder {
	return &FrameEncoder{w: w}
}

// WriteFrame encodes v with msgpack and writes it as one frame with a
// single Write call.
func (e *FrameEncoder) WriteFrame(v any) error {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if len(payload) > MaxPayloadSize {
		return newFrameError(FrameErrorTooLarge, nil, "payload size %d exceeds maximum %d", len(payload), MaxPayloadSize)
	}

	e.buf = binary.BigEndian.AppendUint32(e.buf[:0], uint32(len(payload)))
	e.buf = append(e.buf, payload...)
	if _, err := e.w.Write(e.buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}
