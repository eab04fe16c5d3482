package ipc

import (
	"fmt"
	"io"

	"github.com/justapithecus/artificer/types"
)

// StreamReader decodes frames and enforces per-message ordering: chunk seq
// numbers start at 1 and increase by one, and nothing follows an end frame
// for the same message.
type StreamReader struct {
	dec   *FrameDecoder
	seq   map[string]int64
	ended map[string]bool
}

// NewStreamReader creates a StreamReader over r.
func NewStreamReader(r io.Reader) *StreamReader {
	return &StreamReader{
		dec:   NewFrameDecoder(r),
		seq:   make(map[string]int64),
		ended: make(map[string]bool),
	}
}

// Next returns the next *types.ChunkFrame or *types.EndFrame.
//
// A non-fatal *FrameError spoils only the current frame and the caller may
// keep reading. io.EOF is returned on a clean end of stream.
func (s *StreamReader) Next() (any, error) {
	payload, err := s.dec.ReadFrame()
	if err != nil {
		return nil, err
	}
	frame, err := DecodeFrame(payload)
	if err != nil {
		return nil, err
	}

	switch f := frame.(type) {
	case *types.ChunkFrame:
		if s.ended[f.MessageID] {
			return nil, &FrameError{
				Kind: FrameErrorSequence,
				Msg:  fmt.Sprintf("chunk after end for message %q", f.MessageID),
			}
		}
		if want := s.seq[f.MessageID] + 1; f.Seq != want {
			return nil, &FrameError{
				Kind: FrameErrorSequence,
				Msg:  fmt.Sprintf("message %q: expected seq %d, got %d", f.MessageID, want, f.Seq),
			}
		}
		s.seq[f.MessageID] = f.Seq
	case *types.EndFrame:
		if s.ended[f.MessageID] {
			return nil, &FrameError{
				Kind: FrameErrorSequence,
				Msg:  fmt.Sprintf("duplicate end for message %q", f.MessageID),
			}
		}
		s.ended[f.MessageID] = true
		delete(s.seq, f.MessageID)
	}
	return frame, nil
}

// StreamWriter records a stream as frames, numbering chunks per message.
type StreamWriter struct {
	enc *FrameEncoder
	seq map[string]int64
}

// NewStreamWriter creates a StreamWriter over w.
func NewStreamWriter(w io.Writer) *StreamWriter {
	return &StreamWriter{enc: NewFrameEncoder(w), seq: make(map[string]int64)}
}

// WriteChunk writes one text delta for messageID.
func (s *StreamWriter) WriteChunk(messageID, text string) error {
	next := s.seq[messageID] + 1
	if err := s.enc.WriteFrame(types.NewChunkFrame(messageID, next, text)); err != nil {
		return err
	}
	s.seq[messageID] = next
	return nil
}

// WriteEnd closes messageID.
func (s *StreamWriter) WriteEnd(messageID string) error {
	delete(s.seq, messageID)
	return s.enc.WriteFrame(types.NewEndFrame(messageID))
}
