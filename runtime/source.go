package runtime

import (
	"io"
	"unicode/utf8"

	"github.com/justapithecus/artificer/ipc"
	"github.com/justapithecus/artificer/types"
)

// DefaultMessageID names the single message of a raw text source.
const DefaultMessageID = "m1"

// DefaultReadSize is the read size of a text source.
const DefaultReadSize = 4096

// Item is one unit read from a Source: a text delta, the end of a
// message, or both.
type Item struct {
	MessageID string
	Text      string
	// End marks the last item of the message.
	End bool
}

// Source yields stream items in arrival order. Next returns io.EOF once
// the source is exhausted. A non-fatal *ipc.FrameError spoils one item
// only and reading may continue.
type Source interface {
	Next() (Item, error)
}

// TextSource reads raw model output as a single message. Each read becomes
// one delta; a UTF-8 sequence split across reads is held back until it is
// complete.
type TextSource struct {
	r         io.Reader
	messageID string
	buf       []byte
	carry     []byte
	ended     bool
}

// NewTextSource creates a text source. readSize <= 0 selects
// DefaultReadSize; an empty messageID selects DefaultMessageID.
func NewTextSource(r io.Reader, messageID string, readSize int) *TextSource {
	if readSize <= 0 {
		readSize = DefaultReadSize
	}
	if messageID == "" {
		messageID = DefaultMessageID
	}
	return &TextSource{r: r, messageID: messageID, buf: make([]byte, readSize)}
}

// Next returns the next delta. The message end is reported once, on the
// item following the last delta.
func (s *TextSource) Next() (Item, error) {
	if s.ended {
		return Item{}, io.EOF
	}
	for {
		n, err := s.r.Read(s.buf)
		if n > 0 {
			data := append(s.carry, s.buf[:n]...)
			cut := len(data) - incompleteSuffix(data)
			s.carry = append([]byte(nil), data[cut:]...)
			if cut > 0 {
				return Item{MessageID: s.messageID, Text: string(data[:cut])}, nil
			}
		}
		if err == io.EOF {
			s.ended = true
			// A dangling partial rune is passed through as is.
			return Item{MessageID: s.messageID, Text: string(s.carry), End: true}, nil
		}
		if err != nil {
			return Item{}, err
		}
	}
}

// incompleteSuffix returns the length of a trailing, not yet complete
// UTF-8 sequence.
func incompleteSuffix(b []byte) int {
	for i := 1; i <= utf8.UTFMax && i <= len(b); i++ {
		c := b[len(b)-i]
		if !utf8.RuneStart(c) {
			continue
		}
		if utf8.FullRune(b[len(b)-i:]) {
			return 0
		}
		return i
	}
	return 0
}

// FrameSource reads recorded or relayed ipc frames. It may carry many
// messages.
type FrameSource struct {
	reader *ipc.StreamReader
}

// NewFrameSource creates a frame source over r.
func NewFrameSource(r io.Reader) *FrameSource {
	return &FrameSource{reader: ipc.NewStreamReader(r)}
}

// Next returns the next chunk or end frame as an Item.
func (s *FrameSource) Next() (Item, error) {
	frame, err := s.reader.Next()
	if err != nil {
		return Item{}, err
	}
	switch f := frame.(type) {
	case *types.ChunkFrame:
		return Item{MessageID: f.MessageID, Text: f.Text}, nil
	case *types.EndFrame:
		return Item{MessageID: f.MessageID, End: true}, nil
	}
	return Item{}, &ipc.FrameError{Kind: ipc.FrameErrorDecode, Msg: "unexpected frame"}
}
