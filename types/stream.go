package types

// Frame type discriminants for recorded or relayed streams.
const (
	// ChunkFrameType carries one text delta.
	ChunkFrameType = "chunk"
	// EndFrameType marks the end of one message.
	EndFrameType = "end"
)

// Chunk is an opaque text fragment belonging to a message. Arrival order
// for a given message id is total and single-producer.
type Chunk struct {
	MessageID string
	Text      string
}

// ChunkFrame is the wire form of a Chunk.
// Field tags match the frame contract used by recorders and relays.
type ChunkFrame struct {
	// Type must be "chunk".
	Type string `msgpack:"type"`
	// ContractVersion is the frame contract version.
	ContractVersion string `msgpack:"contract_version"`
	// MessageID identifies the message the text belongs to.
	MessageID string `msgpack:"message_id"`
	// Seq is the per-message sequence number, starting at 1.
	Seq int64 `msgpack:"seq"`
	// Text is the delta.
	Text string `msgpack:"text"`
}

// EndFrame marks the end of a message. After it no more chunk frames for
// the same message id are expected.
type EndFrame struct {
	// Type must be "end".
	Type string `msgpack:"type"`
	// ContractVersion is the frame contract version.
	ContractVersion string `msgpack:"contract_version"`
	// MessageID identifies the finished message.
	MessageID string `msgpack:"message_id"`
}

// NewChunkFrame builds a chunk frame stamped with ContractVersion.
func NewChunkFrame(messageID string, seq int64, text string) *ChunkFrame {
	return &ChunkFrame{
		Type:            ChunkFrameType,
		ContractVersion: ContractVersion,
		MessageID:       messageID,
		Seq:             seq,
		Text:            text,
	}
}

// NewEndFrame builds an end frame stamped with ContractVersion.
func NewEndFrame(messageID string) *EndFrame {
	return &EndFrame{
		Type:            EndFrameType,
		ContractVersion: ContractVersion,
		MessageID:       messageID,
	}
}

// Chunk converts the frame to its in-process form.
func (f *ChunkFrame) Chunk() Chunk {
	return Chunk{MessageID: f.MessageID, Text: f.Text}
}
