package types

// Event is one item of the parser's output. The set of implementations is
// closed: TextEvent, ArtifactOpenEvent, ArtifactCloseEvent, ActionOpenEvent,
// ActionUpdateEvent, ActionCloseEvent and ParseErrorEvent.
//
// Consumers are expected to type-switch exhaustively.
type Event interface {
	// Kind returns the event discriminator.
	Kind() EventKind
	// Message returns the message identifier the event belongs to.
	Message() string

	sealed()
}

// EventKind is the discriminator of an Event.
type EventKind string

// Event kind constants.
const (
	EventText          EventKind = "text"
	EventArtifactOpen  EventKind = "artifact_open"
	EventArtifactClose EventKind = "artifact_close"
	EventActionOpen    EventKind = "action_open"
	EventActionUpdate  EventKind = "action_update"
	EventActionClose   EventKind = "action_close"
	EventParseError    EventKind = "parse_error"
)

// TextEvent carries prose found outside any tag.
type TextEvent struct {
	MessageID string `json:"message_id" yaml:"message_id"`
	Text      string `json:"text" yaml:"text"`
}

// ArtifactOpenEvent is emitted once the <boltArtifact ...> start tag is
// fully parsed.
type ArtifactOpenEvent struct {
	MessageID string   `json:"message_id" yaml:"message_id"`
	Artifact  Artifact `json:"artifact" yaml:"artifact"`
}

// ArtifactCloseEvent is emitted on </boltArtifact>.
type ArtifactCloseEvent struct {
	MessageID string   `json:"message_id" yaml:"message_id"`
	Artifact  Artifact `json:"artifact" yaml:"artifact"`
}

// ActionEvent is the payload shared by the three action events.
type ActionEvent struct {
	MessageID string `json:"message_id" yaml:"message_id"`
	// ArtifactID is empty when the action is not wrapped in an artifact.
	ArtifactID string `json:"artifact_id,omitempty" yaml:"artifact_id,omitempty"`
	Action     Action `json:"action" yaml:"action"`
}

// ActionOpenEvent is emitted once the <boltAction ...> start tag, with all
// of its attributes, is parsed. Action.Content is empty.
type ActionOpenEvent struct{ ActionEvent }

// ActionUpdateEvent is emitted each time the content of an open action
// grows. Action.Content holds the content so far.
type ActionUpdateEvent struct{ ActionEvent }

// ActionCloseEvent is emitted on </boltAction> with the final content. Only
// closed actions are eligible for execution.
type ActionCloseEvent struct{ ActionEvent }

// ParseErrorKind classifies malformed input.
type ParseErrorKind string

// Parse error kinds.
const (
	ParseErrorMissingAttribute ParseErrorKind = "missing_attribute"
	ParseErrorUnknownType      ParseErrorKind = "unknown_type"
	ParseErrorNestedArtifact   ParseErrorKind = "nested_artifact"
	ParseErrorUnexpectedClose  ParseErrorKind = "unexpected_close"
)

// ParseErrorEvent reports a rejected tag. The stream continues after it.
type ParseErrorEvent struct {
	MessageID string         `json:"message_id" yaml:"message_id"`
	ErrorKind ParseErrorKind `json:"error_kind" yaml:"error_kind"`
	// Tag is the raw tag text that was rejected.
	Tag string `json:"tag" yaml:"tag"`
	// Detail is a human-readable explanation.
	Detail string `json:"detail" yaml:"detail"`
}

func (e TextEvent) Kind() EventKind          { return EventText }
func (e ArtifactOpenEvent) Kind() EventKind  { return EventArtifactOpen }
func (e ArtifactCloseEvent) Kind() EventKind { return EventArtifactClose }
func (e ActionOpenEvent) Kind() EventKind    { return EventActionOpen }
func (e ActionUpdateEvent) Kind() EventKind  { return EventActionUpdate }
func (e ActionCloseEvent) Kind() EventKind   { return EventActionClose }
func (e ParseErrorEvent) Kind() EventKind    { return EventParseError }

func (e TextEvent) Message() string          { return e.MessageID }
func (e ArtifactOpenEvent) Message() string  { return e.MessageID }
func (e ArtifactCloseEvent) Message() string { return e.MessageID }
func (e ActionEvent) Message() string        { return e.MessageID }
func (e ParseErrorEvent) Message() string    { return e.MessageID }

func (TextEvent) sealed()          {}
func (ArtifactOpenEvent) sealed()  {}
func (ArtifactCloseEvent) sealed() {}
func (ActionOpenEvent) sealed()    {}
func (ActionUpdateEvent) sealed()  {}
func (ActionCloseEvent) sealed()   {}
func (ParseErrorEvent) sealed()    {}

func (e ParseErrorEvent) Error() string {
	return string(e.ErrorKind) + ": " + e.Detail
}
