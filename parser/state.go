package parser

import (
	"fmt"
	"strings"

	"github.com/justapithecus/artificer/types"
)

// messageState is the parse state of one message.
type messageState struct {
	id string

	// buf holds input not yet consumed: a partial tag, or the tail of
	// action content that may be the start of a closing tag.
	buf string

	artifact *types.Artifact
	action   *openAction

	// skipUntil is the closing tag that ends a malformed body.
	skipUntil string

	// dropped counts rejected nested artifact opens whose closing tags
	// must be swallowed before the open artifact can close.
	dropped int

	// Prose whitespace handling.
	pendingSpace string
	trimLeading  bool

	events []types.Event
}

type openAction struct {
	artifactID string
	action     types.Action
	raw        string
	lastSent   string
}

func (s *messageState) emit(ev types.Event) {
	s.events = append(s.events, ev)
}

func (s *messageState) insideTag() bool {
	return s.artifact != nil || s.action != nil || s.skipUntil != "" || strings.HasPrefix(s.buf, "<")
}

// run consumes as much of buf as can be decided.
func (s *messageState) run() {
	for len(s.buf) > 0 {
		var progressed bool
		switch {
		case s.skipUntil != "":
			progressed = s.skip()
		case s.action != nil:
			progressed = s.actionContent()
		default:
			progressed = s.outsideAction()
		}
		if !progressed {
			return
		}
	}
}

// skip discards a malformed body up to and including skipUntil.
func (s *messageState) skip() bool {
	if i := strings.Index(s.buf, s.skipUntil); i >= 0 {
		s.buf = s.buf[i+len(s.skipUntil):]
		s.skipUntil = ""
		s.afterTag()
		return true
	}
	keep := partialSuffix(s.buf, s.skipUntil)
	s.buf = s.buf[len(s.buf)-keep:]
	return false
}

// actionContent accumulates content of the open action until its closing
// tag.
func (s *messageState) actionContent() bool {
	a := s.action
	if i := strings.Index(s.buf, actionClose); i >= 0 {
		a.raw += s.buf[:i]
		s.buf = s.buf[i+len(actionClose):]

		final := a.action
		final.Content = strings.TrimSpace(a.raw)
		s.emit(types.ActionCloseEvent{ActionEvent: types.ActionEvent{
			MessageID:  s.id,
			ArtifactID: a.artifactID,
			Action:     final,
		}})
		s.action = nil
		s.afterTag()
		return true
	}

	keep := partialSuffix(s.buf, actionClose)
	a.raw += s.buf[:len(s.buf)-keep]
	s.buf = s.buf[len(s.buf)-keep:]

	if content := strings.TrimSpace(a.raw); content != a.lastSent {
		a.lastSent = content
		update := a.action
		update.Content = content
		s.emit(types.ActionUpdateEvent{ActionEvent: types.ActionEvent{
			MessageID:  s.id,
			ArtifactID: a.artifactID,
			Action:     update,
		}})
	}
	return false
}

// outsideAction handles prose and tags when no action is open.
func (s *messageState) outsideAction() bool {
	lt := strings.IndexByte(s.buf, '<')
	if lt < 0 {
		s.text(s.buf)
		s.buf = ""
		return false
	}
	if lt > 0 {
		s.text(s.buf[:lt])
		s.buf = s.buf[lt:]
	}

	kind, n := classify(s.buf)
	switch kind {
	case partialTag:
		return false
	case notTag:
		s.text("<")
		s.buf = s.buf[1:]
		return true
	}

	tag := s.buf[:n]
	s.buf = s.buf[n:]
	s.pendingSpace = ""

	switch kind {
	case artifactOpenTag:
		s.openArtifact(tag)
	case actionOpenTag:
		s.openAction(tag)
	case artifactCloseTag:
		s.closeArtifact(tag)
	case actionCloseTag:
		s.parseError(types.ParseErrorUnexpectedClose, tag, "no open action to close")
	}
	s.afterTag()
	return true
}

// end releases a held-back '<' that cannot begin a tag any more because
// the message is over. "<b" or "</bolt" becomes prose. A truncated open
// tag whose name is complete stays pending.
func (s *messageState) end() {
	if s.action != nil || s.skipUntil != "" || !strings.HasPrefix(s.buf, "<") {
		return
	}
	if hasTagName(s.buf, artifactOpenPrefix) || hasTagName(s.buf, actionOpenPrefix) {
		return
	}
	t := s.buf
	s.buf = ""
	s.text(t)
}

func (s *messageState) afterTag() {
	s.pendingSpace = ""
	s.trimLeading = true
}

// text delivers prose. Text inside an artifact but outside an action is
// dropped. Whitespace touching a tag is not prose: leading whitespace after
// a tag is trimmed and trailing whitespace is held until more prose arrives.
func (s *messageState) text(t string) {
	if s.artifact != nil || t == "" {
		return
	}
	if s.trimLeading {
		t = strings.TrimLeft(t, " \t\r\n")
		if t == "" {
			return
		}
		s.trimLeading = false
	}

	body, trailing := splitTrailingSpace(t)
	if body == "" {
		s.pendingSpace += trailing
		return
	}
	s.emit(types.TextEvent{MessageID: s.id, Text: s.pendingSpace + body})
	s.pendingSpace = trailing
}

func (s *messageState) openArtifact(tag string) {
	if s.artifact != nil {
		s.parseError(types.ParseErrorNestedArtifact, tag,
			fmt.Sprintf("artifact %q is already open", s.artifact.ID))
		s.dropped++
		return
	}

	attrs := attributes(tag)
	id, ok := attrs["id"]
	if !ok || id == "" {
		s.parseError(types.ParseErrorMissingAttribute, tag, "artifact requires an id attribute")
		s.skipUntil = artifactClose
		return
	}

	s.artifact = &types.Artifact{ID: id, Title: attrs["title"]}
	s.emit(types.ArtifactOpenEvent{MessageID: s.id, Artifact: *s.artifact})
}

func (s *messageState) closeArtifact(tag string) {
	if s.artifact == nil {
		s.parseError(types.ParseErrorUnexpectedClose, tag, "no open artifact to close")
		return
	}
	if s.dropped > 0 {
		s.dropped--
		return
	}
	s.emit(types.ArtifactCloseEvent{MessageID: s.id, Artifact: *s.artifact})
	s.artifact = nil
}

func (s *messageState) openAction(tag string) {
	attrs := attributes(tag)

	rawType, ok := attrs["type"]
	if !ok {
		s.parseError(types.ParseErrorMissingAttribute, tag, "action requires a type attribute")
		s.skipUntil = actionClose
		return
	}
	actionType, err := types.ParseActionType(rawType)
	if err != nil {
		s.parseError(types.ParseErrorUnknownType, tag, err.Error())
		s.skipUntil = actionClose
		return
	}

	action := types.Action{Type: actionType}
	if actionType == types.ActionTypeFile {
		action.FilePath = attrs["filePath"]
		if action.FilePath == "" {
			s.parseError(types.ParseErrorMissingAttribute, tag, "file action requires a filePath attribute")
			s.skipUntil = actionClose
			return
		}
	}

	var artifactID string
	if s.artifact != nil {
		artifactID = s.artifact.ID
	}
	s.action = &openAction{artifactID: artifactID, action: action}
	s.emit(types.ActionOpenEvent{ActionEvent: types.ActionEvent{
		MessageID:  s.id,
		ArtifactID: artifactID,
		Action:     action,
	}})
}

func (s *messageState) parseError(kind types.ParseErrorKind, tag, detail string) {
	s.emit(types.ParseErrorEvent{MessageID: s.id, ErrorKind: kind, Tag: tag, Detail: detail})
}
