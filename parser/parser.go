// Package parser implements the streaming parser for <boltArtifact> and
// <boltAction> tags embedded in model output.
//
// A Parser keeps one state per message id. Parse consumes a text delta and
// returns the events it produced, synchronously and in order. Malformed
// input never causes an error: the offending tag is reported as a
// types.ParseErrorEvent and parsing continues.
package parser

import (
	"sort"
	"strings"
	"sync"

	"github.com/justapithecus/artificer/types"
)

// Option configures a Parser.
type Option func(*Parser)

// WithSink delivers every event to fn as well, in the order Parse returns
// them. fn is called after the parser lock is released.
func WithSink(fn func(types.Event)) Option {
	return func(p *Parser) { p.sink = fn }
}

// Parser is safe for concurrent use across distinct message ids. Calls for
// the same message id must come from a single producer.
type Parser struct {
	mu       sync.Mutex
	messages map[string]*messageState
	sink     func(types.Event)
}

// New creates a Parser.
func New(opts ...Option) *Parser {
	p := &Parser{messages: make(map[string]*messageState)}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse advances the state of messageID by delta and returns the events
// produced. State for a message is created on its first chunk.
func (p *Parser) Parse(messageID, delta string) []types.Event {
	p.mu.Lock()
	st, ok := p.messages[messageID]
	if !ok {
		st = &messageState{id: messageID, trimLeading: true}
		p.messages[messageID] = st
	}
	st.buf += delta
	st.run()
	return p.drain(st)
}

// End marks the end of messageID's stream. A trailing '<' fragment that
// never became a tag is released as prose. State is kept so that Pending
// still reports what was left open; call Forget to drop it.
func (p *Parser) End(messageID string) []types.Event {
	p.mu.Lock()
	st, ok := p.messages[messageID]
	if !ok {
		p.mu.Unlock()
		return nil
	}
	st.end()
	return p.drain(st)
}

// drain takes st's events, releases p.mu and delivers them to the sink.
func (p *Parser) drain(st *messageState) []types.Event {
	events := st.events
	st.events = nil
	p.mu.Unlock()

	if p.sink != nil {
		for _, ev := range events {
			p.sink(ev)
		}
	}
	return events
}

// Reset clears the state of every message.
func (p *Parser) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = make(map[string]*messageState)
}

// Forget clears the state of one message, typically when its
// conversation ends.
func (p *Parser) Forget(messageID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.messages, messageID)
}

// Messages returns the ids with live state, sorted.
func (p *Parser) Messages() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.messages))
	for id := range p.messages {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IsInsideXMLTag reports whether the message is lexically inside a tag:
// an open artifact, an open action, a malformed body being skipped, or a
// tag whose start has arrived but not its end. Raw text should not be
// shown to a user while this is true.
func (p *Parser) IsInsideXMLTag(messageID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.messages[messageID]
	if !ok {
		return false
	}
	return st.insideTag()
}

// Pending describes what a message left open. A non-empty Pending at end of
// stream is the incomplete-artifact condition.
type Pending struct {
	// Artifact is the open artifact, if any.
	Artifact *types.Artifact
	// Action is the open action with the content received so far.
	Action *types.Action
	// PartialTag is a tag start still waiting for its end.
	PartialTag string
	// Skipping is set while a malformed tag's body is being discarded.
	Skipping bool
}

// Empty reports whether nothing is left open.
func (p Pending) Empty() bool {
	return p.Artifact == nil && p.Action == nil && p.PartialTag == "" && !p.Skipping
}

// Pending reports the open state of a message.
func (p *Parser) Pending(messageID string) Pending {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.messages[messageID]
	if !ok {
		return Pending{}
	}

	var out Pending
	if st.artifact != nil {
		a := *st.artifact
		out.Artifact = &a
	}
	if st.action != nil {
		a := st.action.action
		a.Content = strings.TrimSpace(st.action.raw + st.buf)
		out.Action = &a
	} else if strings.HasPrefix(st.buf, "<") {
		out.PartialTag = st.buf
	}
	out.Skipping = st.skipUntil != ""
	return out
}
