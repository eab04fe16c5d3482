package sandbox

import (
	"bytes"
	"io"
	"regexp"
	"strconv"
	"sync"
)

var serverURLPattern = regexp.MustCompile(`https?://(?:localhost|127\.0\.0\.1|0\.0\.0\.0|\[::1?\]):(\d{2,5})`)

// maxScanTail bounds how much of an unterminated line is kept between writes.
const maxScanTail = 512

// readyNotifier fans server-ready events into one channel and deduplicates
// them by port.
type readyNotifier struct {
	mu     sync.Mutex
	seen   map[int]bool
	ch     chan ServerReadyEvent
	closed bool
}

func newReadyNotifier() *readyNotifier {
	return &readyNotifier{
		seen: make(map[int]bool),
		ch:   make(chan ServerReadyEvent, 16),
	}
}

// notify publishes ev unless its port was already announced. It never
// blocks: when the buffer is full the event is dropped.
func (n *readyNotifier) notify(ev ServerReadyEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed || n.seen[ev.Port] {
		return
	}
	n.seen[ev.Port] = true
	select {
	case n.ch <- ev:
	default:
	}
}

func (n *readyNotifier) close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	close(n.ch)
}

// readyScanner is an io.Writer that forwards to w and reports any local
// server URL seen in the stream.
type readyScanner struct {
	w      io.Writer
	notify func(ServerReadyEvent)
	tail   []byte
}

func (s *readyScanner) Write(p []byte) (int, error) {
	s.scan(p)
	return s.w.Write(p)
}

// scan inspects complete lines only, so a URL split across writes is never
// matched with a truncated port.
func (s *readyScanner) scan(p []byte) {
	buf := append(s.tail, p...)
	i := bytes.LastIndexByte(buf, '\n')
	if i >= 0 {
		s.match(buf[:i+1])
		buf = buf[i+1:]
	}
	if len(buf) > maxScanTail {
		s.match(buf)
		buf = nil
	}
	s.tail = append(s.tail[:0:0], buf...)
}

// flush scans whatever is left of an unterminated last line.
func (s *readyScanner) flush() {
	if len(s.tail) > 0 {
		s.match(s.tail)
		s.tail = nil
	}
}

func (s *readyScanner) match(b []byte) {
	for _, m := range serverURLPattern.FindAllSubmatch(b, -1) {
		port, err := strconv.Atoi(string(m[1]))
		if err != nil || port > 65535 {
			continue
		}
		s.notify(ServerReadyEvent{Port: port, URL: string(m[0])})
	}
}
