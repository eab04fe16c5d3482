// Package iox holds small I/O helpers shared by the CLI and the adapters.
package iox

import "io"

// DiscardClose closes c and drops the error. For defers where a close
// error changes nothing:
//
//	defer iox.DiscardClose(resp.Body)
func DiscardClose(c io.Closer) { _ = c.Close() }

// CloseFunc returns a func closing c, for t.Cleanup.
func CloseFunc(c io.Closer) func() {
	return func() { _ = c.Close() }
}

// NopWriteCloser wraps w with a Close that does nothing. Used where
// stdout stands in for an output file the caller must not close.
func NopWriteCloser(w io.Writer) io.WriteCloser {
	return nopWriteCloser{w}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
