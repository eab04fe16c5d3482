package parser

import (
	"regexp"
	"strings"
)

// Tag names of the two-level grammar.
const (
	artifactTag = "boltArtifact"
	actionTag   = "boltAction"

	artifactOpenPrefix = "<" + artifactTag
	actionOpenPrefix   = "<" + actionTag
	artifactClose      = "</" + artifactTag + ">"
	actionClose        = "</" + actionTag + ">"
)

var tagPrefixes = []string{artifactOpenPrefix, actionOpenPrefix, artifactClose, actionClose}

var attrPattern = regexp.MustCompile(`([A-Za-z_:][-A-Za-z0-9_:.]*)\s*=\s*"([^"]*)"`)

// tagKind classifies what starts at a '<'.
type tagKind int

const (
	// notTag: the '<' is prose.
	notTag tagKind = iota
	// partialTag: more input is needed to decide.
	partialTag
	artifactOpenTag
	actionOpenTag
	artifactCloseTag
	actionCloseTag
)

// classify inspects s, which starts with '<', and reports what tag it
// begins and the length of the tag when complete. For open tags the length
// covers everything up to and including the terminating '>' (quoted values
// may contain '>').
func classify(s string) (tagKind, int) {
	switch {
	case strings.HasPrefix(s, artifactClose):
		return artifactCloseTag, len(artifactClose)
	case strings.HasPrefix(s, actionClose):
		return actionCloseTag, len(actionClose)
	case hasTagName(s, artifactOpenPrefix):
		return openTag(s, artifactOpenTag)
	case hasTagName(s, actionOpenPrefix):
		return openTag(s, actionOpenTag)
	}
	for _, p := range tagPrefixes {
		if len(s) < len(p) && strings.HasPrefix(p, s) {
			return partialTag, 0
		}
	}
	// "<boltAction" with nothing after it yet.
	if s == artifactOpenPrefix || s == actionOpenPrefix {
		return partialTag, 0
	}
	return notTag, 0
}

// hasTagName reports whether s starts with prefix followed by a character
// that ends a tag name.
func hasTagName(s, prefix string) bool {
	if !strings.HasPrefix(s, prefix) || len(s) == len(prefix) {
		return false
	}
	switch s[len(prefix)] {
	case ' ', '\t', '\n', '\r', '>', '/':
		return true
	}
	return false
}

func openTag(s string, kind tagKind) (tagKind, int) {
	inQuote := false
	for i := 1; i < len(s); i++ {
		switch s[i] {
		case '"':
			inQuote = !inQuote
		case '>':
			if !inQuote {
				return kind, i + 1
			}
		}
	}
	return partialTag, 0
}

// attributes extracts name="value" pairs from a complete open tag. Order
// does not matter; the first occurrence of a name wins.
func attributes(tag string) map[string]string {
	attrs := make(map[string]string)
	for _, m := range attrPattern.FindAllStringSubmatch(tag, -1) {
		if _, dup := attrs[m[1]]; !dup {
			attrs[m[1]] = m[2]
		}
	}
	return attrs
}

// partialSuffix returns the length of the longest suffix of s that is a
// proper prefix of marker. That many bytes must be held back because the
// next delta may complete the marker.
func partialSuffix(s, marker string) int {
	maxLen := len(marker) - 1
	if maxLen > len(s) {
		maxLen = len(s)
	}
	for n := maxLen; n > 0; n-- {
		if strings.HasSuffix(s, marker[:n]) {
			return n
		}
	}
	return 0
}

// splitTrailingSpace splits s into its body and trailing whitespace.
func splitTrailingSpace(s string) (string, string) {
	body := strings.TrimRight(s, " \t\r\n")
	return body, s[len(body):]
}
