// Package config loads artificer.yaml. Values act as defaults for
// artificer run flags; flags always win.
package config

import (
	"os"
	"regexp"
	"strings"
)

// envRef matches ${NAME} and ${NAME:-fallback}. A bare $NAME is left alone
// so shell snippets in sandbox env values survive.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-[^}]*)?\}`)

// ExpandEnv substitutes environment references in s. An unset or empty
// variable yields its fallback, or "" when there is none.
func ExpandEnv(s string) string {
	var b strings.Builder
	last := 0
	for _, m := range envRef.FindAllStringSubmatchIndex(s, -1) {
		b.WriteString(s[last:m[0]])
		last = m[1]

		if v := os.Getenv(s[m[2]:m[3]]); v != "" {
			b.WriteString(v)
		} else if m[4] >= 0 {
			b.WriteString(s[m[4]+2 : m[5]])
		}
	}
	if last == 0 {
		return s
	}
	b.WriteString(s[last:])
	return b.String()
}
