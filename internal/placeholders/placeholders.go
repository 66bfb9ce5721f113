// Package placeholders expands the per-request identifier in templated target URLs.
package placeholders

import (
	"strconv"
	"strings"
)

// Token marks where the request identifier goes, e.g. http://host/users/{id}.
const Token = "{id}"

// Template is a target URL split around its identifier placeholders so that
// expanding it does not rescan the string for every request.
type Template struct {
	raw   string
	parts []string
}

// Parse prepares raw for repeated expansion.
func Parse(raw string) Template {
	t := Template{raw: raw}
	if strings.Contains(raw, Token) {
		t.parts = strings.Split(raw, Token)
	}
	return t
}

// Templated reports whether the template contains at least one placeholder.
func (t Template) Templated() bool {
	return len(t.parts) > 1
}

func (t Template) String() string {
	return t.raw
}

// Expand substitutes id for every placeholder. A template without
// placeholders expands to itself.
func (t Template) Expand(id uint64) string {
	if !t.Templated() {
		return t.raw
	}
	var digits [20]byte
	num := strconv.AppendUint(digits[:0], id, 10)

	var sb strings.Builder
	sb.Grow(len(t.raw) + (len(t.parts)-1)*(len(num)-len(Token)))
	for i, part := range t.parts {
		if i > 0 {
			sb.Write(num)
		}
		sb.WriteString(part)
	}
	return sb.String()
}
