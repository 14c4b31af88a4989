package providers

import (
	"errors"
	"html"
	"strings"
)

// ErrNotTemplate is returned by Render for matches against oEmbed API
// endpoints.
var ErrNotTemplate = errors.New("match is not a template endpoint")

// Render expands a template endpoint for the matched link. "$1" and
// "${name}" refer to the pattern's capture groups; "{url}" is replaced with
// the link. Captures and the link are HTML-escaped.
func (m Match) Render(link string) (string, error) {
	if m.pattern == nil || !m.Endpoint.IsTemplate() {
		return "", ErrNotTemplate
	}
	src, groups := escapeCaptures(link, m.Submatches)
	out := m.pattern.ExpandString(nil, m.Endpoint.Template, src, groups)
	return strings.ReplaceAll(string(out), "{url}", html.EscapeString(link)), nil
}

// escapeCaptures returns the escaped capture groups of link laid end to end
// with their new offsets.
func escapeCaptures(link string, submatches []int) (string, []int) {
	var b strings.Builder
	groups := make([]int, len(submatches))
	for i := 0; i+1 < len(submatches); i += 2 {
		start, end := submatches[i], submatches[i+1]
		if start < 0 || end < start || end > len(link) {
			groups[i], groups[i+1] = -1, -1
			continue
		}
		groups[i] = b.Len()
		b.WriteString(html.EscapeString(link[start:end]))
		groups[i+1] = b.Len()
	}
	return b.String(), groups
}
