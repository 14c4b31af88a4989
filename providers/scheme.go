package providers

import (
	"fmt"
	"regexp"
	"strings"
)

// CompileScheme turns an oEmbed URL scheme such as
// "https://*.youtube.com/watch*" into an anchored, case-insensitive regexp.
// The protocol is normalized so http and https schemes match either one;
// the host is matched as written.
func CompileScheme(scheme string) (*regexp.Regexp, error) {
	s := strings.TrimSpace(scheme)
	if s == "" {
		return nil, fmt.Errorf("empty scheme")
	}
	prefix := ""
	lower := strings.ToLower(s)
	switch {
	case strings.HasPrefix(lower, "https://"):
		prefix, s = "https?://", s[len("https://"):]
	case strings.HasPrefix(lower, "http://"):
		prefix, s = "https?://", s[len("http://"):]
	}

	parts := strings.Split(s, "*")
	for i, part := range parts {
		parts[i] = regexp.QuoteMeta(part)
	}
	re, err := regexp.Compile("(?i)^" + prefix + strings.Join(parts, ".*") + "$")
	if err != nil {
		return nil, fmt.Errorf("invalid scheme %q: %w", scheme, err)
	}
	return re, nil
}
