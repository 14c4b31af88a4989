// Package oembed implements the consumer side of the oEmbed protocol: it
// requests embed descriptions from provider endpoints, discovers endpoints
// advertised by pages and turns responses into page markup.
package oembed

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Response types defined by oEmbed 1.0.
const (
	TypePhoto = "photo"
	TypeVideo = "video"
	TypeLink  = "link"
	TypeRich  = "rich"
)

// Dimension is a pixel size or a number of seconds. Providers send it as a
// number, a numeric string or, for some rich embeds, a percentage; anything
// that is not a number decodes as 0. Values are capped at maxDimension.
type Dimension int

const maxDimension = math.MaxInt32

// UnmarshalJSON implements json.Unmarshaler.
func (d *Dimension) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*d = 0
		return nil
	}
	s := string(b)
	if b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "px")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || f < 0 {
		*d = 0
		return nil
	}
	if f > maxDimension {
		f = maxDimension
	}
	*d = Dimension(f)
	return nil
}

// Version is the oEmbed version of a response. Some providers send it as a
// number ("version": 1) instead of a string.
type Version string

// UnmarshalJSON implements json.Unmarshaler.
func (v *Version) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*v = ""
		return nil
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*v = Version(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("version: %w", err)
	}
	*v = Version(n.String())
	return nil
}

// Response is an oEmbed response document.
type Response struct {
	Type            string    `json:"type"`
	Version         Version   `json:"version,omitempty"`
	Title           string    `json:"title,omitempty"`
	AuthorName      string    `json:"author_name,omitempty"`
	AuthorURL       string    `json:"author_url,omitempty"`
	ProviderName    string    `json:"provider_name,omitempty"`
	ProviderURL     string    `json:"provider_url,omitempty"`
	CacheAge        Dimension `json:"cache_age,omitempty"`
	ThumbnailURL    string    `json:"thumbnail_url,omitempty"`
	ThumbnailWidth  Dimension `json:"thumbnail_width,omitempty"`
	ThumbnailHeight Dimension `json:"thumbnail_height,omitempty"`
	URL             string    `json:"url,omitempty"`
	HTML            string    `json:"html,omitempty"`
	Width           Dimension `json:"width,omitempty"`
	Height          Dimension `json:"height,omitempty"`
}

// ErrInvalidResponse wraps responses that cannot be rendered.
var ErrInvalidResponse = errors.New("invalid oembed response")

// Validate checks the fields each response type requires.
func (r *Response) Validate() error {
	switch r.Type {
	case TypePhoto:
		if r.URL == "" {
			return fmt.Errorf("%w: photo without url", ErrInvalidResponse)
		}
	case TypeVideo, TypeRich:
		if strings.TrimSpace(r.HTML) == "" {
			return fmt.Errorf("%w: %s without html", ErrInvalidResponse, r.Type)
		}
	case TypeLink:
	case "":
		return fmt.Errorf("%w: missing type", ErrInvalidResponse)
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidResponse, r.Type)
	}
	return nil
}

// CacheTTL returns the provider's suggested cache lifetime capped at max.
// Without a cache_age the max is used.
func (r *Response) CacheTTL(max time.Duration) time.Duration {
	if r.CacheAge <= 0 {
		return max
	}
	age := time.Duration(r.CacheAge) * time.Second
	if max > 0 && age > max {
		return max
	}
	return age
}
