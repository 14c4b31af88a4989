package oembed

import (
	"fmt"
	"html"
	"strings"

	"github.com/ferro-labs/oembed-filter/web"
)

// RenderOptions controls how a response becomes page markup.
type RenderOptions struct {
	// Lazyload renders a thumbnail card that carries the player markup in a
	// data attribute instead of the player itself.
	Lazyload bool
	// Link is the original href the response was fetched for.
	Link string
}

type embedCard struct {
	Type            string
	Title           string
	ProviderName    string
	ThumbnailURL    string
	ThumbnailWidth  int
	ThumbnailHeight int
	Embed           string
	Link            string
}

// Markup renders the response. Link responses and responses without
// anything to show render as "", which keeps the original anchor.
// Provider HTML is passed through unchanged.
func (r *Response) Markup(opts RenderOptions) (string, error) {
	var inner string
	switch r.Type {
	case TypeVideo, TypeRich:
		inner = strings.TrimSpace(r.HTML)
	case TypePhoto:
		if r.URL == "" {
			return "", nil
		}
		inner = r.photo()
	default:
		return "", nil
	}
	if inner == "" {
		return "", nil
	}

	class := "oembed-content"
	if r.Type == TypeVideo && r.Width > 0 && r.Height > 0 {
		class += " oembed-responsive"
	}
	markup := `<div class="` + class + `">` + inner + `</div>`

	if !opts.Lazyload || r.ThumbnailURL == "" {
		return markup, nil
	}
	card, err := web.Render("embedcard.html", embedCard{
		Type:            r.Type,
		Title:           r.Title,
		ProviderName:    r.ProviderName,
		ThumbnailURL:    r.ThumbnailURL,
		ThumbnailWidth:  int(r.ThumbnailWidth),
		ThumbnailHeight: int(r.ThumbnailHeight),
		Embed:           markup,
		Link:            opts.Link,
	})
	if err != nil {
		return "", fmt.Errorf("oembed: lazyload card: %w", err)
	}
	return card, nil
}

func (r *Response) photo() string {
	var b strings.Builder
	b.WriteString(`<img src="`)
	b.WriteString(html.EscapeString(r.URL))
	b.WriteString(`"`)
	if r.Width > 0 {
		fmt.Fprintf(&b, ` width="%d"`, r.Width)
	}
	if r.Height > 0 {
		fmt.Fprintf(&b, ` height="%d"`, r.Height)
	}
	fmt.Fprintf(&b, ` alt="%s">`, html.EscapeString(r.Title))
	return b.String()
}
