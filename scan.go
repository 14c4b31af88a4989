package oembedfilter

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/ferro-labs/oembed-filter/providers"
)

// anchor is a matched <a href>...</a> span of the input.
type anchor struct {
	start, end int
	href       string
	match      providers.Match
}

type openElement struct {
	name   string
	nolink bool
}

var voidElements = map[atom.Atom]bool{
	atom.Area: true, atom.Base: true, atom.Br: true, atom.Col: true,
	atom.Embed: true, atom.Hr: true, atom.Img: true, atom.Input: true,
	atom.Link: true, atom.Meta: true, atom.Param: true, atom.Source: true,
	atom.Track: true, atom.Wbr: true,
}

func hasAnchor(text string) bool {
	for i := 0; i+1 < len(text); i++ {
		if text[i] == '<' && (text[i+1] == 'a' || text[i+1] == 'A') {
			return true
		}
	}
	return false
}

func hasClass(attr, class string) bool {
	for _, c := range strings.Fields(attr) {
		if strings.EqualFold(c, class) {
			return true
		}
	}
	return false
}

// scanAnchors returns the anchors of text whose href matches a provider in
// reg. Offsets come from the tokenizer's raw bytes so the caller can splice
// the original text. Anchors inside an element with class "nolink" and
// anchors without a closing tag are left out.
func scanAnchors(text string, reg *providers.Registry) []anchor {
	z := html.NewTokenizer(strings.NewReader(text))
	var (
		out     []anchor
		stack   []openElement
		nolink  int
		pos     int
		current *anchor
	)
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			return out
		}
		start := pos
		pos += len(z.Raw())

		switch tt {
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			var href, class string
			hasHref := false
			for _, a := range tok.Attr {
				switch a.Key {
				case "href":
					href, hasHref = strings.TrimSpace(a.Val), true
				case "class":
					class = a.Val
				}
			}
			isNolink := hasClass(class, "nolink")

			if tok.DataAtom == atom.A && tt == html.StartTagToken && current == nil &&
				nolink == 0 && !isNolink && hasHref && href != "" {
				if m, ok := reg.Match(href); ok {
					current = &anchor{start: start, href: href, match: m}
				}
			}
			if tt == html.SelfClosingTagToken || voidElements[tok.DataAtom] {
				continue
			}
			stack = append(stack, openElement{name: tok.Data, nolink: isNolink})
			if isNolink {
				nolink++
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if current != nil && tag == "a" {
				current.end = pos
				out = append(out, *current)
				current = nil
			}
			for i := len(stack) - 1; i >= 0; i-- {
				if stack[i].name != tag {
					continue
				}
				for _, e := range stack[i:] {
					if e.nolink {
						nolink--
					}
				}
				stack = stack[:i]
				break
			}
		}
	}
}
