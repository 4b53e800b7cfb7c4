// ABOUTME: HTML sanitizer applied to every rendered notification before it is stored or mailed.
// ABOUTME: bluemonday enforces the tag/attribute allowlist; a tokenizer pass then cleans CSS and link rel.
package notify

import (
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// linkRel is forced onto every anchor to block reverse tabnabbing.
const linkRel = "noopener noreferrer"

var allowedTags = []string{
	"a", "abbr", "acronym", "area", "article", "aside", "b", "bdi",
	"bdo", "blockquote", "br", "caption", "center", "cite", "code",
	"col", "colgroup", "data", "dd", "del", "details", "dfn", "div",
	"dl", "dt", "em", "figcaption", "figure", "font", "footer", "h1",
	"h2", "h3", "h4", "h5", "h6", "header", "hgroup", "hr", "i",
	"img", "ins", "kbd", "li", "map", "mark", "nav", "ol", "p", "pre",
	"q", "rp", "rt", "rtc", "ruby", "s", "samp", "small", "span",
	"strike", "strong", "style", "sub", "summary", "sup", "table",
	"tbody", "td", "th", "thead", "time", "title", "tr", "tt", "u",
	"ul", "var", "wbr",
}

var globalAttrs = []string{
	"accesskey", "aria-atomic", "aria-busy", "aria-controls", "aria-describedby", "aria-expanded",
	"aria-hidden", "aria-label", "aria-labelledby", "aria-live", "aria-relevant", "class",
	"contenteditable", "dir", "draggable", "hidden", "id", "lang", "role", "spellcheck", "style",
	"tabindex", "title", "translate",
}

// elementAttrs lists attributes permitted on specific elements in addition to globalAttrs.
// rel is absent from "a" because the post-pass always writes its own.
var elementAttrs = map[string][]string{
	"a":          {"download", "href", "hreflang", "name", "target", "type"},
	"abbr":       {"title"},
	"area":       {"alt", "coords", "download", "href", "rel", "shape", "target"},
	"bdo":        {"dir"},
	"blockquote": {"cite"},
	"caption":    {"align"},
	"col":        {"align", "span", "valign", "width"},
	"colgroup":   {"align", "span", "valign", "width"},
	"data":       {"value"},
	"del":        {"cite", "datetime"},
	"details":    {"name", "open"},
	"dfn":        {"title"},
	"div":        {"align"},
	"font":       {"color", "face", "size"},
	"h1":         {"align"},
	"h2":         {"align"},
	"h3":         {"align"},
	"h4":         {"align"},
	"h5":         {"align"},
	"h6":         {"align"},
	"hr":         {"align", "noshade", "size", "width"},
	"img":        {"alt", "border", "crossorigin", "decoding", "height", "ismap", "loading", "sizes", "src", "srcset", "usemap", "width"},
	"ins":        {"cite", "datetime"},
	"li":         {"type", "value"},
	"map":        {"name"},
	"ol":         {"reversed", "start", "type"},
	"p":          {"align"},
	"pre":        {"width"},
	"q":          {"cite"},
	"table":      {"align", "bgcolor", "border", "cellpadding", "cellspacing", "frame", "height", "rules", "summary", "width"},
	"tbody":      {"align", "valign"},
	"td":         {"abbr", "align", "bgcolor", "colspan", "headers", "height", "nowrap", "rowspan", "scope", "valign", "width"},
	"th":         {"abbr", "align", "bgcolor", "colspan", "headers", "height", "nowrap", "rowspan", "scope", "valign", "width"},
	"thead":      {"align", "valign"},
	"time":       {"datetime"},
	"tr":         {"align", "bgcolor", "valign"},
	"ul":         {"type"},
}

// policy is safe for concurrent use once built.
var policy = newPolicy()

func newPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements(allowedTags...)
	p.AllowNoAttrs().OnElements(allowedTags...)
	p.AllowAttrs(globalAttrs...).Globally()
	for el, attrs := range elementAttrs {
		p.AllowAttrs(attrs...).OnElements(el)
	}
	p.AllowURLSchemes("http", "https", "mailto")
	p.RequireParseableURLs(true)
	p.AllowRelativeURLs(true)
	// Required to keep <style> elements; <script> is still dropped because
	// it is not in the allowlist.
	p.AllowUnsafe(true)
	return p
}

// CSS rules, matched case-insensitively.
var cssRules = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`(?i)@import\s+[^;]+;`), ""},
	{regexp.MustCompile(`(?i)@font-face\s*\{[^}]*\}`), ""},
	{regexp.MustCompile(`(?i)url\s*\(\s*["']?\s*(https?://|//)[^)]*\)`), "url()"},
	{regexp.MustCompile(`(?i)expression\s*\([^)]*\)`), ""},
	{regexp.MustCompile(`(?i)behavior\s*:\s*[^;]+;?`), ""},
	{regexp.MustCompile(`(?i)-moz-binding\s*:\s*[^;]+;?`), ""},
}

// SanitizeHTML strips scripting, unsafe URLs, comments and non-allowlisted
// markup from s, then removes external resource loads and script hooks from
// inline styles and <style> blocks. It never fails; malformed input is
// cleaned as far as the tokenizer can recover it.
func SanitizeHTML(s string) string {
	return sanitizeMarkupCSS(policy.Sanitize(s))
}

// sanitizeCSS applies every rule until the text stops changing, so a removal
// cannot splice together a new match.
func sanitizeCSS(css string) string {
	for {
		prev := css
		for _, r := range cssRules {
			css = r.re.ReplaceAllString(css, r.repl)
		}
		if css == prev {
			return css
		}
	}
}

// sanitizeMarkupCSS re-serializes allowlisted markup, rewriting style
// attributes, <style> text and anchor rel attributes.
func sanitizeMarkupCSS(s string) string {
	z := html.NewTokenizer(strings.NewReader(s))
	var (
		b       strings.Builder
		inStyle bool
	)
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			// io.EOF is the only error without a MaxBuf limit.
			return b.String()

		case html.TextToken:
			if inStyle {
				b.WriteString(sanitizeCSS(string(z.Raw())))
				continue
			}
			b.WriteString(z.Token().String())

		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			if tok.DataAtom == atom.Style && tt == html.StartTagToken {
				inStyle = true
			}
			tok.Attr = rewriteAttrs(tok.DataAtom, tok.Attr)
			b.WriteString(tok.String())

		case html.EndTagToken:
			tok := z.Token()
			if tok.DataAtom == atom.Style {
				inStyle = false
			}
			b.WriteString(tok.String())

		case html.CommentToken:
			// Dropped; the allowlist pass already strips comments.

		default:
			b.WriteString(z.Token().String())
		}
	}
}

func rewriteAttrs(a atom.Atom, attrs []html.Attribute) []html.Attribute {
	out := attrs[:0]
	for _, at := range attrs {
		if a == atom.A && at.Key == "rel" {
			continue
		}
		if at.Key == "style" {
			at.Val = sanitizeCSS(at.Val)
		}
		out = append(out, at)
	}
	if a == atom.A {
		out = append(out, html.Attribute{Key: "rel", Val: linkRel})
	}
	return out
}
