// ABOUTME: Plain-text rendering of sanitized notification HTML for the text/plain mail part.
// ABOUTME: No line wrapping, no emphasis markers, one newline between blocks.
package notify

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// blockElements start and end on their own line.
var blockElements = map[atom.Atom]bool{
	atom.Address: true, atom.Article: true, atom.Aside: true, atom.Blockquote: true,
	atom.Caption: true, atom.Center: true, atom.Dd: true, atom.Details: true,
	atom.Div: true, atom.Dl: true, atom.Dt: true, atom.Figcaption: true,
	atom.Figure: true, atom.Footer: true, atom.H1: true, atom.H2: true,
	atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Header: true, atom.Hgroup: true, atom.Li: true, atom.Nav: true,
	atom.Ol: true, atom.P: true, atom.Pre: true, atom.Section: true,
	atom.Summary: true, atom.Table: true, atom.Tbody: true, atom.Thead: true,
	atom.Tfoot: true, atom.Tr: true, atom.Ul: true,
}

// skippedElements contribute no text.
var skippedElements = map[atom.Atom]bool{
	atom.Head: true, atom.Script: true, atom.Style: true, atom.Title: true, atom.Template: true,
}

// htmlToText converts sanitized HTML into plain text. Entities are decoded,
// links keep their target in parentheses and table cells are joined by " | ".
func htmlToText(s string) string {
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		// html.Parse only fails on reader errors.
		return ""
	}
	var w textWriter
	w.walk(doc)
	return w.String()
}

type textWriter struct {
	b   strings.Builder
	pre int
}

func (w *textWriter) newline() {
	w.b.WriteByte('\n')
}

// atLineStart reports whether the next inline text begins a line.
func (w *textWriter) atLineStart() bool {
	s := w.b.String()
	return s == "" || strings.HasSuffix(s, "\n")
}

func (w *textWriter) text(s string) {
	if w.pre > 0 {
		w.b.WriteString(s)
		return
	}
	fields := strings.Fields(s)
	if len(fields) == 0 {
		if s != "" && !w.atLineStart() && !strings.HasSuffix(w.b.String(), " ") {
			w.b.WriteByte(' ')
		}
		return
	}
	if startsWithSpace(s) && !w.atLineStart() && !strings.HasSuffix(w.b.String(), " ") {
		w.b.WriteByte(' ')
	}
	w.b.WriteString(strings.Join(fields, " "))
	if endsWithSpace(s) {
		w.b.WriteByte(' ')
	}
}

func (w *textWriter) walk(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		w.text(n.Data)
		return
	case html.DocumentNode:
		w.children(n)
		return
	case html.ElementNode:
	default:
		return
	}

	if skippedElements[n.DataAtom] {
		return
	}

	switch n.DataAtom {
	case atom.Br:
		w.newline()
		return
	case atom.Hr:
		w.newline()
		w.b.WriteString("---")
		w.newline()
		return
	case atom.Img:
		if alt := attr(n, "alt"); alt != "" {
			w.text(alt)
		}
		return
	case atom.Td, atom.Th:
		if prev := previousElement(n); prev != nil && (prev.DataAtom == atom.Td || prev.DataAtom == atom.Th) {
			w.b.WriteString(" | ")
		}
		w.children(n)
		return
	case atom.A:
		start := w.b.Len()
		w.children(n)
		label := strings.TrimSpace(w.b.String()[start:])
		if href := attr(n, "href"); href != "" && href != label && strings.TrimPrefix(href, "mailto:") != label {
			w.b.WriteString(" (" + href + ")")
		}
		return
	}

	block := blockElements[n.DataAtom]
	if block {
		w.newline()
	}
	if n.DataAtom == atom.Li {
		w.b.WriteString("* ")
	}
	if n.DataAtom == atom.Pre {
		w.pre++
	}
	w.children(n)
	if n.DataAtom == atom.Pre {
		w.pre--
	}
	if block {
		w.newline()
	}
}

func (w *textWriter) children(n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
	}
}

// String trims every line and drops blank ones.
func (w *textWriter) String() string {
	lines := strings.Split(w.b.String(), "\n")
	out := lines[:0]
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func previousElement(n *html.Node) *html.Node {
	for p := n.PrevSibling; p != nil; p = p.PrevSibling {
		if p.Type == html.ElementNode {
			return p
		}
	}
	return nil
}

func startsWithSpace(s string) bool {
	return s != "" && strings.TrimLeft(s, " \t\r\n\f") != s
}

func endsWithSpace(s string) bool {
	return s != "" && strings.TrimRight(s, " \t\r\n\f") != s
}
