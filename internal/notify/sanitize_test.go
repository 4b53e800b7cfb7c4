// ABOUTME: Tests for SanitizeHTML: script removal, CSS filtering, allowlist, URL schemes, malformed input.
// ABOUTME: Table tests assert on substrings present or absent in the sanitized output.
package notify

import (
	"strings"
	"testing"
)

func TestSanitizeHTML_RemovesScripting(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		absent  []string
		present []string
	}{
		{
			name:    "script element and contents",
			in:      `<div>Hello</div><script>alert("xss")</script><p>World</p>`,
			absent:  []string{"<script", "alert"},
			present: []string{"<div>Hello</div>", "<p>World</p>"},
		},
		{
			name:   "script with src",
			in:     `<script type="text/javascript" src="evil.js"></script>`,
			absent: []string{"<script", "evil.js"},
		},
		{
			name:    "event handlers",
			in:      `<div onclick="alert(1)" onfoobar="alert(2)" onmade_up_event="alert(3)">Test</div>`,
			absent:  []string{"onclick", "onfoobar", "onmade_up_event", "alert"},
			present: []string{"<div>Test</div>"},
		},
		{
			name:   "event handlers mixed case",
			in:     `<div OnClick="alert(1)" ONLOAD="alert(2)">Test</div>`,
			absent: []string{"alert"},
		},
		{
			name:   "javascript href",
			in:     `<a href="javascript:alert('xss')">Click me</a>`,
			absent: []string{"javascript:"},
		},
		{
			name:   "javascript href with leading whitespace",
			in:     `<a href="  javascript:alert('xss')">Click me</a>`,
			absent: []string{"javascript:"},
		},
		{
			name:   "javascript href mixed case",
			in:     `<a href="JaVaScRiPt:alert('xss')">Click me</a>`,
			absent: []string{"javascript:", "JaVaScRiPt:"},
		},
		{
			name:   "data href",
			in:     `<a href="data:text/html,<script>alert(1)</script>">Link</a>`,
			absent: []string{"data:"},
		},
		{
			name:   "vbscript href",
			in:     `<a href="vbscript:msgbox(1)">Link</a>`,
			absent: []string{"vbscript:"},
		},
		{
			name:    "nested dangerous content",
			in:      `<div><p><span onclick="alert(1)"><a href="javascript:void(0)">Link</a></span></p></div>`,
			absent:  []string{"onclick", "javascript:"},
			present: []string{"<div>", "<p>", "<span>"},
		},
		{
			name:    "iframe, object, embed, form, input",
			in:      `<iframe src="https://evil.com"></iframe><object data="x"></object><embed src="y"><form><input name="q"></form><p>ok</p>`,
			absent:  []string{"<iframe", "<object", "<embed", "<form", "<input"},
			present: []string{"<p>ok</p>"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := SanitizeHTML(tc.in)
			for _, s := range tc.absent {
				if strings.Contains(got, s) {
					t.Errorf("output contains %q: %s", s, got)
				}
			}
			for _, s := range tc.present {
				if !strings.Contains(got, s) {
					t.Errorf("output missing %q: %s", s, got)
				}
			}
		})
	}
}

func TestSanitizeHTML_CSS(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		absent  []string
		present []string
	}{
		{"import url", `<style>@import url("https://evil.com/styles.css");</style>`,
			[]string{"@import", "evil.com"}, []string{"<style>"}},
		{"import string", `<style>@import "https://evil.com/styles.css";</style>`,
			[]string{"@import"}, nil},
		{"font-face", `<style>@font-face { font-family: Evil; src: url("https://evil.com/font.woff"); }</style>`,
			[]string{"@font-face", "evil.com"}, nil},
		{"external background", `<div style="background: url(https://evil.com/track.gif)">Content</div>`,
			[]string{"evil.com"}, []string{"url()"}},
		{"quoted external background-image", `<div style="background-image: url('https://evil.com/track.gif')">Content</div>`,
			[]string{"evil.com"}, nil},
		{"protocol relative", `<div style="background: url(//evil.com/track.gif)">Content</div>`,
			[]string{"evil.com"}, nil},
		{"data uri kept", `<div style="background: url(data:image/png;base64,abc123)">Content</div>`,
			nil, []string{"data:image/png;base64,abc123"}},
		{"relative url kept", `<div style="background: url(/img/bg.png)">Content</div>`,
			nil, []string{"url(/img/bg.png)"}},
		{"expression", `<div style="width: expression(alert('xss'))">Content</div>`,
			[]string{"expression", "alert"}, nil},
		{"behavior", `<div style="behavior: url(script.htc)">Content</div>`,
			[]string{"behavior", "script.htc"}, nil},
		{"moz-binding", `<div style="-moz-binding: url(script.xml#xss)">Content</div>`,
			[]string{"-moz-binding", "script.xml"}, nil},
		{"external url in style element", `<style>.evil { background: url(https://evil.com/track.gif); }</style>`,
			[]string{"evil.com"}, nil},
		{"safe inline styles", `<div style="color: red; font-size: 14px; margin: 10px;">Content</div>`,
			nil, []string{"color: red", "font-size: 14px", "margin: 10px"}},
		{"multiple style elements", `<style>@import "evil.css";</style><style>.safe { color: red; }</style>`,
			[]string{"@import"}, []string{".safe { color: red; }"}},
		{"mixed safe and unsafe", `<div style="color: red; background: url(https://evil.com/x.gif); font-size: 12px;">Content</div>`,
			[]string{"evil.com"}, []string{"color: red", "font-size: 12px"}},
		{"uppercase rules", `<style>@IMPORT "x.css"; .a { BEHAVIOR: url(a.htc); }</style>`,
			[]string{"@IMPORT", "BEHAVIOR"}, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := SanitizeHTML(tc.in)
			for _, s := range tc.absent {
				if strings.Contains(got, s) {
					t.Errorf("output contains %q: %s", s, got)
				}
			}
			for _, s := range tc.present {
				if !strings.Contains(got, s) {
					t.Errorf("output missing %q: %s", s, got)
				}
			}
		})
	}
}

func TestSanitizeHTML_Allowlist(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		present []string
	}{
		{"formatting", `<p><strong>Bold</strong> and <em>italic</em> and <u>underline</u></p>`,
			[]string{"<p>", "<strong>", "<em>", "<u>"}},
		{"headings", `<h1>Title</h1><h2>Subtitle</h2><h3>Section</h3>`,
			[]string{"<h1>", "<h2>", "<h3>"}},
		{"lists", `<ul><li>Item 1</li><li>Item 2</li></ul><ol><li>First</li></ol>`,
			[]string{"<ul>", "<ol>", "<li>"}},
		{"tables", `<table><thead><tr><th>Header</th></tr></thead><tbody><tr><td>Cell</td></tr></tbody></table>`,
			[]string{"<table>", "<thead>", "<tbody>", "<tr>", "<th>", "<td>"}},
		{"image", `<img src="https://example.com/image.jpg" alt="Example" width="100" height="100">`,
			[]string{"<img", `src="https://example.com/image.jpg"`, `alt="Example"`, `width="100"`, `height="100"`}},
		{"anchor", `<a href="https://example.com">Link</a>`,
			[]string{"<a", `href="https://example.com"`}},
		{"style element", `<style>.class { color: red; }</style>`,
			[]string{"<style>", ".class { color: red; }"}},
		{"colspan rowspan", `<table><tr><td colspan="2" rowspan="3">Cell</td></tr></table>`,
			[]string{`colspan="2"`, `rowspan="3"`}},
		{"aria", `<div aria-label="Description" aria-hidden="true">Content</div>`,
			[]string{`aria-label="Description"`, `aria-hidden="true"`}},
		{"data value", `<data value="123">One hundred twenty-three</data>`,
			[]string{`value="123"`}},
		{"http", `<a href="http://example.com">Link</a>`, []string{`href="http://example.com"`}},
		{"mailto", `<a href="mailto:test@example.com">Email</a>`, []string{`href="mailto:test@example.com"`}},
		{"entities stay encoded", `<p>&lt;script&gt;alert(1)&lt;/script&gt;</p>`, []string{"&lt;script&gt;"}},
		{"unicode", `<p>Unicode: 你好世界 🎉 émojis</p>`, []string{"你好世界", "🎉", "émojis"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := SanitizeHTML(tc.in)
			for _, s := range tc.present {
				if !strings.Contains(got, s) {
					t.Errorf("output missing %q: %s", s, got)
				}
			}
		})
	}
}

func TestSanitizeHTML_LinkRel(t *testing.T) {
	tests := []string{
		`<a href="https://example.com">Link</a>`,
		`<a href="https://example.com" rel="opener">Link</a>`,
		`<a>Anchor without href</a>`,
	}
	for _, in := range tests {
		got := SanitizeHTML(in)
		if n := strings.Count(got, `rel="noopener noreferrer"`); n != 1 {
			t.Errorf("SanitizeHTML(%q) = %q, want exactly one forced rel", in, got)
		}
		if strings.Contains(got, `rel="opener"`) {
			t.Errorf("input rel survived: %q", got)
		}
	}
}

func TestSanitizeHTML_EdgeCases(t *testing.T) {
	if got := SanitizeHTML(""); got != "" {
		t.Errorf("SanitizeHTML(\"\") = %q, want empty", got)
	}

	plain := "Just plain text without any HTML"
	if got := SanitizeHTML(plain); got != plain {
		t.Errorf("plain text changed: %q", got)
	}

	got := SanitizeHTML(`<p>Before</p><!-- This is a comment --><p>After</p>`)
	if strings.Contains(got, "<!--") || strings.Contains(got, "comment") {
		t.Errorf("comment survived: %q", got)
	}
	if !strings.Contains(got, "<p>Before</p>") || !strings.Contains(got, "<p>After</p>") {
		t.Errorf("content around comment lost: %q", got)
	}

	got = SanitizeHTML(`<div><div><div><div><p>Deep content</p></div></div></div></div>`)
	if strings.Count(got, "<div>") != 4 || !strings.Contains(got, "Deep content") {
		t.Errorf("nested divs mangled: %q", got)
	}

	got = SanitizeHTML(`<td colspan="2">Cell</td><li>Item</li><tr><th>Header</th></tr>`)
	for _, s := range []string{"Cell", "Item", "Header"} {
		if !strings.Contains(got, s) {
			t.Errorf("out-of-context element lost %q: %q", s, got)
		}
	}

	got = SanitizeHTML(`<div><p>Unclosed paragraph<div>Another div</div>`)
	if !strings.Contains(got, "Unclosed paragraph") || !strings.Contains(got, "Another div") {
		t.Errorf("malformed input lost content: %q", got)
	}
}

func TestSanitizeHTML_Idempotent(t *testing.T) {
	inputs := []string{
		`<div onclick="alert(1)">hi</div>`,
		`<a href="https://example.com" target="_blank">x</a>`,
		`<style>@import "a.css"; @imp@import "b.css";ort "c.css"; .x { color: red }</style>`,
		`<div style="background: url('https://evil.com/a.png'); color: blue">"quoted" & 'single'</div>`,
		`<p>&lt;code&gt; &amp; &nbsp; 你好</p>`,
		`<title>T</title><h1 align="center">Head</h1><table border="1"><tr><td>1</td><td>2</td></tr></table>`,
		`<div><p>Unclosed<div>`,
		`<img src="x.png" alt="a > b">`,
	}
	for _, in := range inputs {
		once := SanitizeHTML(in)
		twice := SanitizeHTML(once)
		if once != twice {
			t.Errorf("not idempotent for %q:\n once: %q\ntwice: %q", in, once, twice)
		}
	}
}

func TestSanitizeCSS_FixedPoint(t *testing.T) {
	// Removing the inner rule splices together a new @import.
	got := sanitizeCSS(`@imp@import "a.css";ort "b.css"; p { color: red; }`)
	if strings.Contains(strings.ToLower(got), "@import") {
		t.Errorf("spliced @import survived: %q", got)
	}
	if !strings.Contains(got, "p { color: red; }") {
		t.Errorf("safe rule lost: %q", got)
	}
}
