// ABOUTME: Layered template loading (operator overrides first, shipped defaults second) and rendering.
// ABOUTME: Rendering is strict about missing keys, sanitizes output and derives the plain-text part.
package notify

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	htmltpl "html/template"
	"io/fs"
	"os"
	"strings"
)

// Renderer failures. Callers match with errors.Is.
var (
	ErrTemplateNotFound   = errors.New("template not found")
	ErrTemplatePermission = errors.New("template file is world-writable")
	ErrUndefinedVariable  = errors.New("undefined template variable")
	ErrEmptyTemplate      = errors.New("template rendered empty")
	ErrSandboxViolation   = errors.New("value not permitted in template context")
)

//go:embed templates/*.html
var templateFS embed.FS

// Template names shipped with the binary.
const (
	TemplateUpcomingExpiration = "upcoming_expiration.html"
	TemplatePastExpiration     = "past_expiration.html"
)

// funcMap is the complete set of functions available to template bodies.
// None of them reach application state.
var funcMap = htmltpl.FuncMap{
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"join": func(sep string, items []any) string {
		parts := make([]string, len(items))
		for i, it := range items {
			parts[i] = fmt.Sprint(it)
		}
		return strings.Join(parts, sep)
	},
	// default returns fallback when v is nil or the empty string.
	"default": func(fallback, v any) any {
		if v == nil || v == "" {
			return fallback
		}
		return v
	},
}

// Template is a parsed notification template.
type Template struct {
	Name string
	tmpl *htmltpl.Template
}

// ParseTemplate parses src as a notification template body.
func ParseTemplate(name, src string) (*Template, error) {
	t, err := htmltpl.New(name).Option("missingkey=error").Funcs(funcMap).Parse(src)
	if err != nil {
		return nil, fmt.Errorf("parse template %s: %w", name, err)
	}
	return &Template{Name: name, tmpl: t}, nil
}

// TemplateLoader resolves template names against an ordered list of
// filesystems. The first layer holding the name wins.
type TemplateLoader struct {
	layers []fs.FS
}

// NewTemplateLoader searches customDir first, then defaultDir. An empty
// customDir is skipped; an empty defaultDir selects the templates compiled
// into the binary.
func NewTemplateLoader(customDir, defaultDir string) *TemplateLoader {
	var layers []fs.FS
	if customDir != "" {
		layers = append(layers, os.DirFS(customDir))
	}
	if defaultDir != "" {
		layers = append(layers, os.DirFS(defaultDir))
	} else {
		layers = append(layers, EmbeddedTemplates())
	}
	return &TemplateLoader{layers: layers}
}

// NewTemplateLoaderFS builds a loader over arbitrary filesystems, highest
// priority first.
func NewTemplateLoaderFS(layers ...fs.FS) *TemplateLoader {
	return &TemplateLoader{layers: layers}
}

// EmbeddedTemplates returns the default templates compiled into the binary.
func EmbeddedTemplates() fs.FS {
	sub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		panic(err) // static path
	}
	return sub
}

// GetTemplate loads and parses name from the first layer that has it.
// A world-writable file fails with ErrTemplatePermission instead of falling
// through to a lower layer.
func (l *TemplateLoader) GetTemplate(name string) (*Template, error) {
	if !fs.ValidPath(name) {
		return nil, fmt.Errorf("%w: %q", ErrTemplateNotFound, name)
	}
	for _, fsys := range l.layers {
		info, err := fs.Stat(fsys, name)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("stat template %s: %w", name, err)
		}
		if info.IsDir() {
			continue
		}
		if info.Mode().Perm()&0o002 != 0 {
			return nil, fmt.Errorf("%w: %s (mode %s)", ErrTemplatePermission, name, info.Mode().Perm())
		}
		src, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read template %s: %w", name, err)
		}
		return ParseTemplate(name, string(src))
	}
	return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
}

// FormatTemplate executes t against context and returns the sanitized HTML
// and its plain-text rendering. Referencing a key missing from context fails
// with ErrUndefinedVariable; output that is empty after sanitizing fails
// with ErrEmptyTemplate.
func FormatTemplate(t *Template, context map[string]any) (string, string, error) {
	data, err := sandboxContext(context)
	if err != nil {
		return "", "", fmt.Errorf("render %s: %w", t.Name, err)
	}

	var buf bytes.Buffer
	if err := t.tmpl.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("render %s: %w", t.Name, classifyExecError(err))
	}

	html := strings.TrimSpace(SanitizeHTML(buf.String()))
	if html == "" {
		return "", "", fmt.Errorf("render %s: %w", t.Name, ErrEmptyTemplate)
	}
	return html, htmlToText(html), nil
}

// classifyExecError maps text/template execution errors onto the renderer's
// sentinels, keeping the original message.
func classifyExecError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "map has no entry for key"),
		strings.Contains(msg, "can't evaluate field"),
		strings.Contains(msg, "nil pointer evaluating"):
		return fmt.Errorf("%w: %s", ErrUndefinedVariable, msg)
	case strings.Contains(msg, "incomplete or empty template"):
		return fmt.Errorf("%w: %s", ErrEmptyTemplate, msg)
	}
	return err
}
