package pathway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"text/template"

	"github.com/cortexd/runtime/internal/apperrors"
)

// TemplateEngine compiles and executes the lightweight handlebars-style
// language pathway prompts are written in, built on text/template the
// same way the teacher's variable engine is, with a preprocessing pass
// that rewrites handlebars tags into Go template syntax first.
type TemplateEngine struct {
	registry *Registry
}

// NewTemplateEngine builds an engine that can resolve {{renderTemplate
// NAME}} indirection through registry.
func NewTemplateEngine(registry *Registry) *TemplateEngine {
	return &TemplateEngine{registry: registry}
}

var (
	reTripleMustache = regexp.MustCompile(`\{\{\{\s*([a-zA-Z0-9_.]+)\s*\}\}\}`)
	reIfOpen         = regexp.MustCompile(`\{\{\s*#if\s+([^}]+?)\s*\}\}`)
	reIfInverseOpen  = regexp.MustCompile(`\{\{\s*\^if\s+([^}]+?)\s*\}\}`)
	reIfClose        = regexp.MustCompile(`\{\{\s*/if\s*\}\}`)
	reEachOpen       = regexp.MustCompile(`\{\{\s*#each\s+([^}]+?)\s*\}\}`)
	reEachClose      = regexp.MustCompile(`\{\{\s*/each\s*\}\}`)
)

// compile rewrites handlebars syntax into the Go text/template syntax
// that implements it, then parses the result.
func (e *TemplateEngine) compile(name, src string) (*template.Template, error) {
	rewritten := reTripleMustache.ReplaceAllString(src, "{{$1}}")
	rewritten = reIfOpen.ReplaceAllString(rewritten, "{{if $1}}")
	rewritten = reIfInverseOpen.ReplaceAllString(rewritten, "{{if not ($1)}}")
	rewritten = reIfClose.ReplaceAllString(rewritten, "{{end}}")
	rewritten = reEachOpen.ReplaceAllString(rewritten, "{{range $1}}")
	rewritten = reEachClose.ReplaceAllString(rewritten, "{{end}}")

	t := template.New(name).Funcs(e.funcMap())
	parsed, err := t.Parse(rewritten)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.Configuration, "pathway.TemplateEngine.compile", err)
	}
	return parsed, nil
}

// Render compiles and executes a single prompt template string against
// vars, which holds the call arguments, global entity constants, and
// the resolved entity record merged into one namespace.
func (e *TemplateEngine) Render(name, src string, vars map[string]any) (string, error) {
	parsed, err := e.compile(name, src)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := parsed.Execute(&buf, vars); err != nil {
		return "", apperrors.Wrap(apperrors.Internal, "pathway.TemplateEngine.Render", err)
	}
	return buf.String(), nil
}

func (e *TemplateEngine) funcMap() template.FuncMap {
	return template.FuncMap{
		"toJSON": func(v any) (string, error) {
			b, err := json.Marshal(v)
			if err != nil {
				return "", err
			}
			return string(b), nil
		},
		"renderTemplate": func(name string, vars map[string]any) (string, error) {
			return e.renderTemplate(name, vars)
		},
		"upper":      strings.ToUpper,
		"lower":      strings.ToLower,
		"trim":       strings.TrimSpace,
		"join":       strings.Join,
		"contains":   strings.Contains,
		"hasPrefix":  strings.HasPrefix,
		"hasSuffix":  strings.HasSuffix,
		"default": func(def, value any) any {
			if value == nil {
				return def
			}
			if s, ok := value.(string); ok && s == "" {
				return def
			}
			return value
		},
	}
}

// renderTemplate resolves {{renderTemplate NAME}} indirection by
// looking up another pathway in the registry and rendering its first
// prompt message against the same vars.
func (e *TemplateEngine) renderTemplate(name string, vars map[string]any) (string, error) {
	if e.registry == nil {
		return "", apperrors.New(apperrors.Configuration, "pathway.renderTemplate", "no registry configured")
	}
	p, ok := e.registry.Resolve(name)
	if !ok {
		return "", apperrors.New(apperrors.NotFound, "pathway.renderTemplate", fmt.Sprintf("pathway %q not found", name))
	}
	if len(p.Prompt) == 0 {
		return "", nil
	}
	var out strings.Builder
	for i, msg := range p.Prompt {
		if i > 0 {
			out.WriteString("\n")
		}
		rendered, err := e.Render(name+"#"+msg.Role, msg.Content, vars)
		if err != nil {
			return "", err
		}
		out.WriteString(rendered)
	}
	return out.String(), nil
}
