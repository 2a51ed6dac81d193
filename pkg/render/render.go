package render

import (
	"bytes"
	"fmt"
	"sort"
	"text/template"

	"github.com/Masterminds/sprig/v3"

	"github.com/netpulse/netpulse/pkg/errdefs"
)

// Renderer turns a template source and a context into device input.
type Renderer interface {
	Render(source string, context map[string]any) (string, error)
}

// Renderer plugin names.
const (
	RendererGoTemplate = "gotemplate"
	RendererIdentity   = "identity"
)

type rendererFactory func() Renderer

var renderers = map[string]rendererFactory{
	RendererGoTemplate: func() Renderer { return &goTemplateRenderer{} },
	RendererIdentity:   func() Renderer { return identityRenderer{} },
}

// NewRenderer returns the named renderer plugin.
func NewRenderer(name string) (Renderer, error) {
	f, ok := renderers[name]
	if !ok {
		return nil, errdefs.NotFoundf("renderer %q (have %v)", name, RendererNames())
	}
	return f(), nil
}

// RendererNames lists registered renderers in stable order.
func RendererNames() []string {
	names := make([]string, 0, len(renderers))
	for name := range renderers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// goTemplateRenderer executes text/template with the sprig function map.
// Missing context keys fail the render: silently empty fields have no
// place in device configuration.
type goTemplateRenderer struct{}

func (g *goTemplateRenderer) Render(source string, context map[string]any) (string, error) {
	tmpl, err := template.New("render").
		Funcs(sprig.TxtFuncMap()).
		Option("missingkey=error").
		Parse(source)
	if err != nil {
		return "", fmt.Errorf("%w: template parse: %v", errdefs.ErrValidation, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, context); err != nil {
		return "", fmt.Errorf("%w: template execute: %v", errdefs.ErrValidation, err)
	}
	return buf.String(), nil
}

// identityRenderer passes the source through untouched.
type identityRenderer struct{}

func (identityRenderer) Render(source string, _ map[string]any) (string, error) {
	return source, nil
}
