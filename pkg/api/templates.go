package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/netpulse/netpulse/pkg/errdefs"
	"github.com/netpulse/netpulse/pkg/render"
)

// handleRender runs a renderer plugin standalone, outside any dispatch.
// The optional path segment names the plugin; it defaults to gotemplate.
// Source accepts the same file:// indirection as job commands.
func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" {
		name = render.RendererGoTemplate
	}

	var req TemplateRenderRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Source == "" {
		writeError(w, errdefs.Validationf("source is required"))
		return
	}

	renderer, err := render.NewRenderer(name)
	if err != nil {
		writeError(w, err)
		return
	}
	source, err := render.ResolveSource(req.Source, s.cfg.Plugins.TemplatePaths)
	if err != nil {
		writeError(w, err)
		return
	}
	rendered, err := renderer.Render(source, req.Context)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, rendered)
}

// handleParse runs a parser plugin over captured output. The optional
// path segment names the plugin; it defaults to regex, which needs the
// template field.
func (s *Server) handleParse(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" {
		name = render.ParserRegex
	}

	var req TemplateParseRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	template, err := render.ResolveSource(req.Template, s.cfg.Plugins.TemplatePaths)
	if err != nil {
		writeError(w, err)
		return
	}
	parser, err := render.NewParser(name, template)
	if err != nil {
		writeError(w, err)
		return
	}
	parsed, err := parser.Parse(req.Output)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, parsed)
}
