/*
Package render provides the template plugins of the execute pipeline:
renderers that turn templates plus context into device input, and parsers
that extract structure from raw driver output.

Renderers:

	gotemplate   text/template with the sprig function map; missing
	             context keys fail the render
	identity     source passes through untouched

Parsers:

	regex        all matches of the pattern; named capture groups yield
	             one record map per match
	json         output decoded as a JSON document
	identity     output passes through untouched

Template sources may be inline or file://<name>, resolved against the
configured plugins.template_paths directories.

Both registries are static; an unknown name is a NotFound error, which
the API surfaces as 404.
*/
package render
