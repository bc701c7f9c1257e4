package export

import "strings"

// Renderer turns a Dataset into a downloadable document.
type Renderer interface {
	Render(Dataset) ([]byte, error)
	ContentType() string
	Extension() string
}

// Registry resolves renderers by format name.
type Registry struct {
	renderers map[string]Renderer
}

// NewRegistry builds a registry holding the CSV renderer and a PDF renderer using fontPath.
func NewRegistry(fontPath string) *Registry {
	return &Registry{renderers: map[string]Renderer{
		"csv": NewCSVExporter(),
		"pdf": NewPDFExporter(fontPath),
	}}
}

// Lookup returns the renderer for format, case-insensitively.
func (r *Registry) Lookup(format string) (Renderer, bool) {
	rd, ok := r.renderers[strings.ToLower(strings.TrimSpace(format))]
	return rd, ok
}
