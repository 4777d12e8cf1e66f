// Package templates renders the viewer page and its HTML fragments for
// Datastar SSE patches.
package templates

import (
	"bytes"
	"fmt"
	"html/template"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
)

// Patterns are the globs parsed from a template tree.
var Patterns = []string{"*.html", "fragments/*.html"}

var funcMap = template.FuncMap{
	// dict builds a map from key/value pairs for nested templates.
	"dict": func(values ...any) map[string]any {
		if len(values)%2 != 0 {
			return nil
		}
		m := make(map[string]any, len(values)/2)
		for i := 0; i < len(values); i += 2 {
			key, ok := values[i].(string)
			if !ok {
				continue
			}
			m[key] = values[i+1]
		}
		return m
	},
	// rgba formats an ArcGIS [r, g, b, a] color for CSS.
	"rgba": func(c []int) string {
		if len(c) < 3 {
			return "transparent"
		}
		alpha := 1.0
		if len(c) > 3 {
			alpha = float64(c[3]) / 255
		}
		return fmt.Sprintf("rgba(%d, %d, %d, %.2f)", c[0], c[1], c[2], alpha)
	},
	"lower": strings.ToLower,
}

// Renderer manages HTML templates.
type Renderer struct {
	mu        sync.RWMutex
	fsys      fs.FS
	templates *template.Template
}

// New parses the templates under dir.
func New(dir string) (*Renderer, error) {
	return NewFS(os.DirFS(dir))
}

// NewFS parses the templates in fsys.
func NewFS(fsys fs.FS) (*Renderer, error) {
	tmpl, err := parse(fsys)
	if err != nil {
		return nil, err
	}
	return &Renderer{fsys: fsys, templates: tmpl}, nil
}

func parse(fsys fs.FS) (*template.Template, error) {
	tmpl := template.New("").Funcs(funcMap)
	parsed := 0
	for _, pattern := range Patterns {
		matches, err := fs.Glob(fsys, pattern)
		if err != nil {
			return nil, eris.Wrapf(err, "templates: glob %s", pattern)
		}
		if len(matches) == 0 {
			continue
		}
		if tmpl, err = tmpl.ParseFS(fsys, pattern); err != nil {
			return nil, eris.Wrapf(err, "templates: parse %s", pattern)
		}
		parsed += len(matches)
	}
	if parsed == 0 {
		return nil, eris.New("templates: no templates found")
	}
	return tmpl, nil
}

// Render renders a named template to a string.
func (r *Renderer) Render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := r.RenderToBuffer(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderToBuffer renders a named template into buf.
func (r *Renderer) RenderToBuffer(buf *bytes.Buffer, name string, data any) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.templates.ExecuteTemplate(buf, name, data); err != nil {
		return eris.Wrapf(err, "templates: render %s", name)
	}
	return nil
}

// Has reports whether a template is defined.
func (r *Renderer) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.templates.Lookup(name) != nil
}

// Reload re-parses the templates, for development.
func (r *Renderer) Reload() error {
	tmpl, err := parse(r.fsys)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.templates = tmpl
	r.mu.Unlock()
	return nil
}

// Dir reports whether dir holds a template tree.
func Dir(dir string) bool {
	if dir == "" {
		return false
	}
	info, err := os.Stat(filepath.Join(dir, "fragments"))
	return err == nil && info.IsDir()
}
