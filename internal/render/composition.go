package render

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/foxzi/adcraft/internal/models"
)

//go:embed compositions/*.html
var builtinFS embed.FS

// Composition defaults when neither the options nor the props set a value
const (
	DefaultWidth   = 1080
	DefaultHeight  = 1080
	DefaultQuality = 90
)

// ErrCompositionNotFound is returned for unknown composition IDs
var ErrCompositionNotFound = errors.New("composition not found")

// Composition is a named HTML template rendered into a still image
type Composition struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	DefaultWidth  int    `json:"default_width"`
	DefaultHeight int    `json:"default_height"`
	Builtin       bool   `json:"builtin"`

	tmpl *template.Template
}

// Registry holds the available compositions
type Registry struct {
	mu    sync.RWMutex
	items map[string]*Composition
}

// NewRegistry returns a registry preloaded with the embedded compositions
func NewRegistry() (*Registry, error) {
	r := &Registry{items: make(map[string]*Composition)}

	entries, err := fs.ReadDir(builtinFS, "compositions")
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		data, err := builtinFS.ReadFile("compositions/" + e.Name())
		if err != nil {
			return nil, err
		}
		if err := r.Add(strings.TrimSuffix(e.Name(), ".html"), string(data), true); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// LoadDir adds every *.html file in dir, keyed by file name without extension.
// A file may replace a built-in composition of the same ID.
func (r *Registry) LoadDir(dir string) (int, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.html"))
	if err != nil {
		return 0, err
	}
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return 0, fmt.Errorf("read composition %s: %w", path, err)
		}
		id := strings.TrimSuffix(filepath.Base(path), ".html")
		if err := r.Add(id, string(data), false); err != nil {
			return 0, err
		}
	}
	return len(matches), nil
}

// Add parses and registers a composition
func (r *Registry) Add(id, source string, builtin bool) error {
	if id == "" {
		return errors.New("composition id is required")
	}
	t, err := template.New(id).Parse(source)
	if err != nil {
		return fmt.Errorf("invalid composition %s: %w", id, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[id] = &Composition{
		ID:            id,
		Name:          displayName(id),
		DefaultWidth:  DefaultWidth,
		DefaultHeight: DefaultHeight,
		Builtin:       builtin,
		tmpl:          t,
	}
	return nil
}

// Get returns the composition with the given ID
func (r *Registry) Get(id string) (*Composition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCompositionNotFound, id)
	}
	return c, nil
}

// List returns all compositions ordered by ID
func (r *Registry) List() []*Composition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Composition, 0, len(r.items))
	for _, c := range r.items {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// view is the data passed to composition templates
type view struct {
	models.AdTemplate
	Landscape       bool
	Padding         int
	Gap             int
	LogoSize        int
	HeadlineSize    int
	SubheadlineSize int
	BodySize        int
}

// HTML renders the composition for the given props and pixel size
func (c *Composition) HTML(props models.AdTemplate, width, height int) (string, error) {
	props.Width = width
	props.Height = height
	if props.BrandColor == "" {
		props.BrandColor = "#2563eb"
	}
	if props.BackgroundColor == "" {
		props.BackgroundColor = "#ffffff"
	}
	if props.TextColor == "" {
		props.TextColor = "#111827"
	}

	base := min(width, height)
	v := view{
		AdTemplate:      props,
		Landscape:       width > height,
		Padding:         max(base/16, 4),
		Gap:             max(base/48, 2),
		LogoSize:        max(base/8, 16),
		HeadlineSize:    max(base*9/100, 14),
		SubheadlineSize: max(base*5/100, 11),
		BodySize:        max(base*4/100, 10),
	}

	var buf bytes.Buffer
	if err := c.tmpl.Execute(&buf, v); err != nil {
		return "", fmt.Errorf("render composition %s: %w", c.ID, err)
	}
	return buf.String(), nil
}

func displayName(id string) string {
	words := strings.FieldsFunc(id, func(r rune) bool { return r == '-' || r == '_' })
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
