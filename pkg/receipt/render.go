package receipt

import (
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/flosch/pongo2/v6"
	gotemplate "github.com/goliatone/go-template"
)

// DefaultTemplate is the embedded template name.
const DefaultTemplate = "receipt.tpl"

const templateExt = ".tpl"

//go:embed templates/*.tpl
var embedded embed.FS

// Engine is the part of the go-template renderer contract receipts need.
// The engine built by NewRenderer satisfies it, as does any renderer
// returned by gotemplate.NewRenderer.
type Engine interface {
	RenderTemplate(name string, data any, out ...io.Writer) (string, error)
}

// Option configures a Renderer.
type Option func(*config)

type config struct {
	baseDir  string
	files    fs.FS
	template string
	engine   Engine
}

// WithTemplateDir loads templates from a directory on disk, ahead of the
// embedded ones.
func WithTemplateDir(dir string) Option {
	return func(cfg *config) {
		cfg.baseDir = strings.TrimSpace(dir)
	}
}

// WithTemplateFS loads templates from files instead of the embedded set.
func WithTemplateFS(files fs.FS) Option {
	return func(cfg *config) {
		cfg.files = files
	}
}

// WithTemplate selects the template rendered by Render.
func WithTemplate(name string) Option {
	return func(cfg *config) {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			cfg.template = trimmed
		}
	}
}

// WithEngine renders through an existing go-template engine. Template
// directory and FS options are ignored.
func WithEngine(engine Engine) Option {
	return func(cfg *config) {
		cfg.engine = engine
	}
}

// Renderer executes a receipt template.
type Renderer struct {
	engine   Engine
	template string
}

// NewRenderer builds a go-template engine over the configured templates and
// checks that the selected template exists.
func NewRenderer(opts ...Option) (*Renderer, error) {
	cfg := &config{template: DefaultTemplate}
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}
	registerFilters()

	if cfg.engine != nil {
		return &Renderer{engine: cfg.engine, template: cfg.template}, nil
	}

	files, err := templateFiles(cfg)
	if err != nil {
		return nil, err
	}
	if _, err := fs.Stat(files, cfg.template); err != nil {
		return nil, fmt.Errorf("receipt: load template %q: %w", cfg.template, err)
	}

	engine, err := gotemplate.NewRenderer(
		gotemplate.WithFS(files),
		gotemplate.WithExtension(templateExt),
	)
	if err != nil {
		return nil, fmt.Errorf("receipt: create template engine: %w", err)
	}
	return &Renderer{engine: engine, template: cfg.template}, nil
}

// MustNewRenderer is NewRenderer for the embedded template.
func MustNewRenderer(opts ...Option) *Renderer {
	r, err := NewRenderer(opts...)
	if err != nil {
		panic(err)
	}
	return r
}

// Render writes r to w.
func (r *Renderer) Render(w io.Writer, rec Receipt) error {
	out, err := r.render(rec)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, out)
	return err
}

// String renders rec to a string.
func (r *Renderer) String(rec Receipt) (string, error) {
	out, err := r.render(rec)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(out, "\n"), nil
}

func (r *Renderer) render(rec Receipt) (string, error) {
	if r == nil || r.engine == nil {
		return "", errors.New("receipt: renderer is nil")
	}
	out, err := r.engine.RenderTemplate(r.template, map[string]any{"receipt": rec.context()})
	if err != nil {
		return "", fmt.Errorf("receipt: execute template: %w", err)
	}
	return out, nil
}

func templateFiles(cfg *config) (fs.FS, error) {
	files := cfg.files
	if files == nil {
		sub, err := fs.Sub(embedded, "templates")
		if err != nil {
			return nil, fmt.Errorf("receipt: embedded templates: %w", err)
		}
		files = sub
	}
	if cfg.baseDir == "" {
		return files, nil
	}
	info, err := os.Stat(cfg.baseDir)
	if err != nil {
		return nil, fmt.Errorf("receipt: template dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("receipt: template dir %q is not a directory", cfg.baseDir)
	}
	return overlayFS{primary: os.DirFS(cfg.baseDir), fallback: files}, nil
}

// overlayFS serves files from primary and falls back to fallback when a
// name is missing there.
type overlayFS struct {
	primary  fs.FS
	fallback fs.FS
}

func (o overlayFS) Open(name string) (fs.File, error) {
	f, err := o.primary.Open(name)
	if err == nil {
		return f, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return o.fallback.Open(name)
}

// registerFilters adds the filters receipt templates rely on. Filters are
// global to pongo2, which go-template executes with.
func registerFilters() {
	if !pongo2.FilterExists("trim") {
		_ = pongo2.RegisterFilter("trim", filterTrim)
	}
}

func filterTrim(in *pongo2.Value, _ *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	return pongo2.AsValue(strings.TrimSpace(in.String())), nil
}
