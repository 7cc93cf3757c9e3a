package render

import (
	"encoding/json"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/sitegui/knockd/internal/i18n"
)

// Renderer parses every page template once at startup and executes them
// against request-specific data, translating `{{t .Lang "key"}}` calls
// through the gateway's i18n table.
type Renderer struct {
	translations *i18n.I18n
	templates    map[string]*template.Template
	logger       *slog.Logger
}

// New parses the embedded templates. translations may be nil, in which case
// the `t` template function falls back to returning the key unchanged.
func New(translations *i18n.I18n, logger *slog.Logger) (*Renderer, error) {
	sub, err := fs.Sub(templatesFS, "templates")
	if err != nil {
		return nil, err
	}

	r := &Renderer{translations: translations, logger: logger, templates: make(map[string]*template.Template)}

	funcMap := template.FuncMap{
		"t": r.translate,
		"toJSON": func(v any) template.JS {
			b, _ := json.Marshal(v)
			return template.JS(b)
		},
	}

	for _, page := range []string{"login.html", "portal.html"} {
		tmpl, err := template.New(page).Funcs(funcMap).ParseFS(sub, page)
		if err != nil {
			return nil, err
		}
		r.templates[page] = tmpl
	}

	return r, nil
}

func (r *Renderer) translate(lang, key string) string {
	if r.translations == nil {
		return key
	}
	tr, err := r.translations.Translator(lang)
	if err != nil {
		r.logger.Warn("unknown language", "lang", lang)
		return key
	}
	return tr.Translate(key)
}

// Render executes the named page template against data.
func (r *Renderer) Render(w http.ResponseWriter, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	tmpl, ok := r.templates[name]
	if !ok {
		r.logger.Error("template not found", "template", name)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if err := tmpl.ExecuteTemplate(w, name, data); err != nil {
		r.logger.Error("template render error", "template", name, "error", err)
	}
}

// StaticHandler serves the embedded stylesheet and any other static asset
// under /static/.
func StaticHandler() http.Handler {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	return http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
}
