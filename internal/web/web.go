package web

import (
	"bytes"
	"embed"
	"html/template"
	"io/fs"
)

// StaticFs holds landing page template and documentation
//
//go:embed static
var StaticFs embed.FS

var indexTmpl = template.Must(template.ParseFS(StaticFs, "static/index.tmpl"))

// Page holds landing page parameters
type Page struct {
	Base       string
	ServerInfo string
}

// Index renders landing page
func Index(p Page) ([]byte, error) {
	var buf bytes.Buffer
	if err := indexTmpl.Execute(&buf, p); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Docs returns markdown API documentation
func Docs() ([]byte, error) {
	return fs.ReadFile(StaticFs, "static/docs.md")
}
