// Package web contains the embedded templates and scripts of the provider
// management page and the lazyload embed card.
package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"
	"sync"
)

// Templates contains the embedded HTML templates and browser scripts.
//
//go:embed *.html *.js
var Templates embed.FS

var (
	parseOnce sync.Once
	parsed    *template.Template
	parseErr  error
)

var funcs = template.FuncMap{
	"join": strings.Join,
}

// Parse returns the parsed template set. Templates are named after their
// file, e.g. "managementpagerow.html".
func Parse() (*template.Template, error) {
	parseOnce.Do(func() {
		parsed, parseErr = template.New("web").Funcs(funcs).ParseFS(Templates, "*.html")
	})
	return parsed, parseErr
}

// Render executes the named template into a string.
func Render(name string, data any) (string, error) {
	t, err := Parse()
	if err != nil {
		return "", fmt.Errorf("parse templates: %w", err)
	}
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

// Script returns an embedded browser script.
func Script(name string) (string, error) {
	b, err := Templates.ReadFile(name)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
