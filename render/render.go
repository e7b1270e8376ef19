// Package render turns a built digest into the HTML and plain-text bodies
// of a notification email.
package render

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"
	"time"

	"digest-notifier/pkg/digest"
)

//go:embed templates/*
var templateFS embed.FS

// Renderer renders digests with the embedded notification templates.
type Renderer struct {
	html       *htmltemplate.Template
	text       *texttemplate.Template
	appName    string
	serverName string
}

type templateData struct {
	AppName    string
	ServerName string
	Digest     *digest.Digest
}

// New creates a renderer for the given branding.
func New(appName, serverName string) (*Renderer, error) {
	funcs := map[string]any{
		// Message bodies are pre-sanitized; mark them as safe for the
		// HTML template.
		"safeHTML": func(s string) htmltemplate.HTML { return htmltemplate.HTML(s) },
		"formatTS": formatTS,
	}

	htmlTmpl, err := htmltemplate.New("notif.html.tmpl").Funcs(funcs).ParseFS(templateFS, "templates/notif.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse html template: %w", err)
	}
	textTmpl, err := texttemplate.New("notif.txt.tmpl").Funcs(texttemplate.FuncMap{"formatTS": formatTS}).ParseFS(templateFS, "templates/notif.txt.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse text template: %w", err)
	}

	return &Renderer{
		html:       htmlTmpl,
		text:       textTmpl,
		appName:    appName,
		serverName: serverName,
	}, nil
}

// HTML renders the rich email body for a digest.
func (r *Renderer) HTML(d *digest.Digest) (string, error) {
	var buf bytes.Buffer
	if err := r.html.Execute(&buf, templateData{AppName: r.appName, ServerName: r.serverName, Digest: d}); err != nil {
		return "", fmt.Errorf("render html body: %w", err)
	}
	return buf.String(), nil
}

// Text renders the plain-text alternative body for a digest.
func (r *Renderer) Text(d *digest.Digest) (string, error) {
	var buf bytes.Buffer
	if err := r.text.Execute(&buf, templateData{AppName: r.appName, ServerName: r.serverName, Digest: d}); err != nil {
		return "", fmt.Errorf("render text body: %w", err)
	}
	return buf.String(), nil
}

// formatTS renders a millisecond timestamp for display.
func formatTS(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("Jan 2, 2006 at 3:04 PM")
}
