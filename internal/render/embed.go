// Package render serves the login and portal pages from embedded HTML
// templates and a small stylesheet.
package render

import "embed"

//go:embed templates/*.html
var templatesFS embed.FS

//go:embed static/*
var staticFS embed.FS
