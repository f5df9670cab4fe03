// Package web contains embedded HTML templates for the router status page.
package web

import "embed"

// Templates contains the embedded HTML templates.
//
//go:embed *.html
var Templates embed.FS
