// Package views holds the HTML fragments returned to HTMX requests. The
// components are written in alert.templ; run templ generate after editing it.
package views
