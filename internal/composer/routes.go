package composer

import (
	"path"
	"strings"
)

// Route maps a path prefix to the modules rendered for it, in order.
type Route struct {
	Path    string   `mapstructure:"path" yaml:"path"`
	Title   string   `mapstructure:"title" yaml:"title,omitempty"`
	Modules []string `mapstructure:"modules" yaml:"modules"`
}

// Match is the result of resolving a path against the route table.
type Match struct {
	// Path is the normalized path being shown.
	Path string
	// Route is nil when nothing matched.
	Route *Route
	// Redirected is set when "/" was sent to the default route.
	Redirected bool
}

// NotFound reports whether no route matched.
func (m Match) NotFound() bool {
	return m.Route == nil
}

// normalizePath cleans p and makes it absolute.
func normalizePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// resolve picks the route with the longest prefix of p. "/products" matches
// "/products" and "/products/42" but not "/productsx".
func resolve(routes []Route, defaultRoute, p string) Match {
	p = normalizePath(p)
	redirected := false
	if p == "/" && defaultRoute != "" && normalizePath(defaultRoute) != "/" {
		p = normalizePath(defaultRoute)
		redirected = true
	}

	var best *Route
	for i := range routes {
		prefix := normalizePath(routes[i].Path)
		if !matches(prefix, p) {
			continue
		}
		if best == nil || len(prefix) > len(normalizePath(best.Path)) {
			best = &routes[i]
		}
	}
	return Match{Path: p, Route: best, Redirected: redirected}
}

func matches(prefix, p string) bool {
	if prefix == "/" {
		return p == "/"
	}
	return p == prefix || strings.HasPrefix(p, prefix+"/")
}
