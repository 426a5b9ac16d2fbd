// Package remote loads modules served over HTTP. A remote publishes a
// manifest (remoteEntry.json) naming its exposed entries; each entry is a
// fragment endpoint that renders content for the posted route and state.
package remote

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/zjrosen/fedhost/internal/module"
	"github.com/zjrosen/fedhost/internal/registry"
)

// Manifest is the document served at a module's entry URL.
type Manifest struct {
	Name    string            `json:"name" yaml:"name"`
	Version string            `json:"version,omitempty" yaml:"version,omitempty"`
	Exposes map[string]Expose `json:"exposes" yaml:"exposes"`
}

// Expose describes one exposed entry.
type Expose struct {
	// Path is the fragment endpoint, resolved against the manifest URL.
	Path    string          `json:"path" yaml:"path"`
	Title   string          `json:"title,omitempty" yaml:"title,omitempty"`
	Actions []module.Action `json:"actions,omitempty" yaml:"actions,omitempty"`
}

// Validate reports a malformed manifest.
func (m *Manifest) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("%w: manifest has no name", registry.ErrMalformed)
	}
	if len(m.Exposes) == 0 {
		return fmt.Errorf("%w: manifest %s exposes nothing", registry.ErrMalformed, m.Name)
	}
	for key, e := range m.Exposes {
		if strings.TrimSpace(e.Path) == "" {
			return fmt.Errorf("%w: entry %s has no path", registry.ErrMalformed, key)
		}
	}
	return nil
}

// Entry returns the exposed entry for key. Keys match with or without the
// leading "./".
func (m *Manifest) Entry(key string) (Expose, error) {
	if e, ok := m.Exposes[key]; ok {
		return e, nil
	}
	alt := "./" + strings.TrimPrefix(key, "./")
	if alt == key {
		alt = strings.TrimPrefix(key, "./")
	}
	if e, ok := m.Exposes[alt]; ok {
		return e, nil
	}
	return Expose{}, fmt.Errorf("%w: %s does not expose %q", registry.ErrEntryNotFound, m.Name, key)
}

// endpoint resolves an entry path against the manifest URL.
func endpoint(manifestURL, path string) (string, error) {
	base, err := url.Parse(manifestURL)
	if err != nil {
		return "", fmt.Errorf("%w: bad manifest url: %v", registry.ErrMalformed, err)
	}
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("%w: bad entry path %q: %v", registry.ErrMalformed, path, err)
	}
	return base.ResolveReference(ref).String(), nil
}
