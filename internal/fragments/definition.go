// Package fragments serves a remote module from a directory: module.yaml
// declares the manifest and each exposed entry renders a text/template
// against the posted route and shared state.
package fragments

import (
	"bytes"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/zjrosen/fedhost/internal/module"
	"github.com/zjrosen/fedhost/internal/remote"
)

// DefinitionFile is the module definition read from the served directory.
const DefinitionFile = "module.yaml"

// Definition is the parsed module.yaml.
type Definition struct {
	Name    string           `yaml:"name"`
	Version string           `yaml:"version"`
	Exposes map[string]Entry `yaml:"exposes"`
}

// Entry is one exposed fragment.
type Entry struct {
	Title    string          `yaml:"title"`
	Template string          `yaml:"template"`
	Format   string          `yaml:"format"`
	Actions  []module.Action `yaml:"actions"`
	// Status, when set, is returned instead of rendering. Used to exercise
	// fault handling in the host.
	Status int `yaml:"status"`
}

// site is a loaded directory: definition plus parsed templates.
type site struct {
	def       Definition
	templates map[string]*template.Template // by expose key
	paths     map[string]string             // fragment path -> expose key
}

// FragmentPath returns the endpoint path for an expose key, e.g.
// "./Header" -> "/fragments/header".
func FragmentPath(key string) string {
	slug := strings.ToLower(strings.Trim(strings.TrimPrefix(key, "./"), "/"))
	slug = strings.ReplaceAll(slug, "/", "-")
	return path.Join("/fragments", slug)
}

func load(dir string) (*site, error) {
	data, err := os.ReadFile(filepath.Join(dir, DefinitionFile)) //nolint:gosec // G304: served directory chosen by the user
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", DefinitionFile, err)
	}
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", DefinitionFile, err)
	}
	if def.Name == "" {
		return nil, fmt.Errorf("%s: name is required", DefinitionFile)
	}
	if len(def.Exposes) == 0 {
		return nil, fmt.Errorf("%s: exposes is empty", DefinitionFile)
	}

	s := &site{def: def, templates: map[string]*template.Template{}, paths: map[string]string{}}
	for key, e := range def.Exposes {
		p := FragmentPath(key)
		if other, ok := s.paths[p]; ok {
			return nil, fmt.Errorf("exposes %s and %s share path %s", other, key, p)
		}
		s.paths[p] = key
		if e.Status != 0 {
			continue
		}
		if e.Template == "" {
			return nil, fmt.Errorf("expose %s: template is required", key)
		}
		tmpl, err := template.New(filepath.Base(e.Template)).Funcs(funcs).ParseFiles(filepath.Join(dir, e.Template))
		if err != nil {
			return nil, fmt.Errorf("expose %s: %w", key, err)
		}
		s.templates[key] = tmpl
	}
	return s, nil
}

// manifest builds the remoteEntry.json document.
func (s *site) manifest() remote.Manifest {
	m := remote.Manifest{Name: s.def.Name, Version: s.def.Version, Exposes: map[string]remote.Expose{}}
	for key, e := range s.def.Exposes {
		m.Exposes[key] = remote.Expose{Path: FragmentPath(key), Title: e.Title, Actions: e.Actions}
	}
	return m
}

// keys returns expose keys in sorted order.
func (s *site) keys() []string {
	out := make([]string, 0, len(s.def.Exposes))
	for k := range s.def.Exposes {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// templateData is what fragment templates see.
type templateData struct {
	Module string
	Route  string
	User   map[string]any
	State  any
}

func (s *site) render(key string, req remote.RenderRequest) (remote.RenderResponse, error) {
	tmpl, ok := s.templates[key]
	if !ok {
		return remote.RenderResponse{}, fmt.Errorf("no template for %s", key)
	}
	var buf bytes.Buffer
	err := tmpl.Execute(&buf, templateData{
		Module: req.Module,
		Route:  req.Route,
		User:   req.State.Record,
		State:  req.State,
	})
	if err != nil {
		return remote.RenderResponse{}, err
	}
	format := s.def.Exposes[key].Format
	if format == "" {
		format = remote.FormatMarkdown
	}
	return remote.RenderResponse{Content: buf.String(), Format: format}, nil
}

var funcs = template.FuncMap{
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"join":  strings.Join,
	"field": func(rec map[string]any, key string) string {
		v, ok := rec[key]
		if !ok || v == nil {
			return ""
		}
		return fmt.Sprint(v)
	},
	"default": func(def string, v any) string {
		if v == nil || fmt.Sprint(v) == "" {
			return def
		}
		return fmt.Sprint(v)
	},
}
