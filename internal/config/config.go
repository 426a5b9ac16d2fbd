// Package config provides configuration types and defaults for fedhost.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/zjrosen/fedhost/internal/composer"
	"github.com/zjrosen/fedhost/internal/registry"
	"github.com/zjrosen/fedhost/internal/sharedstate"
	"github.com/zjrosen/fedhost/internal/tracing"
)

// ModuleConfig describes one remote module.
type ModuleConfig struct {
	Name    string `mapstructure:"name" yaml:"name"`
	Scope   string `mapstructure:"scope" yaml:"scope,omitempty"` // defaults to Name
	Expose  string `mapstructure:"expose" yaml:"expose"`         // manifest key, e.g. "./Header"
	Title   string `mapstructure:"title" yaml:"title,omitempty"` // region title
	DevURL  string `mapstructure:"dev_url" yaml:"dev_url"`       // remoteEntry.json in development
	ProdURL string `mapstructure:"prod_url" yaml:"prod_url"`     // remoteEntry.json in production
}

// Descriptor converts m into a registry descriptor.
func (m ModuleConfig) Descriptor() registry.Descriptor {
	scope := m.Scope
	if scope == "" {
		scope = m.Name
	}
	return registry.Descriptor{
		Name:    m.Name,
		Scope:   scope,
		Expose:  m.Expose,
		Resolve: registry.StaticResolver(m.DevURL, m.ProdURL),
	}
}

// RecordsConfig points at the external record service.
type RecordsConfig struct {
	// URL is the service base; GET/PUT {URL}/user. Empty keeps state local.
	URL            string        `mapstructure:"url" yaml:"url"`
	FetchTimeout   time.Duration `mapstructure:"fetch_timeout" yaml:"fetch_timeout"`
	PersistTimeout time.Duration `mapstructure:"persist_timeout" yaml:"persist_timeout"`
	// Default is shown until the service answers, and kept when it doesn't.
	Default map[string]any `mapstructure:"default" yaml:"default"`
}

// RegistryConfig holds module loading options.
type RegistryConfig struct {
	LoadTimeout   time.Duration `mapstructure:"load_timeout" yaml:"load_timeout"`
	RenderTimeout time.Duration `mapstructure:"render_timeout" yaml:"render_timeout"`
}

// UIConfig holds user interface configuration options.
type UIConfig struct {
	ShowStatusBar bool   `mapstructure:"show_status_bar" yaml:"show_status_bar"`
	MarkdownStyle string `mapstructure:"markdown_style" yaml:"markdown_style"` // "auto" (default) or "notty"
}

// ThemeConfig overrides individual palette colors.
type ThemeConfig struct {
	Muted   string `mapstructure:"muted" yaml:"muted,omitempty"`
	Error   string `mapstructure:"error" yaml:"error,omitempty"`
	Success string `mapstructure:"success" yaml:"success,omitempty"`
}

// Config holds all configuration options for fedhost.
type Config struct {
	Environment  string           `mapstructure:"environment" yaml:"environment"`
	Modules      []ModuleConfig   `mapstructure:"modules" yaml:"modules"`
	Layout       []string         `mapstructure:"layout" yaml:"layout"`
	Routes       []composer.Route `mapstructure:"routes" yaml:"routes"`
	DefaultRoute string           `mapstructure:"default_route" yaml:"default_route"`
	Records      RecordsConfig    `mapstructure:"records" yaml:"records"`
	Registry     RegistryConfig   `mapstructure:"registry" yaml:"registry"`
	UI           UIConfig         `mapstructure:"ui" yaml:"ui"`
	Theme        ThemeConfig      `mapstructure:"theme" yaml:"theme"`
	Tracing      tracing.Config   `mapstructure:"tracing" yaml:"tracing"`
}

// DefaultTracesFilePath returns ~/.config/fedhost/traces/traces.jsonl, or ""
// when the home directory is unavailable.
func DefaultTracesFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "fedhost", "traces", "traces.jsonl")
}

// DefaultModules returns the header, products and orders remotes on their
// development ports.
func DefaultModules() []ModuleConfig {
	const bucket = "https://your-s3-bucket.s3.amazonaws.com"
	return []ModuleConfig{
		{Name: "headerMfe", Expose: "./Header", Title: "Header", DevURL: "http://localhost:3001/remoteEntry.json", ProdURL: bucket + "/header-mfe/remoteEntry.json"},
		{Name: "productsMfe", Expose: "./App", Title: "Products", DevURL: "http://localhost:3002/remoteEntry.json", ProdURL: bucket + "/products-mfe/remoteEntry.json"},
		{Name: "ordersMfe", Expose: "./App", Title: "Orders", DevURL: "http://localhost:3003/remoteEntry.json", ProdURL: bucket + "/orders-mfe/remoteEntry.json"},
	}
}

// DefaultRecord is the user shown before the record service answers.
func DefaultRecord() map[string]any {
	return map[string]any{
		"id":     "user_123",
		"name":   "Ada Lovelace",
		"email":  "ada@example.com",
		"role":   "Software Engineer",
		"avatar": "A",
	}
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	tc := tracing.DefaultConfig()
	tc.FilePath = DefaultTracesFilePath()
	return Config{
		Environment: string(registry.Development),
		Modules:     DefaultModules(),
		Layout:      []string{"headerMfe"},
		Routes: []composer.Route{
			{Path: "/products", Title: "Products", Modules: []string{"productsMfe"}},
			{Path: "/orders", Title: "Orders", Modules: []string{"ordersMfe"}},
		},
		DefaultRoute: "/products",
		Records: RecordsConfig{
			URL:            "http://localhost:3005",
			FetchTimeout:   sharedstate.DefaultFetchTimeout,
			PersistTimeout: sharedstate.DefaultPersistTimeout,
			Default:        DefaultRecord(),
		},
		Registry: RegistryConfig{
			LoadTimeout:   registry.DefaultLoadTimeout,
			RenderTimeout: 5 * time.Second,
		},
		UI: UIConfig{
			ShowStatusBar: true,
			MarkdownStyle: "auto",
		},
		Tracing: tc,
	}
}

var hexColor = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// Validate checks the configuration for errors. Cross references between
// modules, layout and routes are checked again by composer.New.
func (c Config) Validate() error {
	if _, err := registry.ParseEnvironment(c.Environment); err != nil {
		return err
	}
	if err := ValidateModules(c.Modules); err != nil {
		return err
	}
	if c.Records.URL != "" {
		if u, err := url.Parse(c.Records.URL); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("records.url %q must be an absolute URL", c.Records.URL)
		}
	}
	if c.Registry.LoadTimeout < 0 || c.Registry.RenderTimeout < 0 {
		return fmt.Errorf("registry timeouts must not be negative")
	}
	switch c.UI.MarkdownStyle {
	case "", "auto", "notty":
	default:
		return fmt.Errorf("ui.markdown_style must be \"auto\" or \"notty\", got %q", c.UI.MarkdownStyle)
	}
	for name, color := range map[string]string{"muted": c.Theme.Muted, "error": c.Theme.Error, "success": c.Theme.Success} {
		if color != "" && !hexColor.MatchString(color) {
			return fmt.Errorf("theme.%s %q must be a hex color like #RRGGBB", name, color)
		}
	}
	return ValidateTracing(c.Tracing)
}

// ValidateModules checks module definitions for missing fields and duplicates.
func ValidateModules(mods []ModuleConfig) error {
	seen := make(map[string]bool, len(mods))
	for i, m := range mods {
		if m.Name == "" {
			return fmt.Errorf("module %d: name is required", i)
		}
		if seen[m.Name] {
			return fmt.Errorf("module %s: defined twice", m.Name)
		}
		seen[m.Name] = true
		if m.Expose == "" {
			return fmt.Errorf("module %s: expose is required", m.Name)
		}
		if m.DevURL == "" && m.ProdURL == "" {
			return fmt.Errorf("module %s: dev_url or prod_url is required", m.Name)
		}
	}
	return nil
}

// ValidateTracing checks tracing configuration for errors.
func ValidateTracing(tc tracing.Config) error {
	switch tc.Exporter {
	case "", tracing.ExporterNone, tracing.ExporterFile, tracing.ExporterStdout, tracing.ExporterOTLP:
	default:
		return fmt.Errorf("tracing.exporter must be one of none, file, stdout, otlp; got %q", tc.Exporter)
	}
	if tc.SampleRate < 0 || tc.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", tc.SampleRate)
	}
	return nil
}

// Titles maps module names to their configured titles.
func (c Config) Titles() map[string]string {
	out := make(map[string]string, len(c.Modules))
	for _, m := range c.Modules {
		if m.Title != "" {
			out[m.Name] = m.Title
		}
	}
	return out
}

// Descriptors returns registry descriptors for every configured module.
func (c Config) Descriptors() []registry.Descriptor {
	out := make([]registry.Descriptor, 0, len(c.Modules))
	for _, m := range c.Modules {
		out = append(out, m.Descriptor())
	}
	return out
}
