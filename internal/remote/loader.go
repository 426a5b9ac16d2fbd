package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/fedhost/internal/log"
	"github.com/zjrosen/fedhost/internal/module"
	"github.com/zjrosen/fedhost/internal/registry"
	"github.com/zjrosen/fedhost/internal/tracing"
	"github.com/zjrosen/fedhost/internal/ui/markdown"
)

const (
	// DefaultRenderTimeout bounds each fragment render call.
	DefaultRenderTimeout = 5 * time.Second
	maxManifestBytes     = 1 << 20
	maxFragmentBytes     = 4 << 20
)

// Config configures a Loader.
type Config struct {
	HTTPClient    *http.Client
	RenderTimeout time.Duration
	Markdown      *markdown.Renderer
	Tracer        trace.Tracer
}

// Loader fetches manifests and builds fragment modules. It implements
// registry.Fetcher.
type Loader struct {
	client        *http.Client
	renderTimeout time.Duration
	markdown      *markdown.Renderer
	tracer        trace.Tracer
}

var _ registry.Fetcher = (*Loader)(nil)

// NewLoader creates a Loader.
func NewLoader(cfg Config) *Loader {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.RenderTimeout <= 0 {
		cfg.RenderTimeout = DefaultRenderTimeout
	}
	if cfg.Markdown == nil {
		cfg.Markdown = markdown.New(true)
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("fedhost/remote")
	}
	return &Loader{
		client:        cfg.HTTPClient,
		renderTimeout: cfg.RenderTimeout,
		markdown:      cfg.Markdown,
		tracer:        cfg.Tracer,
	}
}

// Fetch downloads the manifest at manifestURL, selects d.Expose and returns
// a factory for fragments of that entry.
func (l *Loader) Fetch(ctx context.Context, manifestURL string, d registry.Descriptor) (module.Factory, error) {
	m, err := l.Manifest(ctx, manifestURL)
	if err != nil {
		return nil, err
	}
	if d.Scope != "" && m.Name != d.Scope {
		return nil, fmt.Errorf("%w: manifest name %q does not match scope %q", registry.ErrMalformed, m.Name, d.Scope)
	}
	entry, err := m.Entry(d.Expose)
	if err != nil {
		return nil, err
	}
	target, err := endpoint(manifestURL, entry.Path)
	if err != nil {
		return nil, err
	}
	log.Debug(log.CatRemote, "entry resolved", "module", d.Name, "expose", d.Expose, "endpoint", target)

	return func() (module.Module, error) {
		return newFragment(l, d.Name, target, entry), nil
	}, nil
}

// Manifest fetches and validates the manifest at manifestURL.
func (l *Loader) Manifest(ctx context.Context, manifestURL string) (*Manifest, error) {
	ctx, span := l.tracer.Start(ctx, tracing.SpanRemoteManifest, trace.WithAttributes(attribute.String(tracing.AttrHTTPURL, manifestURL)))
	defer span.End()

	m, err := l.manifest(ctx, manifestURL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String(tracing.AttrManifestName, m.Name), attribute.String(tracing.AttrManifestVersion, m.Version))
	return m, nil
}

func (l *Loader) manifest(ctx context.Context, manifestURL string) (*Manifest, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", registry.ErrResolve, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", registry.ErrUnreachable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: HTTP %d", registry.ErrUnreachable, resp.StatusCode)
	}

	var m Manifest
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxManifestBytes)).Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: decoding manifest: %v", registry.ErrMalformed, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}
