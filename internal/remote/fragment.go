package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/fedhost/internal/eventbus"
	"github.com/zjrosen/fedhost/internal/log"
	"github.com/zjrosen/fedhost/internal/module"
	"github.com/zjrosen/fedhost/internal/sharedstate"
	"github.com/zjrosen/fedhost/internal/tracing"
)

// Content formats a fragment endpoint may answer with.
const (
	FormatMarkdown = "markdown"
	FormatText     = "text"
)

// RenderRequest is the body POSTed to a fragment endpoint.
type RenderRequest struct {
	Module string            `json:"module"`
	Route  string            `json:"route"`
	State  sharedstate.State `json:"state"`
}

// RenderResponse is a fragment endpoint's answer.
type RenderResponse struct {
	Content string `json:"content"`
	Format  string `json:"format,omitempty"`
}

// FragmentError is returned for a failed render call.
type FragmentError struct {
	Module     string
	StatusCode int
	Err        error
}

func (e *FragmentError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fragment %s: HTTP %d", e.Module, e.StatusCode)
	}
	return fmt.Sprintf("fragment %s: %v", e.Module, e.Err)
}

func (e *FragmentError) Unwrap() error { return e.Err }

// Fragment is a module whose content is rendered by a remote endpoint.
// It re-fetches whenever shared state or the route changes.
type Fragment struct {
	loader   *Loader
	name     string
	endpoint string
	entry    Expose

	mu      sync.Mutex
	env     module.Env
	route   string
	content RenderResponse
	err     error
	seq     uint64
	shown   uint64 // seq of the render held in content
	mounted bool
	ctx     context.Context
	cancel  context.CancelFunc
}

var (
	_ module.Module     = (*Fragment)(nil)
	_ module.Actionable = (*Fragment)(nil)
)

func newFragment(l *Loader, name, endpoint string, entry Expose) *Fragment {
	return &Fragment{loader: l, name: name, endpoint: endpoint, entry: entry}
}

// Title returns the manifest title of the entry.
func (f *Fragment) Title() string {
	return f.entry.Title
}

// Mount subscribes to state and route changes and performs the first
// render fetch. A failed first fetch fails the mount.
func (f *Fragment) Mount(ctx context.Context, env module.Env) error {
	fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	f.mu.Lock()
	f.env = env
	f.route = env.Route
	f.ctx = fctx
	f.cancel = cancel
	f.mounted = true
	seq := f.seq
	f.mu.Unlock()

	if env.Events != nil {
		env.Events.Subscribe(eventbus.EventStateChanged, eventbus.On(func(st sharedstate.State) {
			f.refresh(&st)
		}))
		env.Events.Subscribe(eventbus.EventNavigateChanged, eventbus.On(func(req module.NavigateRequest) {
			f.mu.Lock()
			f.route = req.Path
			f.mu.Unlock()
			f.refresh(nil)
		}))
	}

	var st sharedstate.State
	if env.State != nil {
		st = env.State.Snapshot()
	}
	resp, err := f.fetch(ctx, env.Route, st)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		f.mounted = false
		cancel()
		return err
	}
	// A refresh that landed during the first fetch carries newer state.
	if f.shown <= seq {
		f.content = resp
		f.shown = seq
	}
	return nil
}

// refresh re-fetches in the background and asks the host to redraw. Only
// the newest refresh is applied. st is nil when only the route changed.
func (f *Fragment) refresh(st *sharedstate.State) {
	f.mu.Lock()
	if !f.mounted {
		f.mu.Unlock()
		return
	}
	f.seq++
	seq := f.seq
	ctx := f.ctx
	route := f.route
	env := f.env
	f.mu.Unlock()

	var state sharedstate.State
	switch {
	case st != nil:
		state = st.Clone()
	case env.State != nil:
		state = env.State.Snapshot()
	}

	log.SafeGo("remote.refresh."+f.name, func() {
		resp, err := f.fetch(ctx, route, state)

		f.mu.Lock()
		if !f.mounted || seq != f.seq {
			f.mu.Unlock()
			return
		}
		f.err = err
		if err == nil {
			f.content = resp
			f.shown = seq
		}
		f.mu.Unlock()
		env.Redraw()
	})
}

func (f *Fragment) fetch(ctx context.Context, route string, st sharedstate.State) (RenderResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, f.loader.renderTimeout)
	defer cancel()
	ctx, span := f.loader.tracer.Start(ctx, tracing.SpanRemoteRender, trace.WithAttributes(
		attribute.String(tracing.AttrModuleName, f.name),
		attribute.String(tracing.AttrModuleRoute, route),
		attribute.String(tracing.AttrHTTPURL, f.endpoint),
	))
	defer span.End()

	resp, err := f.post(ctx, route, st)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.ErrorErr(log.CatRemote, "fragment render failed", err, "module", f.name, "route", route)
		return RenderResponse{}, err
	}
	return resp, nil
}

func (f *Fragment) post(ctx context.Context, route string, st sharedstate.State) (RenderResponse, error) {
	body, err := json.Marshal(RenderRequest{Module: f.name, Route: route, State: st})
	if err != nil {
		return RenderResponse{}, &FragmentError{Module: f.name, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint, bytes.NewReader(body))
	if err != nil {
		return RenderResponse{}, &FragmentError{Module: f.name, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.loader.client.Do(req)
	if err != nil {
		return RenderResponse{}, &FragmentError{Module: f.name, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return RenderResponse{}, &FragmentError{Module: f.name, StatusCode: resp.StatusCode}
	}
	var out RenderResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxFragmentBytes)).Decode(&out); err != nil {
		return RenderResponse{}, &FragmentError{Module: f.name, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return out, nil
}

// Render returns the last fetched content. A failed refresh is reported
// here so the host can fault the region.
func (f *Fragment) Render(width int) (string, error) {
	f.mu.Lock()
	content, err, mounted := f.content, f.err, f.mounted
	f.mu.Unlock()

	if !mounted {
		return "", module.ErrNotMounted
	}
	if err != nil {
		return "", err
	}
	switch strings.ToLower(content.Format) {
	case "", FormatText:
		return content.Content, nil
	case FormatMarkdown, "md":
		return f.loader.markdown.Render(content.Content, width)
	default:
		return "", &FragmentError{Module: f.name, Err: fmt.Errorf("unsupported format %q", content.Format)}
	}
}

// Unmount stops background refreshes.
func (f *Fragment) Unmount() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.mounted {
		return
	}
	f.mounted = false
	if f.cancel != nil {
		f.cancel()
	}
}

// Actions returns the key actions declared in the manifest.
func (f *Fragment) Actions() []module.Action {
	return append([]module.Action(nil), f.entry.Actions...)
}

// Trigger runs the action bound to key.
func (f *Fragment) Trigger(key string) bool {
	f.mu.Lock()
	env, mounted := f.env, f.mounted
	f.mu.Unlock()
	if !mounted {
		return false
	}

	for _, a := range f.entry.Actions {
		if a.Key != key {
			continue
		}
		if err := f.dispatch(env, a); err != nil {
			log.ErrorErr(log.CatRemote, "action failed", err, "module", f.name, "key", key)
		}
		return true
	}
	return false
}

var errNoEvents = errors.New("module has no event scope")

func (f *Fragment) dispatch(env module.Env, a module.Action) error {
	switch a.Event {
	case eventbus.EventStateUpdateRequest:
		if env.State == nil {
			return errors.New("module has no state client")
		}
		env.State.Submit(sharedstate.Record(a.Payload))
		return nil
	case eventbus.EventNavigateRequest:
		if env.Events == nil {
			return errNoEvents
		}
		path, _ := a.Payload["path"].(string)
		env.Events.Publish(a.Event, module.NavigateRequest{Path: path, Source: f.name})
		return nil
	default:
		if env.Events == nil {
			return errNoEvents
		}
		env.Events.Publish(a.Event, a.Payload)
		return nil
	}
}
