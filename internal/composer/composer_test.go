package composer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/fedhost/internal/boundary"
	"github.com/zjrosen/fedhost/internal/eventbus"
	"github.com/zjrosen/fedhost/internal/globals"
	"github.com/zjrosen/fedhost/internal/module"
	"github.com/zjrosen/fedhost/internal/pubsub"
	"github.com/zjrosen/fedhost/internal/registry"
	"github.com/zjrosen/fedhost/internal/sharedstate"
	"github.com/zjrosen/fedhost/internal/testutil"
)

var testRoutes = []Route{
	{Path: "/products", Title: "Products", Modules: []string{"productsMfe"}},
	{Path: "/products/featured", Title: "Featured", Modules: []string{"productsMfe", "promoMfe"}},
	{Path: "/orders", Title: "Orders", Modules: []string{"ordersMfe"}},
}

type testHost struct {
	*Composer
	reg *registry.Registry

	mu      sync.Mutex
	gates   map[string]chan struct{}
	fetched map[string]int
}

// newTestHost registers every module in testRoutes plus headerMfe. Modules
// listed in failing get a resolver that always fails; modules in gated
// block their fetch until released.
func newTestHost(t *testing.T, failing []string, gated ...string) *testHost {
	t.Helper()
	h := &testHost{gates: map[string]chan struct{}{}, fetched: map[string]int{}}
	for _, name := range gated {
		h.gates[name] = make(chan struct{})
	}
	h.reg = registry.New(registry.Config{
		LoadTimeout: 2 * time.Second,
		Fetcher: registry.FetcherFunc(func(ctx context.Context, _ string, d registry.Descriptor) (module.Factory, error) {
			h.mu.Lock()
			h.fetched[d.Name]++
			gate := h.gates[d.Name]
			h.mu.Unlock()
			if gate != nil {
				<-gate
			}
			return module.Static("content of " + d.Name), nil
		}),
	})
	for _, name := range []string{"headerMfe", "productsMfe", "promoMfe", "ordersMfe"} {
		resolve := registry.StaticResolver("http://localhost/"+name+"/remoteEntry.json", "")
		for _, f := range failing {
			if f == name {
				resolve = func(registry.Environment) (string, error) { return "", errors.New("rejected") }
			}
		}
		require.NoError(t, h.reg.Register(registry.Descriptor{Name: name, Expose: "./App", Resolve: resolve}))
	}

	c, err := New(Config{
		Layout:       []string{"headerMfe"},
		Routes:       testRoutes,
		DefaultRoute: "/products",
		Titles:       map[string]string{"headerMfe": "Header", "ordersMfe": "Orders"},
		Registry:     h.reg,
		State:        sharedstate.Config{Default: sharedstate.Record{"name": "Ada"}},
	})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	h.Composer = c
	return h
}

func (h *testHost) release(name string) {
	close(h.gates[name])
}

func (h *testHost) fetches(name string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fetched[name]
}

func names(regions []*boundary.Boundary) []string {
	var out []string
	for _, b := range regions {
		out = append(out, b.Name())
	}
	return out
}

func waitMounted(t *testing.T, c *Composer, name string) *boundary.Boundary {
	t.Helper()
	var b *boundary.Boundary
	require.Eventually(t, func() bool {
		var ok bool
		b, ok = c.Region(name)
		return ok && b.State() == boundary.StateMounted
	}, 2*time.Second, 5*time.Millisecond, "%s never mounted", name)
	return b
}

func TestResolve(t *testing.T) {
	tests := []struct {
		path       string
		wantPath   string
		wantRoute  string
		redirected bool
	}{
		{path: "/", wantPath: "/products", wantRoute: "/products", redirected: true},
		{path: "", wantPath: "/products", wantRoute: "/products", redirected: true},
		{path: "/products", wantPath: "/products", wantRoute: "/products"},
		{path: "/products/42", wantPath: "/products/42", wantRoute: "/products"},
		{path: "/products/featured/x", wantPath: "/products/featured/x", wantRoute: "/products/featured"},
		{path: "orders/", wantPath: "/orders", wantRoute: "/orders"},
		{path: "/productsx", wantPath: "/productsx"},
		{path: "/nowhere", wantPath: "/nowhere"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			m := resolve(testRoutes, "/products", tt.path)
			assert.Equal(t, tt.wantPath, m.Path)
			assert.Equal(t, tt.redirected, m.Redirected)
			if tt.wantRoute == "" {
				assert.True(t, m.NotFound())
				return
			}
			require.NotNil(t, m.Route)
			assert.Equal(t, tt.wantRoute, m.Route.Path)
		})
	}
}

func TestNew_ValidatesConfig(t *testing.T) {
	reg := registry.New(registry.Config{})
	require.NoError(t, reg.Register(registry.Descriptor{Name: "ordersMfe", Resolve: registry.StaticResolver("x", "")}))

	_, err := New(Config{Registry: reg, Layout: []string{"ghost"}})
	require.ErrorContains(t, err, `unknown module "ghost"`)

	_, err = New(Config{Registry: reg, Routes: []Route{{Path: "/orders", Modules: []string{"ordersMfe"}}}, DefaultRoute: "/products"})
	require.ErrorContains(t, err, "default route")

	_, err = New(Config{Registry: reg, Routes: []Route{{Path: "/orders"}, {Path: "/orders/"}}})
	require.ErrorContains(t, err, "duplicate route")

	_, err = New(Config{})
	require.Error(t, err)
}

func TestComposer_OwnsOneBrokerAndStore(t *testing.T) {
	h := newTestHost(t, nil)

	require.NoError(t, h.Start(context.Background(), "/"))

	broker, ok := globals.Lookup[*eventbus.Broker](h.Globals(), globals.KeyEventBroker)
	require.True(t, ok)
	require.Same(t, h.Broker(), broker)
	_, ok = globals.Lookup[sharedstate.State](h.Globals(), globals.KeySharedState)
	require.True(t, ok)
	require.False(t, h.Store().Snapshot().Loading)
}

func TestComposer_LayoutPersistsAcrossNavigation(t *testing.T) {
	h := newTestHost(t, nil)
	ctx := context.Background()
	require.NoError(t, h.Start(ctx, "/"))

	header := waitMounted(t, h.Composer, "headerMfe")
	products := waitMounted(t, h.Composer, "productsMfe")
	require.Equal(t, []string{"headerMfe", "productsMfe"}, names(h.Regions()))
	require.Equal(t, "/products", h.Current().Path)

	m, err := h.Navigate(ctx, "/orders")
	require.NoError(t, err)
	require.Equal(t, "/orders", m.Path)
	waitMounted(t, h.Composer, "ordersMfe")

	again, _ := h.Region("headerMfe")
	require.Same(t, header, again)
	require.Equal(t, boundary.StateMounted, header.State())
	require.Equal(t, boundary.StateUnmounted, products.State())
	require.Equal(t, []string{"headerMfe", "ordersMfe"}, names(h.Regions()))
	require.Equal(t, 1, h.fetches("headerMfe"))
}

func TestComposer_SameRouteKeepsRegions(t *testing.T) {
	h := newTestHost(t, nil)
	ctx := context.Background()
	require.NoError(t, h.Start(ctx, "/products"))
	first := waitMounted(t, h.Composer, "productsMfe")

	_, err := h.Navigate(ctx, "/products/42")
	require.NoError(t, err)

	again, _ := h.Region("productsMfe")
	require.Same(t, first, again)
	require.Equal(t, "/products/42", h.Current().Path)
}

func TestComposer_PendingModuleShowsPlaceholder(t *testing.T) {
	h := newTestHost(t, nil, "ordersMfe")
	ctx := context.Background()
	require.NoError(t, h.Start(ctx, "/orders"))

	orders, ok := h.Region("ordersMfe")
	require.True(t, ok)
	require.Equal(t, boundary.StateMounting, orders.State())
	require.Contains(t, orders.View(50, boundary.ViewOptions{}), "Loading Orders...")

	h.release("ordersMfe")
	waitMounted(t, h.Composer, "ordersMfe")
	require.Contains(t, orders.View(50, boundary.ViewOptions{}), "content of ordersMfe")
}

func TestComposer_NavigatingAwayStillPopulatesCache(t *testing.T) {
	h := newTestHost(t, nil, "ordersMfe")
	ctx := context.Background()
	require.NoError(t, h.Start(ctx, "/orders"))

	_, err := h.Navigate(ctx, "/products")
	require.NoError(t, err)
	h.release("ordersMfe")

	require.Eventually(t, func() bool {
		_, ok := h.reg.Loaded(ctx)["ordersMfe"]
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	_, err = h.Navigate(ctx, "/orders")
	require.NoError(t, err)
	waitMounted(t, h.Composer, "ordersMfe")
	require.Equal(t, 1, h.fetches("ordersMfe"))
}

func TestComposer_NavigateRequestEvent(t *testing.T) {
	h := newTestHost(t, nil)
	require.NoError(t, h.Start(context.Background(), "/products"))

	var changed []NavigateRequest
	h.Broker().Subscribe(eventbus.EventNavigateChanged, eventbus.On(func(r NavigateRequest) { changed = append(changed, r) }))

	h.Broker().Publish(eventbus.EventNavigateRequest, NavigateRequest{Path: "/orders", Source: "headerMfe"})

	require.Equal(t, "/orders", h.Current().Path)
	require.Equal(t, []NavigateRequest{{Path: "/orders"}}, changed)
	waitMounted(t, h.Composer, "ordersMfe")
}

func TestComposer_NotFoundPage(t *testing.T) {
	h := newTestHost(t, nil)
	require.NoError(t, h.Start(context.Background(), "/nowhere"))

	nf := waitMounted(t, h.Composer, NotFoundModule)

	require.True(t, h.Current().NotFound())
	view := nf.View(70, boundary.ViewOptions{})
	require.Contains(t, view, "Page Not Found")
	require.Contains(t, view, "/nowhere")
}

func TestComposer_RetryFaultedRegion(t *testing.T) {
	h := newTestHost(t, []string{"ordersMfe"})
	ctx := context.Background()
	require.NoError(t, h.Start(ctx, "/orders"))

	orders, _ := h.Region("ordersMfe")
	require.Eventually(t, func() bool { return orders.State() == boundary.StateFaulted }, 2*time.Second, 5*time.Millisecond)
	header := waitMounted(t, h.Composer, "headerMfe")

	require.NoError(t, h.Retry(ctx, "ordersMfe"))
	require.Eventually(t, func() bool { return orders.State() == boundary.StateFaulted }, 2*time.Second, 5*time.Millisecond)

	require.Equal(t, 2, orders.Loads())
	require.Equal(t, boundary.StateMounted, header.State(), "a sibling fault leaves the header alone")
	require.ErrorIs(t, h.Retry(ctx, "ghost"), ErrUnknownRegion)
	require.ErrorIs(t, h.Retry(ctx, "headerMfe"), boundary.ErrNotFaulted)
	require.Equal(t, 1, h.RetryFaulted(ctx))
}

func TestComposer_ForwardsChangesToSubscribers(t *testing.T) {
	h := newTestHost(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := h.Subscribe(ctx)

	require.NoError(t, h.Start(ctx, "/orders"))

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Type == pubsub.ChangedEvent && ev.Payload.Reason == ReasonNavigate {
				require.Equal(t, "/orders", ev.Payload.Path)
				return
			}
		case <-deadline:
			require.FailNow(t, "no navigate change received")
		}
	}
}

func TestComposer_CloseIsIdempotent(t *testing.T) {
	h := newTestHost(t, nil)
	require.NoError(t, h.Start(context.Background(), "/products"))
	header := waitMounted(t, h.Composer, "headerMfe")

	h.Close()
	h.Close()

	require.Equal(t, boundary.StateUnmounted, header.State())
	_, err := h.Navigate(context.Background(), "/orders")
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, h.Start(context.Background(), "/"), ErrClosed)
}

func TestComposer_ForwardsUpdateErrors(t *testing.T) {
	svc := testutil.NewService(testutil.Ada())
	reg := registry.New(registry.Config{})
	c, err := New(Config{
		Routes:   testRoutes[:0],
		Registry: reg,
		State:    sharedstate.Config{Default: testutil.Ada(), Service: svc},
	})
	require.NoError(t, err)
	t.Cleanup(c.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := c.Subscribe(ctx)
	require.NoError(t, c.Start(ctx, "/"))

	svc.Fail.Store(true)
	require.ErrorIs(t, c.Store().RequestUpdate(ctx, "ordersMfe", sharedstate.Record{"role": "VIP"}), testutil.ErrInjected)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Payload.Reason != ReasonError {
				continue
			}
			uerr, ok := ev.Payload.Payload.(sharedstate.UpdateError)
			require.True(t, ok)
			assert.Equal(t, "ordersMfe", uerr.SourceModule)
			assert.Equal(t, "Software Engineer", c.Store().Snapshot().Record.String("role"))
			return
		case <-deadline:
			require.FailNow(t, "no update-error change received")
		}
	}
}
