package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/fedhost/internal/module"
)

// countingFetcher counts calls and blocks each one until release is closed
// (when set).
type countingFetcher struct {
	calls   atomic.Int32
	release chan struct{}
	err     error
	mu      sync.Mutex
	urls    []string
}

func (f *countingFetcher) Fetch(ctx context.Context, url string, d Descriptor) (module.Factory, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.urls = append(f.urls, url)
	err := f.err
	f.mu.Unlock()
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return module.Static(d.Name), nil
}

func (f *countingFetcher) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func descriptor(name string) Descriptor {
	return Descriptor{
		Name:    name,
		Scope:   name,
		Expose:  "./" + name,
		Resolve: StaticResolver("http://localhost:3001/"+name+"/remoteEntry.json", "https://cdn.example.com/"+name+"/remoteEntry.json"),
	}
}

func newRegistry(t *testing.T, f Fetcher, names ...string) *Registry {
	t.Helper()
	r := New(Config{Fetcher: f, LoadTimeout: time.Second})
	for _, n := range names {
		require.NoError(t, r.Register(descriptor(n)))
	}
	return r
}

func wait(t *testing.T, p *Pending) *LoadedModule {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	m, err := p.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded)
	require.NotNil(t, m)
	return m
}

func TestRegister_Validation(t *testing.T) {
	r := New(Config{})

	require.ErrorIs(t, r.Register(Descriptor{Resolve: StaticResolver("a", "b")}), ErrInvalidDescriptor)
	require.ErrorIs(t, r.Register(Descriptor{Name: "x"}), ErrInvalidDescriptor)
	require.NoError(t, r.Register(descriptor("headerMfe")))
	require.ErrorIs(t, r.Register(descriptor("headerMfe")), ErrDuplicate)
	require.NoError(t, r.Register(descriptor("ordersMfe")))

	var names []string
	for _, d := range r.Descriptors() {
		names = append(names, d.Name)
	}
	require.Equal(t, []string{"headerMfe", "ordersMfe"}, names)
}

func TestLoad_ConcurrentCallersShareOnePending(t *testing.T) {
	f := &countingFetcher{release: make(chan struct{})}
	r := newRegistry(t, f, "ordersMfe")

	first := r.Load(context.Background(), "ordersMfe")
	second := r.Load(context.Background(), "ordersMfe")

	require.Same(t, first, second)
	_, done := first.Result()
	require.False(t, done)

	close(f.release)
	m := wait(t, first)

	require.Equal(t, StateReady, m.State)
	require.EqualValues(t, 1, f.calls.Load())
}

func TestLoad_ReadyModuleIsReused(t *testing.T) {
	f := &countingFetcher{}
	r := newRegistry(t, f, "headerMfe")

	m1 := wait(t, r.Load(context.Background(), "headerMfe"))
	m2 := wait(t, r.Load(context.Background(), "headerMfe"))

	require.Same(t, m1, m2)
	require.EqualValues(t, 1, f.calls.Load())
	require.Contains(t, r.Loaded(context.Background()), "headerMfe")
}

func TestLoad_ResolvesForEnvironment(t *testing.T) {
	f := &countingFetcher{}
	r := New(Config{Environment: Production, Fetcher: f})
	require.NoError(t, r.Register(descriptor("productsMfe")))

	m := wait(t, r.Load(context.Background(), "productsMfe"))

	require.Equal(t, "https://cdn.example.com/productsMfe/remoteEntry.json", m.URL)
	url, err := r.Resolve("productsMfe")
	require.NoError(t, err)
	require.Equal(t, m.URL, url)
}

func TestLoad_FailureKinds(t *testing.T) {
	tests := []struct {
		name    string
		fetchEr error
		want    error
	}{
		{name: "unreachable", fetchEr: fmt.Errorf("%w: connection refused", ErrUnreachable), want: ErrUnreachable},
		{name: "malformed", fetchEr: fmt.Errorf("%w: bad json", ErrMalformed), want: ErrMalformed},
		{name: "entry not found", fetchEr: fmt.Errorf("%w: ./Orders", ErrEntryNotFound), want: ErrEntryNotFound},
		{name: "untagged", fetchEr: errors.New("boom"), want: ErrUnreachable},
		{name: "timeout", fetchEr: context.DeadlineExceeded, want: ErrUnreachable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRegistry(t, &countingFetcher{err: tt.fetchEr}, "ordersMfe")

			m, err := r.Load(context.Background(), "ordersMfe").Wait(context.Background())

			require.ErrorIs(t, err, tt.want)
			require.Equal(t, StateFailed, m.State)
			var loadErr *LoadError
			require.ErrorAs(t, err, &loadErr)
			require.Equal(t, "ordersMfe", loadErr.Module)
			require.Equal(t, tt.want, loadErr.Kind)
		})
	}
}

func TestLoad_NotRegistered(t *testing.T) {
	f := &countingFetcher{}
	r := newRegistry(t, f)

	_, err := r.Load(context.Background(), "ghost").Wait(context.Background())

	require.ErrorIs(t, err, ErrNotRegistered)
	require.Zero(t, f.calls.Load())
}

func TestLoad_ResolveError(t *testing.T) {
	f := &countingFetcher{}
	r := New(Config{Environment: Production, Fetcher: f})
	require.NoError(t, r.Register(Descriptor{Name: "localOnly", Resolve: StaticResolver("http://localhost:3009", "")}))

	_, err := r.Load(context.Background(), "localOnly").Wait(context.Background())

	require.ErrorIs(t, err, ErrResolve)
	require.Zero(t, f.calls.Load())
}

func TestLoad_FailedLoadFetchesAgain(t *testing.T) {
	f := &countingFetcher{err: fmt.Errorf("%w: 503", ErrUnreachable)}
	r := newRegistry(t, f, "ordersMfe")

	m := wait(t, r.Load(context.Background(), "ordersMfe"))
	require.Equal(t, StateFailed, m.State)

	f.setErr(nil)
	m = wait(t, r.Load(context.Background(), "ordersMfe"))

	require.Equal(t, StateReady, m.State)
	require.EqualValues(t, 2, f.calls.Load())
}

func TestLoad_CallerCancellationDoesNotAbortFetch(t *testing.T) {
	f := &countingFetcher{release: make(chan struct{})}
	r := newRegistry(t, f, "ordersMfe")

	ctx, cancel := context.WithCancel(context.Background())
	p := r.Load(ctx, "ordersMfe")
	cancel()

	_, err := p.Wait(ctx)
	require.ErrorIs(t, err, context.Canceled)

	close(f.release)
	m := wait(t, p)
	require.Equal(t, StateReady, m.State)
	require.Contains(t, r.Loaded(context.Background()), "ordersMfe")
}

func TestLoad_TimeoutIsUnreachable(t *testing.T) {
	f := &countingFetcher{release: make(chan struct{})}
	r := New(Config{Fetcher: f, LoadTimeout: 20 * time.Millisecond})
	require.NoError(t, r.Register(descriptor("slowMfe")))

	_, err := r.Load(context.Background(), "slowMfe").Wait(context.Background())

	require.ErrorIs(t, err, ErrUnreachable)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLoad_FetcherPanicIsMalformed(t *testing.T) {
	r := newRegistry(t, FetcherFunc(func(context.Context, string, Descriptor) (module.Factory, error) {
		panic("bad entry")
	}), "ordersMfe")

	_, err := r.Load(context.Background(), "ordersMfe").Wait(context.Background())

	require.ErrorIs(t, err, ErrMalformed)
}

func TestInvalidate_ForcesRefetch(t *testing.T) {
	f := &countingFetcher{}
	r := newRegistry(t, f, "headerMfe")

	wait(t, r.Load(context.Background(), "headerMfe"))
	r.Invalidate(context.Background(), "headerMfe")
	wait(t, r.Load(context.Background(), "headerMfe"))

	require.EqualValues(t, 2, f.calls.Load())
}

func TestParseEnvironment(t *testing.T) {
	for in, want := range map[string]Environment{"": Development, "dev": Development, "Production": Production, "prod": Production} {
		got, err := ParseEnvironment(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseEnvironment("staging")
	require.Error(t, err)
}

func TestLoadState_String(t *testing.T) {
	assert.Equal(t, "pending", StatePending.String())
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "failed", StateFailed.String())
}

func TestRegisterLocal_ReadyWithoutFetch(t *testing.T) {
	f := &countingFetcher{}
	r := newRegistry(t, f)

	require.NoError(t, r.RegisterLocal("notFound", module.Static("Page Not Found")))
	require.ErrorIs(t, r.RegisterLocal("notFound", module.Static("again")), ErrDuplicate)
	require.ErrorIs(t, r.RegisterLocal("nil", nil), ErrInvalidDescriptor)

	r.Invalidate(context.Background(), "notFound")
	m := wait(t, r.Load(context.Background(), "notFound"))

	require.Equal(t, StateReady, m.State)
	require.Equal(t, "local://notFound", m.URL)
	require.True(t, r.Local("notFound"))
	require.Zero(t, f.calls.Load())
}
