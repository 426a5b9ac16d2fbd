package fragments

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/fedhost/internal/registry"
	"github.com/zjrosen/fedhost/internal/remote"
	"github.com/zjrosen/fedhost/internal/sharedstate"
)

func copyTestdata(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range []string{"module.yaml", "orders.md.tmpl"} {
		data, err := os.ReadFile(filepath.Join("testdata", "orders", name))
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
	}
	return dir
}

func startServer(t *testing.T, dir string) (*Server, *httptest.Server) {
	t.Helper()
	s, err := NewServer(dir)
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func render(t *testing.T, ts *httptest.Server, path string, req remote.RenderRequest) (*http.Response, remote.RenderResponse) {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)
	resp, err := ts.Client().Post(ts.URL+path, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	var out remote.RenderResponse
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func TestFragmentPath(t *testing.T) {
	require.Equal(t, "/fragments/header", FragmentPath("./Header"))
	require.Equal(t, "/fragments/app", FragmentPath("App"))
	require.Equal(t, "/fragments/orders-list", FragmentPath("./orders/list"))
}

func TestServer_Manifest(t *testing.T) {
	_, ts := startServer(t, copyTestdata(t))

	resp, err := ts.Client().Get(ts.URL + ManifestPath)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var m remote.Manifest
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&m))
	require.NoError(t, m.Validate())
	require.Equal(t, "ordersMfe", m.Name)

	entry, err := m.Entry("./App")
	require.NoError(t, err)
	require.Equal(t, "/fragments/app", entry.Path)
	require.Len(t, entry.Actions, 2)
	require.Equal(t, "/products", entry.Actions[0].Payload["path"])
}

func TestServer_RendersTemplateAgainstState(t *testing.T) {
	_, ts := startServer(t, copyTestdata(t))

	resp, out := render(t, ts, "/fragments/app", remote.RenderRequest{
		Module: "ordersMfe",
		Route:  "/orders",
		State:  sharedstate.State{Record: sharedstate.Record{"name": "Ada"}},
	})

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, remote.FormatMarkdown, out.Format)
	require.Contains(t, out.Content, "# Orders for Ada")
	require.Contains(t, out.Content, "Route: /orders")
	require.Contains(t, out.Content, "Role: unknown")
}

func TestServer_StatusOverride(t *testing.T) {
	_, ts := startServer(t, copyTestdata(t))

	resp, _ := render(t, ts, "/fragments/broken", remote.RenderRequest{})
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, _ = render(t, ts, "/fragments/missing", remote.RenderRequest{})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_ReloadKeepsPreviousOnError(t *testing.T) {
	dir := copyTestdata(t)
	s, ts := startServer(t, dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, DefinitionFile), []byte("name: [broken"), 0o644))
	require.Error(t, s.Reload())
	require.Error(t, s.LastReloadError())

	resp, _ := render(t, ts, "/fragments/app", remote.RenderRequest{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_WatchPicksUpTemplateEdits(t *testing.T) {
	dir := copyTestdata(t)
	s, ts := startServer(t, dir)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, s.Watch(ctx))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "orders.md.tmpl"), []byte("v2 {{ .Route }}"), 0o644))

	require.Eventually(t, func() bool {
		_, out := render(t, ts, "/fragments/app", remote.RenderRequest{Route: "/orders"})
		return out.Content == "v2 /orders"
	}, 3*time.Second, 50*time.Millisecond)
}

func TestLoad_Errors(t *testing.T) {
	tests := map[string]string{
		"missing name":     "exposes:\n  ./App:\n    template: x.tmpl\n",
		"empty exposes":    "name: m\n",
		"missing template": "name: m\nexposes:\n  ./App:\n    title: App\n",
		"shared path":      "name: m\nexposes:\n  ./App:\n    status: 500\n  App:\n    status: 500\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, DefinitionFile), []byte(content), 0o644))
			_, err := NewServer(dir)
			require.Error(t, err)
		})
	}
}

// A remote.Loader pointed at the dev server produces a working module.
func TestServer_ServesRemoteLoader(t *testing.T) {
	_, ts := startServer(t, copyTestdata(t))
	loader := remote.NewLoader(remote.Config{HTTPClient: ts.Client()})

	factory, err := loader.Fetch(context.Background(), ts.URL+ManifestPath, registry.Descriptor{Name: "ordersMfe", Scope: "ordersMfe", Expose: "./App"})
	require.NoError(t, err)
	require.NotNil(t, factory)

	_, err = loader.Fetch(context.Background(), ts.URL+ManifestPath, registry.Descriptor{Name: "ordersMfe", Scope: "ordersMfe", Expose: "./Nope"})
	require.ErrorIs(t, err, registry.ErrEntryNotFound)
}

func TestManifestChanges(t *testing.T) {
	before := remote.Manifest{Name: "ordersMfe", Version: "1.0.0", Exposes: map[string]remote.Expose{
		"./App": {Path: "/fragments/app", Title: "Orders"},
	}}
	require.Nil(t, manifestChanges(before, before))

	after := before
	after.Version = "1.1.0"
	after.Exposes = map[string]remote.Expose{
		"./App":  {Path: "/fragments/app", Title: "Orders"},
		"./Side": {Path: "/fragments/side"},
	}
	changes := manifestChanges(before, after)

	require.Contains(t, changes, "- version: 1.0.0")
	require.Contains(t, changes, "+ version: 1.1.0")
	require.Contains(t, changes, "+ path: /fragments/side")
}
