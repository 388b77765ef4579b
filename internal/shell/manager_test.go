package shell

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hhsbooking/shellworker/internal/cachestore"
)

const testOrigin = "https://app.hhs-booking.example"

type fakeSkipWaiter struct{ called bool }

func (f *fakeSkipWaiter) SkipWaiting() { f.called = true }

type fakeClaimer struct{ called int }

func (f *fakeClaimer) Claim() { f.called++ }

func newTestManager(t *testing.T, store cachestore.Store, version string, manifest []string) (*Manager, *fakeSkipWaiter, *fakeClaimer) {
	t.Helper()
	client := &http.Client{}
	httpmock.ActivateNonDefault(client)
	t.Cleanup(httpmock.DeactivateAndReset)

	sw := &fakeSkipWaiter{}
	cl := &fakeClaimer{}
	m := NewManager(Options{
		Store:        store,
		Client:       client,
		Origin:       testOrigin,
		Prefix:       "hhs-booking",
		Version:      version,
		Manifest:     manifest,
		FetchTimeout: 5 * time.Second,
		SkipWaiter:   sw,
		Claimer:      cl,
	})
	return m, sw, cl
}

func registerShell(paths map[string]string) {
	for path, body := range paths {
		httpmock.RegisterResponder(http.MethodGet, testOrigin+path,
			httpmock.NewStringResponder(http.StatusOK, body))
	}
}

func TestInstall_WarmsEveryManifestURL(t *testing.T) {
	store := cachestore.NewMemoryStore()
	manifest := []string{"/", "/index.html", "/manifest.json"}
	m, sw, _ := newTestManager(t, store, "v1", manifest)

	registerShell(map[string]string{
		"/":              "<html>root</html>",
		"/index.html":    "<html>shell</html>",
		"/manifest.json": `{"name":"HHS Booking"}`,
	})

	require.NoError(t, m.Install(context.Background()))
	assert.True(t, sw.called, "successful install requests skip-waiting")

	ns, err := store.Open("hhs-booking-v1")
	require.NoError(t, err)
	for _, path := range manifest {
		id := cachestore.Identity(http.MethodGet, testOrigin+path)
		ent, ok := ns.Match(id)
		require.True(t, ok, "manifest URL %s must be cached", path)
		assert.Equal(t, http.StatusOK, ent.Status)
		assert.NotEmpty(t, ent.Body)
	}
}

func TestInstall_SendsCacheBypassHeaders(t *testing.T) {
	store := cachestore.NewMemoryStore()
	m, _, _ := newTestManager(t, store, "v1", []string{"/index.html"})

	var gotCacheControl string
	httpmock.RegisterResponder(http.MethodGet, testOrigin+"/index.html",
		func(req *http.Request) (*http.Response, error) {
			gotCacheControl = req.Header.Get("Cache-Control")
			return httpmock.NewStringResponse(http.StatusOK, "ok"), nil
		})

	require.NoError(t, m.Install(context.Background()))
	assert.Equal(t, "no-cache", gotCacheControl)
}

func TestInstall_AnyFailureFailsWholeInstall(t *testing.T) {
	store := cachestore.NewMemoryStore()
	manifest := []string{"/index.html", "/logo.png"}
	m, sw, _ := newTestManager(t, store, "v1", manifest)

	httpmock.RegisterResponder(http.MethodGet, testOrigin+"/index.html",
		httpmock.NewStringResponder(http.StatusOK, "<html>"))
	httpmock.RegisterResponder(http.MethodGet, testOrigin+"/logo.png",
		httpmock.NewStringResponder(http.StatusInternalServerError, "boom"))

	err := m.Install(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/logo.png")
	assert.False(t, sw.called, "failed install must not request skip-waiting")

	// Atomic at the manifest level: even the successful fetch is not stored.
	ns, nsErr := store.Open("hhs-booking-v1")
	require.NoError(t, nsErr)
	_, ok := ns.Match(cachestore.Identity(http.MethodGet, testOrigin+"/index.html"))
	assert.False(t, ok)
}

func TestActivate_SweepsStalePrefixedNamespaces(t *testing.T) {
	store := cachestore.NewMemoryStore()

	// Prior versions plus an unrelated namespace.
	for _, name := range []string{"hhs-booking-v1", "hhs-booking-v0", "other-app-v9"} {
		ns, err := store.Open(name)
		require.NoError(t, err)
		require.NoError(t, ns.Put("GET "+testOrigin+"/", cachestore.Entry{Status: 200}))
	}

	m, _, cl := newTestManager(t, store, "v2", []string{"/index.html"})
	registerShell(map[string]string{"/index.html": "<html>v2</html>"})
	require.NoError(t, m.Install(context.Background()))

	require.NoError(t, m.Activate(context.Background()))
	assert.Equal(t, 1, cl.called, "activation claims attached windows")

	names, err := store.Namespaces()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"hhs-booking-v2", "other-app-v9"}, names,
		"exactly one prefixed namespace remains and foreign prefixes are untouched")
}

func TestActivate_NoPriorNamespacesIsNoop(t *testing.T) {
	store := cachestore.NewMemoryStore()
	m, _, cl := newTestManager(t, store, "v1", []string{"/index.html"})

	require.NoError(t, m.Activate(context.Background()))
	assert.Equal(t, 1, cl.called)
}

func TestActivate_Idempotent(t *testing.T) {
	store := cachestore.NewMemoryStore()

	ns, err := store.Open("hhs-booking-v1")
	require.NoError(t, err)
	require.NoError(t, ns.Put("GET "+testOrigin+"/", cachestore.Entry{Status: 200}))

	m, _, _ := newTestManager(t, store, "v2", []string{"/index.html"})
	registerShell(map[string]string{"/index.html": "x"})
	require.NoError(t, m.Install(context.Background()))

	require.NoError(t, m.Activate(context.Background()))
	require.NoError(t, m.Activate(context.Background()))

	names, nsErr := store.Namespaces()
	require.NoError(t, nsErr)
	assert.ElementsMatch(t, []string{"hhs-booking-v2"}, names)
}

func TestVersionBump_EndToEnd(t *testing.T) {
	store := cachestore.NewMemoryStore()
	manifest := []string{"/index.html", "/manifest.json"}

	// v1 install + activate.
	m1, _, _ := newTestManager(t, store, "v1", manifest)
	registerShell(map[string]string{"/index.html": "v1", "/manifest.json": "{}"})
	require.NoError(t, m1.Install(context.Background()))
	require.NoError(t, m1.Activate(context.Background()))

	// v2 upgrade.
	m2, _, _ := newTestManager(t, store, "v2", manifest)
	registerShell(map[string]string{"/index.html": "v2", "/manifest.json": "{}"})
	require.NoError(t, m2.Install(context.Background()))
	require.NoError(t, m2.Activate(context.Background()))

	names, err := store.Namespaces()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"hhs-booking-v2"}, names)

	ns, err := store.Open("hhs-booking-v2")
	require.NoError(t, err)
	for _, path := range manifest {
		_, ok := ns.Match(cachestore.Identity(http.MethodGet, testOrigin+path))
		assert.True(t, ok, "v2 cache must contain %s", path)
	}
}
