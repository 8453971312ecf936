package proxy

import (
	"crypto/tls"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/iTrooz/offline-proxy/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestNewRequiresRegistration(t *testing.T) {
	_, err := New(fixture_config("http://localhost"), nil)
	assert.Error(t, err)
}

func TestNewWithHTTPSInterception(t *testing.T) {
	cfg := fixture_config("http://localhost")
	cfg.Server.HTTPS.Enabled = true

	s, err := New(cfg, worker.NewRegistration(0))
	require.NoError(t, err)
	assert.NotNil(t, s.GetProxy().CertStore)
}

func TestNewWithMissingCA(t *testing.T) {
	cfg := fixture_config("http://localhost")
	cfg.Server.HTTPS.Enabled = true
	cfg.Server.HTTPS.CACertFile = "/nonexistent/ca.crt"
	cfg.Server.HTTPS.CAKeyFile = "/nonexistent/ca.key"

	_, err := New(cfg, worker.NewRegistration(0))
	assert.Error(t, err)
}

func TestProxyServesInstalledShell(t *testing.T) {
	up := fixture_upstream(t)
	cfg := fixture_config(up.URL)
	reg, _ := fixture_registration(t, cfg)
	_, client := fixture_proxy(t, cfg, reg)

	resp, err := client.Get(up.URL + "/index.html")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "HIT", resp.Header.Get("X-Cache"))
	assert.Equal(t, "<html>shell</html>", readAll(t, resp))

	// fetched once, at install
	count := 0
	for _, r := range up.seen() {
		if r == "GET /index.html" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestProxyMirrorsDynamicAssets(t *testing.T) {
	up := fixture_upstream(t)
	cfg := fixture_config(up.URL)
	reg, storage := fixture_registration(t, cfg)
	_, client := fixture_proxy(t, cfg, reg)

	t.Run("first request - network", func(t *testing.T) {
		resp, err := client.Get(up.URL + "/assets/photo.jpg")
		require.NoError(t, err)
		assert.Equal(t, "MISS", resp.Header.Get("X-Cache"))
		assert.Contains(t, readAll(t, resp), "Hello from upstream")
	})

	t.Run("copy stored in dynamic partition", func(t *testing.T) {
		dynamic, err := storage.Open(reg.Active().Version().Dynamic)
		require.NoError(t, err)
		keys, err := dynamic.Keys()
		require.NoError(t, err)
		assert.Equal(t, []string{up.URL + "/assets/photo.jpg"}, keys)
	})

	t.Run("upstream down - served from cache", func(t *testing.T) {
		up.Close()

		resp, err := client.Get(up.URL + "/assets/photo.jpg")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "HIT", resp.Header.Get("X-Cache"))
		assert.Contains(t, readAll(t, resp), "/assets/photo.jpg")
	})

	t.Run("upstream down - navigation gets the shell", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, up.URL+"/about", nil)
		require.NoError(t, err)
		req.Header.Set("Accept", "text/html")

		resp, err := client.Do(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "<html>shell</html>", readAll(t, resp))
	})

	t.Run("upstream down - uncached asset", func(t *testing.T) {
		resp, err := client.Get(up.URL + "/assets/other.jpg")
		require.NoError(t, err)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		assert.Equal(t, worker.DynamicOfflineBody, readAll(t, resp))
	})
}

func TestProxyForwardsNonGet(t *testing.T) {
	up := fixture_upstream(t)
	cfg := fixture_config(up.URL)
	reg, storage := fixture_registration(t, cfg)
	_, client := fixture_proxy(t, cfg, reg)

	resp, err := client.Post(up.URL+"/assets/form", "application/x-www-form-urlencoded", strings.NewReader("a=1"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("X-Cache"))
	_ = readAll(t, resp)

	assert.Contains(t, up.seen(), "POST /assets/form")
	names, err := storage.Keys()
	require.NoError(t, err)
	assert.NotContains(t, names, reg.Active().Version().Dynamic)
}

func TestProxyWithoutActiveWorker(t *testing.T) {
	up := fixture_upstream(t)
	cfg := fixture_config(up.URL)
	_, client := fixture_proxy(t, cfg, worker.NewRegistration(0))

	resp, err := client.Get(up.URL + "/assets/photo.jpg")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("X-Cache"))
	assert.Contains(t, readAll(t, resp), "Hello from upstream")
}

func TestWithoutProxyHeaders(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "http://example.com/", nil)
	require.NoError(t, err)
	assert.Same(t, req, withoutProxyHeaders(req))

	req.Header.Set("Proxy-Connection", "keep-alive")
	req.Header.Set("Accept", "text/html")
	out := withoutProxyHeaders(req)
	assert.Empty(t, out.Header.Get("Proxy-Connection"))
	assert.Equal(t, "text/html", out.Header.Get("Accept"))
	assert.Equal(t, "keep-alive", req.Header.Get("Proxy-Connection"))
}

func TestCertStoreCachesPerHost(t *testing.T) {
	store := newCertStore()
	calls := 0
	gen := func() (*tls.Certificate, error) {
		calls++
		return &tls.Certificate{}, nil
	}

	a, err := store.Fetch("a.example.com", gen)
	require.NoError(t, err)
	again, err := store.Fetch("a.example.com", gen)
	require.NoError(t, err)
	assert.Same(t, a, again)

	_, err = store.Fetch("b.example.com", gen)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestCertStoreGenerationError(t *testing.T) {
	store := newCertStore()
	_, err := store.Fetch("a.example.com", func() (*tls.Certificate, error) {
		return nil, errors.New("boom")
	})
	assert.Error(t, err)
}
