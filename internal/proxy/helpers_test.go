package proxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/iTrooz/offline-proxy/internal/cache"
	"github.com/iTrooz/offline-proxy/internal/cache/httpcache"
	"github.com/iTrooz/offline-proxy/internal/config"
	"github.com/iTrooz/offline-proxy/internal/worker"
	"github.com/stretchr/testify/require"
)

// upstream is a test origin recording the requests it receives
type upstream struct {
	*httptest.Server

	mu       sync.Mutex
	requests []string
}

func (u *upstream) seen() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.requests...)
}

// fixture_upstream creates a test upstream server
func fixture_upstream(t *testing.T) *upstream {
	t.Helper()
	u := &upstream{}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, requ *http.Request) {
		u.mu.Lock()
		u.requests = append(u.requests, requ.Method+" "+requ.URL.Path)
		u.mu.Unlock()

		switch requ.URL.Path {
		case "/", "/index.html":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html>shell</html>"))
		case "/missing":
			http.NotFound(w, requ)
		default:
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"message": "Hello from upstream", "path": "` + requ.URL.Path + `"}`))
		}
	}))
	t.Cleanup(u.Close)
	return u
}

// fixture_config creates a worker config for the given origin
func fixture_config(origin string) *config.Config {
	cfg := config.Default()
	cfg.Site.Origin = origin
	cfg.Manifest.Static = []string{"/", "/index.html"}
	cfg.Manifest.Dynamic = []string{"/assets/"}
	return &cfg
}

// fixture_registration installs a worker for cfg and returns its registration
func fixture_registration(t *testing.T, cfg *config.Config) (*worker.Registration, *httpcache.Storage) {
	t.Helper()

	db, err := cache.OpenMemLevelDB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	storage := httpcache.NewStorage(db)

	reg := worker.NewRegistration(0)
	t.Cleanup(reg.Close)

	w, err := worker.New(cfg, worker.Deps{Caches: storage})
	require.NoError(t, err)
	require.NoError(t, reg.Register(context.Background(), w))
	return reg, storage
}

// fixture_proxy creates a proxy server and an HTTP client that uses it
func fixture_proxy(t *testing.T, cfg *config.Config, reg *worker.Registration) (*Server, *http.Client) {
	t.Helper()

	proxyServer, err := New(cfg, reg)
	require.NoError(t, err)

	// Create test proxy HTTP server using goproxy
	proxyTestServer := httptest.NewServer(proxyServer.GetProxy())
	t.Cleanup(proxyTestServer.Close)

	proxyURL, _ := url.Parse(proxyTestServer.URL)
	client := &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyURL(proxyURL),
		},
		Timeout: 10 * time.Second,
	}
	return proxyServer, client
}
