package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/iTrooz/offline-proxy/internal/cache"
	"github.com/iTrooz/offline-proxy/internal/cache/httpcache"
	"github.com/iTrooz/offline-proxy/internal/config"
	"github.com/iTrooz/offline-proxy/internal/queue"
	"github.com/iTrooz/offline-proxy/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
		configPath = defaultConfigPath
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, config.DefaultVersion+"\n", out)
}

func TestConfigCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("site:\n  origin: https://portfolio.example.com/\nworker:\n  version: v9\n"), 0o644))

	out, err := execute(t, "config", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "origin: https://portfolio.example.com\n")
	assert.Contains(t, out, "version: v9")
}

func TestConfigCommandMissingExplicitFile(t *testing.T) {
	_, err := execute(t, "config", "--config", filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestConfigCommandInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  format: xml\n"), 0o644))

	_, err := execute(t, "config", "--config", path)
	assert.ErrorContains(t, err, "log format")
}

type okNetwork struct{}

func (okNetwork) Do(req *http.Request) (*http.Response, error) {
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader("ok")),
		Request:    req,
	}, nil
}

func TestReloaderInstallsChangedWorker(t *testing.T) {
	db, err := cache.OpenMemLevelDB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	deps := worker.Deps{Caches: httpcache.NewStorage(db), Network: okNetwork{}}
	reg := worker.NewRegistration(0)
	t.Cleanup(reg.Close)

	cfg := config.Default()
	cfg.Worker.Version = "v1"
	w, err := worker.New(&cfg, deps)
	require.NoError(t, err)
	require.NoError(t, reg.Register(context.Background(), w))

	r := &reloader{ctx: context.Background(), reg: reg, deps: deps, current: &cfg}

	// logging only: same worker stays
	same := cfg
	same.Log.Level = "debug"
	r.apply(&same)
	assert.Same(t, w, reg.Active())

	next := cfg
	next.Worker.Version = "v2"
	r.apply(&next)
	require.NotNil(t, reg.Active())
	assert.Equal(t, "v2", reg.Active().Version().Tag)

	names, err := deps.Caches.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"static-v2"}, names)
}

func TestResumePendingSync(t *testing.T) {
	q, err := queue.OpenMem()
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })

	_, err = q.Add(queue.NewsletterSignups, queue.Record{URL: "/api/newsletter-signup"})
	require.NoError(t, err)

	sm := worker.NewSyncManager(worker.NewRegistration(0), 0, nil)
	resumePendingSync(q, sm)
	assert.Equal(t, []string{worker.TagNewsletter}, sm.Pending())
}
