package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"reflect"
	"sync"
	"syscall"

	"github.com/iTrooz/offline-proxy/internal/admin"
	"github.com/iTrooz/offline-proxy/internal/cache"
	"github.com/iTrooz/offline-proxy/internal/cache/httpcache"
	"github.com/iTrooz/offline-proxy/internal/clients"
	"github.com/iTrooz/offline-proxy/internal/config"
	"github.com/iTrooz/offline-proxy/internal/metrics"
	"github.com/iTrooz/offline-proxy/internal/notify"
	"github.com/iTrooz/offline-proxy/internal/proxy"
	"github.com/iTrooz/offline-proxy/internal/queue"
	"github.com/iTrooz/offline-proxy/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the proxy, the control API and background sync",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, path, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := cache.OpenLevelDB(cfg.Cache.Folder)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	q, err := queue.Open(cfg.Queue.Folder)
	if err != nil {
		return err
	}
	defer func() { _ = q.Close() }()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	network := worker.NewNetwork()
	deps := worker.Deps{
		Caches:        httpcache.NewStorage(db),
		Network:       network,
		Queue:         q,
		Notifications: notify.NewCenter(),
		Clients:       clients.NewWindows(),
		Metrics:       metrics.New(registry),
	}

	retry, _ := cfg.GetInstallRetry()
	interval, _ := cfg.GetSyncInterval()

	reg := worker.NewRegistration(retry)
	defer reg.Close()

	w, err := worker.New(cfg, deps)
	if err != nil {
		return err
	}
	if err := reg.Register(ctx, w); err != nil {
		// the registration retries on its own; until then requests go straight to the network
		logrus.Errorf("Initial install failed: %v", err)
	}

	syncManager := worker.NewSyncManager(reg, interval, worker.OriginProber(network, cfg.Site.Origin))
	resumePendingSync(q, syncManager)

	srv, err := proxy.New(cfg, reg)
	if err != nil {
		return fmt.Errorf("failed to create proxy server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(gctx) })
	g.Go(func() error { return syncManager.Run(gctx) })

	if cfg.Server.AdminPort != 0 {
		handler := admin.NewHandler(admin.Deps{
			Registration:  reg,
			Sync:          syncManager,
			Queue:         q,
			Notifications: deps.Notifications,
			Clients:       deps.Clients,
			NewsletterURL: cfg.Queue.NewsletterURL,
		})
		addr := fmt.Sprintf(":%d", cfg.Server.AdminPort)
		g.Go(func() error { return admin.Serve(gctx, addr, admin.NewRouter(handler, registry)) })
	}

	if path != "" {
		r := &reloader{ctx: gctx, reg: reg, deps: deps, current: cfg}
		stopWatch, err := config.Watch(path, r.apply)
		if err != nil {
			logrus.Warnf("Config changes will not be picked up: %v", err)
		} else {
			defer stopWatch()
		}
	}

	return g.Wait()
}

// resumePendingSync registers the sync tag of every store still holding records from a previous run
func resumePendingSync(q *queue.Queue, sm *worker.SyncManager) {
	for _, store := range []string{queue.ContactForms, queue.NewsletterSignups} {
		n, err := q.Len(store)
		if err != nil {
			logrus.Errorf("Failed to inspect %s: %v", store, err)
			continue
		}
		if n == 0 {
			continue
		}
		tag, _ := worker.TagForStore(store)
		logrus.Infof("%d submissions pending in %s", n, store)
		sm.Register(tag)
	}
}

// reloader installs a new worker when the configuration it is built from changes
type reloader struct {
	ctx  context.Context
	reg  *worker.Registration
	deps worker.Deps

	mu      sync.Mutex
	current *config.Config
}

// workerSettings is the part of the configuration a worker is built from
type workerSettings struct {
	Site          config.SiteConfig
	Worker        config.WorkerConfig
	Manifest      config.ManifestConfig
	Notifications config.NotificationsConfig
	MaxEntries    int
}

func settingsOf(c *config.Config) workerSettings {
	return workerSettings{
		Site:          c.Site,
		Worker:        c.Worker,
		Manifest:      c.Manifest,
		Notifications: c.Notifications,
		MaxEntries:    c.Cache.DynamicMaxEntries,
	}
}

func (r *reloader) apply(next *config.Config) {
	r.mu.Lock()
	prev := r.current
	r.current = next
	r.mu.Unlock()

	setupLogging(next)

	if prev.Server != next.Server || prev.Cache.Folder != next.Cache.Folder || prev.Queue.Folder != next.Queue.Folder {
		logrus.Warnf("Server, cache and queue settings only apply after a restart")
	}
	if reflect.DeepEqual(settingsOf(prev), settingsOf(next)) {
		return
	}

	w, err := worker.New(next, r.deps)
	if err != nil {
		logrus.Errorf("Failed to build worker %s: %v", next.Worker.Version, err)
		return
	}
	logrus.Infof("Configuration changed, installing worker %s", next.Worker.Version)
	if err := r.reg.Register(r.ctx, w); err != nil {
		logrus.Errorf("Install of worker %s failed: %v", next.Worker.Version, err)
	}
}
