package worker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/iTrooz/offline-proxy/internal/cache/httpcache"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func (w *Worker) handleInstall(ctx context.Context, _ *Event) (*http.Response, error) {
	logrus.Infof("Worker %s: installing", w.version.Tag)

	static, err := w.deps.Caches.Open(w.version.Static)
	if err != nil {
		w.deps.Metrics.Installs.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("opening static partition: %w", err)
	}

	logrus.Infof("Worker %s: caching %d static assets", w.version.Tag, len(w.static))
	if err := w.addAll(ctx, static, w.static); err != nil {
		w.deps.Metrics.Installs.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("caching static assets: %w", err)
	}

	w.deps.Metrics.Installs.WithLabelValues("succeeded").Inc()
	logrus.Infof("Worker %s: static assets cached", w.version.Tag)

	if w.cfg.Worker.SkipWaiting {
		if err := w.SkipWaiting(ctx); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func (w *Worker) handleActivate(_ context.Context, _ *Event) (*http.Response, error) {
	logrus.Infof("Worker %s: activating", w.version.Tag)

	names, err := w.deps.Caches.Keys()
	if err != nil {
		// keep activating, stale partitions are retried on the next activation
		logrus.Errorf("Worker %s: failed to list partitions: %v", w.version.Tag, err)
	}

	for _, name := range StalePartitions(names, w.version) {
		logrus.Infof("Worker %s: deleting old cache %s", w.version.Tag, name)
		if _, err := w.deps.Caches.Delete(name); err != nil {
			logrus.Errorf("Worker %s: failed to delete cache %s: %v", w.version.Tag, name, err)
		}
	}

	logrus.Infof("Worker %s: activated", w.version.Tag)
	w.Claim()
	return nil, nil
}

// addAll fetches every URL and stores them all, or none when any fetch fails
func (w *Worker) addAll(ctx context.Context, partition *httpcache.HTTPCache, urls []string) error {
	reqs := make([]*http.Request, len(urls))
	resps := make([]*http.Response, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	for i, u := range urls {
		g.Go(func() error {
			req, err := http.NewRequestWithContext(gctx, http.MethodGet, u, nil)
			if err != nil {
				return fmt.Errorf("request for %s: %w", u, err)
			}

			resp, err := w.deps.Network.Do(req)
			if err != nil {
				return fmt.Errorf("fetching %s: %w", u, err)
			}
			defer func(body io.ReadCloser) { _ = body.Close() }(resp.Body)

			if !isOK(resp) {
				return fmt.Errorf("fetching %s: unexpected status %d", u, resp.StatusCode)
			}

			// read now, the group context dies with Wait
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("reading %s: %w", u, err)
			}
			resp.Body = io.NopCloser(bytes.NewReader(body))

			reqs[i], resps[i] = req, resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i := range urls {
		if err := partition.SetReq(reqs[i], resps[i]); err != nil {
			return fmt.Errorf("storing %s: %w", urls[i], err)
		}
		w.deps.Metrics.CacheWrites.WithLabelValues(partition.Name()).Inc()
	}
	return nil
}
