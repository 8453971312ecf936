package worker

import (
	"context"
	"net/http"
	"net/url"

	"github.com/elazarl/goproxy"
	"github.com/iTrooz/offline-proxy/internal/cache/httpcache"
	"github.com/iTrooz/offline-proxy/internal/metrics"
	"github.com/sirupsen/logrus"
)

// Bodies of the synthetic responses served when nothing else is available
const (
	StaticOfflineBody  = "Offline content not available"
	DynamicOfflineBody = "Content not available offline"
)

// X-Cache values
const (
	cacheHit     = "HIT"
	cacheMiss    = "MISS"
	cacheOffline = "OFFLINE"
)

func (w *Worker) handleFetch(ctx context.Context, ev *Event) (*http.Response, error) {
	req := ev.Request
	// Skip non-GET requests
	if req == nil || req.Method != http.MethodGet {
		return nil, nil
	}

	route := w.Classify(req)
	switch route {
	case RouteStatic:
		return w.cacheFirst(ctx, req, w.version.Static), nil
	case RouteDynamic:
		return w.networkFirst(ctx, req, route), nil
	case RouteNavigation:
		return w.navigate(ctx, req), nil
	default:
		return w.networkFirst(ctx, req, route), nil
	}
}

// cacheFirst serves from any partition, falling back to the network and storing successful responses
func (w *Worker) cacheFirst(ctx context.Context, req *http.Request, partition string) *http.Response {
	if resp := w.getCachedResponse(req); resp != nil {
		w.count(RouteStatic, metrics.OutcomeCacheHit)
		return resp
	}

	resp, err := w.fetch(ctx, req)
	if err != nil {
		logrus.Errorf("Cache first strategy failed for %s: %v", req.URL, err)
		w.count(RouteStatic, metrics.OutcomeOffline)
		return offlineResponse(req, StaticOfflineBody)
	}

	if isOK(resp) {
		w.cacheResponse(partition, req, resp)
	}
	resp.Header.Set("X-Cache", cacheMiss)
	w.count(RouteStatic, metrics.OutcomeNetwork)
	return resp
}

// networkFirst serves from the network, storing successful responses in the dynamic partition,
// and falls back to the caches when the network fails
func (w *Worker) networkFirst(ctx context.Context, req *http.Request, route Route) *http.Response {
	resp, err := w.fetch(ctx, req)
	if err == nil {
		if isOK(resp) {
			w.cacheResponse(w.version.Dynamic, req, resp)
		}
		resp.Header.Set("X-Cache", cacheMiss)
		w.count(route, metrics.OutcomeNetwork)
		return resp
	}

	logrus.Infof("Network failed for %s, trying cache: %v", req.URL, err)

	if cached := w.getCachedResponse(req); cached != nil {
		w.count(route, metrics.OutcomeCacheHit)
		return cached
	}

	if IsNavigation(req) {
		if shell := w.shell(req); shell != nil {
			w.count(route, metrics.OutcomeFallback)
			return shell
		}
	}

	w.count(route, metrics.OutcomeOffline)
	return offlineResponse(req, DynamicOfflineBody)
}

// navigate serves page loads from the network, with the shell page as offline fallback
func (w *Worker) navigate(ctx context.Context, req *http.Request) *http.Response {
	resp, err := w.fetch(ctx, req)
	if err == nil {
		resp.Header.Set("X-Cache", cacheMiss)
		w.count(RouteNavigation, metrics.OutcomeNetwork)
		return resp
	}

	logrus.Infof("Navigation to %s failed, serving shell: %v", req.URL, err)

	if shell := w.shell(req); shell != nil {
		w.count(RouteNavigation, metrics.OutcomeFallback)
		return shell
	}

	w.count(RouteNavigation, metrics.OutcomeOffline)
	return offlineResponse(req, DynamicOfflineBody)
}

// fetch sends the request to the network
func (w *Worker) fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	out := req.Clone(ctx)
	// server-side requests carry a RequestURI the client refuses to send
	out.RequestURI = ""
	if !out.URL.IsAbs() {
		u, err := url.Parse(httpcache.TargetURL(req))
		if err != nil {
			return nil, err
		}
		out.URL = u
	}
	resp, err := w.deps.Network.Do(out)
	if err != nil {
		return nil, err
	}
	if resp.Header == nil {
		resp.Header = http.Header{}
	}
	return resp, nil
}

// getCachedResponse returns a cached HTTP response if available
func (w *Worker) getCachedResponse(req *http.Request) *http.Response {
	resp, err := w.deps.Caches.Match(req)
	if err != nil {
		logrus.Errorf("Failed to get cached data for %s: %v", req.URL, err)
		return nil
	}
	if resp == nil {
		logrus.Debugf("No cached data found for %s", req.URL)
		return nil
	}

	resp.Header.Set("X-Cache", cacheHit)
	return resp
}

// shell returns the cached shell page answering req
func (w *Worker) shell(req *http.Request) *http.Response {
	resp, err := w.deps.Caches.MatchURL(w.shellURL)
	if err != nil {
		logrus.Errorf("Failed to get cached shell %s: %v", w.shellURL, err)
		return nil
	}
	if resp == nil {
		logrus.Warnf("Shell page %s is not cached", w.shellURL)
		return nil
	}
	resp.Request = req
	resp.Header.Set("X-Cache", cacheHit)
	return resp
}

// cacheResponse stores a response in the named partition
func (w *Worker) cacheResponse(partition string, req *http.Request, resp *http.Response) {
	// the partitions of a superseded worker may already be deleted
	if w.State() == StateRedundant {
		logrus.Debugf("Worker %s is redundant, not caching %s", w.version.Tag, req.URL)
		return
	}
	p, err := w.deps.Caches.Open(partition)
	if err != nil {
		logrus.Errorf("Failed to open partition %s: %v", partition, err)
		return
	}
	if err := p.SetReq(req, resp); err != nil {
		logrus.Errorf("Failed to cache response for %s: %v", req.URL.String(), err)
		return
	}
	w.deps.Metrics.CacheWrites.WithLabelValues(partition).Inc()
	logrus.Debugf("Cached %s in %s", req.URL, partition)
}

func (w *Worker) count(route Route, outcome string) {
	w.deps.Metrics.Fetches.WithLabelValues(route.String(), outcome).Inc()
}

func isOK(resp *http.Response) bool {
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func offlineResponse(req *http.Request, body string) *http.Response {
	resp := goproxy.NewResponse(req, goproxy.ContentTypeText, http.StatusServiceUnavailable, body)
	resp.Proto, resp.ProtoMajor, resp.ProtoMinor = "HTTP/1.1", 1, 1
	resp.Header.Set("X-Cache", cacheOffline)
	return resp
}
