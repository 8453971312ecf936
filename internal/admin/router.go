package admin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// NewRouter creates the chi router serving the control API.
// A nil gatherer leaves /metrics out.
func NewRouter(h *Handler, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/status", h.Status)
	r.Post("/messages", h.PostMessage)
	r.Post("/sync/{tag}", h.RegisterSync)
	r.Post("/push", h.Push)

	r.Get("/submissions/{store}", h.ListSubmissions)
	r.Post("/submissions/{store}", h.Enqueue)

	r.Get("/notifications", h.ListNotifications)
	r.Post("/notifications/{id}/click", h.ClickNotification)
	r.Delete("/notifications/{id}", h.CloseNotification)

	r.Get("/clients", h.ListClients)

	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	return r
}

// requestLogger logs every control request once it completes
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logrus.WithFields(logrus.Fields{
			"request_id": middleware.GetReqID(r.Context()),
			"status":     ww.Status(),
			"duration":   time.Since(start).String(),
		}).Debugf("%s %s", r.Method, r.URL.Path)
	})
}

// Serve serves handler on addr until ctx is done
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	logrus.Infof("Control API listening on %s", ln.Addr())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
