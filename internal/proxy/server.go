package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/elazarl/goproxy"
	"github.com/iTrooz/offline-proxy/internal/config"
	"github.com/iTrooz/offline-proxy/internal/worker"
	"github.com/sirupsen/logrus"
)

// Server is the forward proxy delivering the traffic of controlled pages to the active worker
type Server struct {
	config *config.Config
	reg    *worker.Registration
	proxy  *goproxy.ProxyHttpServer
}

// New creates a new proxy server
func New(cfg *config.Config, reg *worker.Registration) (*Server, error) {
	if reg == nil {
		return nil, fmt.Errorf("a worker registration is required")
	}

	s := &Server{
		config: cfg,
		reg:    reg,
		proxy:  goproxy.NewProxyHttpServer(),
	}
	s.proxy.Logger = logrus.StandardLogger()
	s.proxy.Verbose = logrus.IsLevelEnabled(logrus.DebugLevel)

	if cfg.Server.HTTPS.Enabled {
		if err := s.setupHTTPSProxyHandler(); err != nil {
			return nil, err
		}
	}
	s.proxy.OnRequest().DoFunc(s.handleRequest)

	return s, nil
}

// GetProxy returns the underlying goproxy server
func (s *Server) GetProxy() *goproxy.ProxyHttpServer {
	return s.proxy
}

// handleRequest hands the request to the active worker.
// Requests the worker does not answer go to the network untouched.
func (s *Server) handleRequest(requ *http.Request, ctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
	w := s.reg.Active()
	if w == nil {
		logrus.Debugf("No active worker, forwarding %s %s", requ.Method, requ.URL)
		return requ, nil
	}

	resp, err := w.Dispatch(requ.Context(), worker.FetchEvent(withoutProxyHeaders(requ)))
	if err != nil {
		ctx.Warnf("Fetch handler failed for %s: %v", requ.URL, err)
		return requ, nil
	}
	if resp == nil {
		logrus.Debugf("Forwarding %s %s", requ.Method, requ.URL)
		return requ, nil
	}

	logrus.Infof("%s %s -> %d (%s)", requ.Method, requ.URL, resp.StatusCode, resp.Header.Get("X-Cache"))
	return requ, resp
}

// withoutProxyHeaders returns a copy of the request without the headers meant for the proxy
func withoutProxyHeaders(requ *http.Request) *http.Request {
	if requ.Header.Get("Proxy-Connection") == "" && requ.Header.Get("Proxy-Authorization") == "" {
		return requ
	}
	out := requ.Clone(requ.Context())
	out.Header.Del("Proxy-Connection")
	out.Header.Del("Proxy-Authorization")
	return out
}

// Start serves the proxy until ctx is done
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.config.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves the proxy on ln until ctx is done
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.proxy,
		ReadHeaderTimeout: 30 * time.Second,
	}

	if addr := s.config.Server.HTTPS.TransparentAddr; addr != "" {
		tln, err := net.Listen("tcp", addr)
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("failed to listen for https connections on %s: %w", addr, err)
		}
		go s.serveTransparentHTTPS(tln)
		defer func() { _ = tln.Close() }()
		logrus.Infof("Transparent HTTPS on %s", tln.Addr())
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	logrus.Infof("Starting offline proxy on %s", ln.Addr())
	logrus.Infof("Site origin: %s", s.config.Site.Origin)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		logrus.Infof("Stopping offline proxy")
		return srv.Shutdown(shutdownCtx)
	}
}
