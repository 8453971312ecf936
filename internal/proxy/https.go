package proxy

import (
	"bufio"
	"bytes"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"github.com/elazarl/goproxy"
	"github.com/iTrooz/offline-proxy/internal/config"
	"github.com/inconshreveable/go-vhost"
	"github.com/sirupsen/logrus"
)

func loadCertificate(cfg *config.Config) (*tls.Certificate, error) {
	if cfg.Server.HTTPS.CACertFile == "" || cfg.Server.HTTPS.CAKeyFile == "" {
		logrus.Debugf("No CA certificate configured, using goproxy default certificate")
		return nil, nil // Use default goproxy certificate
	}

	cert, err := tls.LoadX509KeyPair(cfg.Server.HTTPS.CACertFile, cfg.Server.HTTPS.CAKeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load CA certificate and key: %w", err)
	}
	logrus.Debugf("Loaded CA certificate from %s", cfg.Server.HTTPS.CACertFile)
	return &cert, nil
}

// setupHTTPSProxyHandler intercepts CONNECT tunnels so HTTPS requests reach the worker too
func (s *Server) setupHTTPSProxyHandler() error {
	caCert, err := loadCertificate(s.config)
	if err != nil {
		return err
	}

	s.proxy.CertStore = newCertStore()

	if caCert == nil {
		logrus.Warnf("TLS interception enabled but no CA certificate loaded, using goproxy default certificate")
		s.proxy.OnRequest().HandleConnect(goproxy.AlwaysMitm)
		return nil
	}

	customCaMitm := &goproxy.ConnectAction{
		Action:    goproxy.ConnectMitm,
		TLSConfig: goproxy.TLSConfigFromCA(caCert),
	}
	s.proxy.OnRequest().HandleConnect(goproxy.FuncHttpsHandler(func(host string, ctx *goproxy.ProxyCtx) (*goproxy.ConnectAction, string) {
		logrus.Debugf("Handling CONNECT request for %s", host)
		return customCaMitm, host
	}))
	return nil
}

// serveTransparentHTTPS accepts raw TLS connections, routes them by SNI and
// feeds them to the proxy as if they had been tunneled through CONNECT
func (s *Server) serveTransparentHTTPS(ln net.Listener) {
	for {
		c, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logrus.Errorf("Error accepting new connection: %v", err)
			continue
		}
		go s.handleTransparentConn(c)
	}
}

func (s *Server) handleTransparentConn(c net.Conn) {
	tlsConn, err := vhost.TLS(c)
	if err != nil {
		logrus.Errorf("Error reading TLS hello from %s: %v", c.RemoteAddr(), err)
		_ = c.Close()
		return
	}
	if tlsConn.Host() == "" {
		logrus.Warnf("Cannot support non-SNI enabled clients (%s)", c.RemoteAddr())
		_ = c.Close()
		return
	}

	connectReq := &http.Request{
		Method: http.MethodConnect,
		URL: &url.URL{
			Opaque: tlsConn.Host(),
			Host:   net.JoinHostPort(tlsConn.Host(), "443"),
		},
		Host:       tlsConn.Host(),
		Header:     make(http.Header),
		RemoteAddr: c.RemoteAddr().String(),
	}
	s.proxy.ServeHTTP(dumbResponseWriter{tlsConn}, connectReq)
}

var connectOK = []byte("HTTP/1.0 200 OK\r\n\r\n")

// dumbResponseWriter lets goproxy hijack a connection that never sent a CONNECT
type dumbResponseWriter struct {
	net.Conn
}

func (dumb dumbResponseWriter) Header() http.Header {
	return http.Header{}
}

func (dumb dumbResponseWriter) Write(buf []byte) (int, error) {
	// the client never asked for a tunnel, drop the answer to the faux CONNECT
	if bytes.Equal(buf, connectOK) {
		return len(buf), nil
	}
	return dumb.Conn.Write(buf)
}

func (dumb dumbResponseWriter) WriteHeader(code int) {
	logrus.Debugf("Ignoring status %d on transparent connection", code)
}

func (dumb dumbResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return dumb, bufio.NewReadWriter(bufio.NewReader(dumb), bufio.NewWriter(dumb)), nil
}
