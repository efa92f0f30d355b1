// Package httpserver provides the admin/health HTTP server wrapper used
// by cmd/corestore-server, built on the standard library net/http.
package httpserver

import (
	"context"
	"crypto/tls"
	"net/http"
)

// Server represents the HTTP server.
//
// @req RQ-0301
// @design DS-0301
type Server struct {
	httpServer *http.Server
	handler    http.Handler
}

// New creates a new HTTP server.
//
// @design DS-0301
func New(addr string, handler http.Handler) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:    addr,
			Handler: handler,
		},
		handler: handler,
	}
}

// NewWithTLSConfig creates an HTTPS server whose certificates come from
// tlsCfg — typically a tlsroots.Watcher's GetCertificate hook, so the
// serving pair hot-reloads without a restart. Serve it with
// ListenAndServeTLS("", ""): the empty paths tell net/http to use
// tlsCfg instead of loading files itself.
//
// @design DS-0301
func NewWithTLSConfig(addr string, handler http.Handler, tlsCfg *tls.Config) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:      addr,
			Handler:   handler,
			TLSConfig: tlsCfg,
		},
		handler: handler,
	}
}

// ListenAndServe starts the HTTP server.
//
// @design DS-0301
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// ListenAndServeTLS starts the HTTPS server.
//
// @design DS-0301
func (s *Server) ListenAndServeTLS(certFile, keyFile string) error {
	return s.httpServer.ListenAndServeTLS(certFile, keyFile)
}

// Shutdown gracefully shuts down the server.
//
// @design DS-0301
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
