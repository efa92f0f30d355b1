// Package httpserver provides the admin/health HTTP server wrapper used
// by cmd/corestore-server.
//
// This package implements only the server lifecycle (listen, TLS,
// graceful shutdown); the routes and handlers it serves live in
// internal/server/adminserver, which builds the http.Handler passed to
// New.
package httpserver
