// Package admin serves the operator HTTP API next to the chat listener:
// health, Prometheus metrics, the session roster, forced removal, and a
// WebSocket entry point into the same chat service.
package admin

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"sockchat/internal/capability"
	chaterr "sockchat/internal/errors"
	"sockchat/internal/metrics"
	"sockchat/internal/session"
	"sockchat/internal/transport"
	"sockchat/util"
)

// Options wires the router to the running server.
type Options struct {
	Registry *session.Registry // required
	// Chat serves connections upgraded on /ws; nil disables the route.
	Chat    capability.Capability
	Metrics *metrics.Collector
	Logger  *util.Logger
}

// API is the admin HTTP handler.  It also keeps count of the WebSocket
// chat sessions it runs, which outlive the HTTP server's own shutdown.
type API struct {
	router   http.Handler
	opts     Options
	log      *util.Logger
	upgrader websocket.Upgrader
	ws       sync.WaitGroup
}

// NewRouter returns the admin handler.
//
//	GET    /healthz          liveness
//	GET    /metrics          Prometheus exposition
//	GET    /stats            metrics snapshot as JSON
//	GET    /sessions         connected sessions as JSON
//	DELETE /sessions/{name}  disconnect a session
//	GET    /ws               chat over WebSocket
//
// Chat messages show the peer's socket address, so forwarding headers
// such as X-Real-IP are not consulted.
func NewRouter(opts Options) *API {
	a := &API{
		opts: opts,
		log:  opts.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	if a.log == nil {
		a.log = util.NewLogger(0)
	}
	a.log = a.log.With("admin")

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", a.health)
	r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	r.Get("/stats", a.stats)
	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", a.listSessions)
		r.Delete("/{name}", a.removeSession)
	})
	if opts.Chat != nil {
		r.Get("/ws", a.websocket)
	}
	a.router = r
	return a
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) { a.router.ServeHTTP(w, r) }

// Wait blocks until every WebSocket session has returned or timeout
// passes, and reports whether they all returned.
func (a *API) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		a.ws.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (a *API) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("ok\n"))
}

func (a *API) stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.opts.Metrics.Snapshot())
}

func (a *API) listSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.opts.Registry.List())
}

func (a *API) removeSession(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	err := a.opts.Registry.Remove(name)
	switch {
	case chaterr.Is(err, chaterr.ErrNoSuchSession):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no such session", "name": name})
		return
	case err != nil:
		a.opts.Metrics.RecordError("remove " + name + ": " + err.Error())
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	a.log.Info("operator removed %s", name)
	w.WriteHeader(http.StatusNoContent)
}

// websocket runs one chat session for the lifetime of the request.
func (a *API) websocket(w http.ResponseWriter, r *http.Request) {
	// Counted before the upgrade hijacks the connection, while the HTTP
	// server still tracks the request.
	a.ws.Add(1)
	defer a.ws.Done()

	ws, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.log.Verbose("upgrade from %s: %v", r.RemoteAddr, err)
		return
	}
	a.opts.Metrics.ConnectionAccepted("ws")
	a.log.Verbose("websocket connection from %s", r.RemoteAddr)

	if err := a.opts.Chat.Handle(r.Context(), transport.NewWSConn(ws, r.RemoteAddr)); err != nil {
		a.log.Verbose("websocket %s: %v", r.RemoteAddr, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
