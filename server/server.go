// Package server implements the tunnel endpoint's HTTP surface: the
// WebSocket upgrade route, a health check, a version endpoint, and an
// obfuscation mode that answers every unmatched or unauthenticated request
// with a generic 404 (or, with Config.Backend set, reverse-proxies it to a
// decoy site) rather than revealing the tunnel's presence.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	penguinmux "github.com/penguin-tunnel/penguin/mux"
	"github.com/penguin-tunnel/penguin/transport"
)

// Version is stamped at build time via -ldflags; it defaults to "dev".
var Version = "dev"

// Config controls the HTTP server's routing and tunnel behavior.
type Config struct {
	PSK           string
	NotFoundBody  string
	ObfuscateMode bool
	// Backend, if set, is a decoy site that unmatched or unauthenticated
	// requests are reverse-proxied to instead of answered with NotFoundBody,
	// so a prober sees an ordinary site rather than a flat 404 everywhere.
	Backend       string
	Log           *logrus.Entry
	SessionConfig []penguinmux.Option
}

// Server hosts the upgrade endpoint and dispatches accepted sessions to a
// Handler.
type Server struct {
	cfg      Config
	upgrader *transport.Upgrader
	router   *mux.Router
	backend  *httputil.ReverseProxy
	Handler  func(ctx context.Context, session *penguinmux.Session)
}

// New builds a Server. Handler is invoked once per accepted tunnel session
// and owns the session's lifetime (it should call session.Close() when it is
// done); ctx is cancelled once the session has ended, and nothing closes the
// session on ctx cancellation.
func New(cfg Config, handler func(ctx context.Context, session *penguinmux.Session)) *Server {
	if cfg.NotFoundBody == "" {
		cfg.NotFoundBody = "404 page not found\n"
	}
	s := &Server{
		cfg:      cfg,
		upgrader: transport.NewUpgrader(cfg.PSK),
		router:   mux.NewRouter(),
		Handler:  handler,
	}
	if cfg.Backend != "" {
		if backendURL, err := url.Parse(cfg.Backend); err == nil {
			s.backend = httputil.NewSingleHostReverseProxy(backendURL)
		} else if cfg.Log != nil {
			cfg.Log.WithError(err).Warnf("ignoring invalid --backend %q", cfg.Backend)
		}
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/version", s.handleVersion).Methods(http.MethodGet)
	s.router.HandleFunc("/ws", s.handleUpgrade).Methods(http.MethodGet)
	s.router.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.cfg.ObfuscateMode {
		s.handleNotFound(w, r)
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if s.cfg.ObfuscateMode {
		s.handleNotFound(w, r)
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, Version)
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	if s.backend != nil {
		s.backend.ServeHTTP(w, r)
		return
	}
	w.WriteHeader(http.StatusNotFound)
	fmt.Fprint(w, s.cfg.NotFoundBody)
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	tr, err := s.upgrader.Upgrade(w, r)
	if err != nil {
		s.logf(logrus.WarnLevel, "rejecting upgrade from %s: %v", r.RemoteAddr, err)
		s.handleNotFound(w, r)
		return
	}

	session := penguinmux.NewSession(tr, penguinmux.RoleServer, s.cfg.SessionConfig...)
	sessionID := uuid.New()
	s.logf(logrus.InfoLevel, "tunnel session %s established from %s", sessionID, r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	go func() {
		<-session.Done()
		if err := session.Err(); err != nil {
			s.logf(logrus.InfoLevel, "tunnel session %s closed: %v", sessionID, err)
		} else {
			s.logf(logrus.InfoLevel, "tunnel session %s closed", sessionID)
		}
		cancel()
	}()

	s.Handler(ctx, session)
}

func (s *Server) logf(level logrus.Level, format string, args ...interface{}) {
	if s.cfg.Log != nil {
		s.cfg.Log.Logf(level, format, args...)
	}
}

// ListenAndServe is a thin convenience wrapper mirroring net/http's own
// naming, with sane timeouts for a long-lived WebSocket endpoint (no
// ReadTimeout/WriteTimeout, since those would kill an idle tunnel).
func ListenAndServe(addr string, handler http.Handler) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return httpServer.Serve(ln)
}
