// Copyright (C) 2025 Logan Ross
//
// This file is part of Loom – https://github.com/loganrossus/loom
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-Loom-Commercial

package fabric

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yl2chen/cidranger"

	"github.com/loganrossus/loom/pkg/config"
)

// Server is the websocket session fabric front end: it accepts
// connections, runs the per-session read loop, and hands validated
// envelopes to the dispatcher.
type Server struct {
	cfg        config.SessionConfig
	registry   *SessionRegistry
	dispatcher *Dispatcher
	limiter    *RateLimiter
	monitor    *heartbeatMonitor
	providers  []string
	logger     *slog.Logger

	upgrader websocket.Upgrader
	ranger   cidranger.Ranger

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	httpSrv  *http.Server
	listener net.Listener
}

// ServerConfig wires the fabric server.
type ServerConfig struct {
	Session    config.SessionConfig
	RateLimit  config.RateLimitConfig
	Registry   *SessionRegistry
	Dispatcher *Dispatcher

	// Providers is the enabled provider list advertised in WELCOME.
	Providers []string

	Logger *slog.Logger
}

// NewServer creates the fabric server. An invalid CIDR in the
// allowlist is a configuration error.
func NewServer(cfg ServerConfig) (*Server, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	registry := cfg.Registry
	if registry == nil {
		registry = NewSessionRegistry()
	}

	var ranger cidranger.Ranger
	if len(cfg.Session.AllowedNetworks) > 0 {
		ranger = cidranger.NewPCTrieRanger()
		for _, cidr := range cfg.Session.AllowedNetworks {
			_, network, err := net.ParseCIDR(cidr)
			if err != nil {
				return nil, fmt.Errorf("invalid allowed network %q: %w", cidr, err)
			}
			if err := ranger.Insert(cidranger.NewBasicRangerEntry(*network)); err != nil {
				return nil, fmt.Errorf("allowed network %q: %w", cidr, err)
			}
		}
	}

	return &Server{
		cfg:        cfg.Session,
		registry:   registry,
		dispatcher: cfg.Dispatcher,
		limiter:    NewRateLimiter(cfg.RateLimit.Points, cfg.RateLimit.Window()),
		monitor:    newHeartbeatMonitor(registry, cfg.Session.HeartbeatInterval(), cfg.Session.HeartbeatTimeout(), logger),
		providers:  cfg.Providers,
		logger:     logger.With("component", "fabric"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Token auth happens in-protocol; origin policy is the
			// deployment's concern.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		ranger: ranger,
	}, nil
}

// Registry exposes the session registry.
func (srv *Server) Registry() *SessionRegistry { return srv.registry }

// Start binds the listener and begins accepting sessions.
func (srv *Server) Start(ctx context.Context) error {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	if srv.running {
		return errors.New("fabric server already running")
	}

	listener, err := net.Listen("tcp", srv.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("fabric listen on %s: %w", srv.cfg.ListenAddress, err)
	}
	srv.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc(srv.cfg.Path, srv.handleUpgrade)
	srv.httpSrv = &http.Server{Handler: mux}

	runCtx, cancel := context.WithCancel(ctx)
	srv.cancel = cancel
	srv.running = true

	go srv.monitor.run(runCtx)
	go func() {
		if err := srv.httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srv.logger.Error("fabric server stopped", "error", err)
		}
	}()

	srv.logger.Info("fabric server started",
		"address", listener.Addr().String(), "path", srv.cfg.Path)
	return nil
}

// Addr returns the bound listen address, useful when the configured
// port was 0.
func (srv *Server) Addr() string {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.listener == nil {
		return ""
	}
	return srv.listener.Addr().String()
}

// Stop closes the listener and all live sessions.
func (srv *Server) Stop(ctx context.Context) error {
	srv.mu.Lock()
	if !srv.running {
		srv.mu.Unlock()
		return nil
	}
	srv.running = false
	cancel := srv.cancel
	httpSrv := srv.httpSrv
	srv.mu.Unlock()

	cancel()
	for _, s := range srv.registry.All() {
		s.Close()
	}
	err := httpSrv.Shutdown(ctx)
	srv.logger.Info("fabric server stopped")
	return err
}

// allowed checks the remote address against the CIDR allowlist.
func (srv *Server) allowed(remoteAddr string) bool {
	if srv.ranger == nil {
		return true
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	ok, err := srv.ranger.Contains(ip)
	return err == nil && ok
}

func (srv *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if !srv.allowed(r.RemoteAddr) {
		srv.logger.Warn("connection refused by allowlist", "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := srv.upgrader.Upgrade(w, r, nil)
	if err != nil {
		srv.logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	session := NewSession(conn, srv.cfg.OutboundQueueDepth, srv.logger)
	srv.registry.Add(session)

	go session.writePump()

	// Transport accepted: greet and move to Authenticated, awaiting
	// the client's REGISTER.
	session.Send(NewWelcome(session.ID, srv.providers))
	session.SetState(StateAuthenticated)

	go srv.readLoop(session, conn)
}

// readLoop decodes, validates, rate limits, and dispatches inbound
// envelopes until the transport closes. Malformed input is answered,
// never panicked on.
func (srv *Server) readLoop(session *Session, conn *websocket.Conn) {
	defer func() {
		session.Close()
		<-session.Done()
		srv.registry.Remove(session)
		srv.logger.Info("session closed",
			"session_id", session.ID, "client_id", session.ClientID())
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			srv.dispatcher.sendError(session, CodeInvalidMessage, "malformed JSON", "")
			continue
		}

		if errs := ValidateEnvelope(&env); len(errs) > 0 {
			srv.logger.Debug("envelope rejected",
				"session_id", session.ID, "violations", joinFieldErrors(errs))
			srv.dispatcher.sendError(session, CodeInvalidMessage, joinFieldErrors(errs), env.MessageID)
			continue
		}

		if env.Expired(time.Now()) {
			srv.logger.Debug("expired envelope dropped",
				"session_id", session.ID, "message_id", env.MessageID)
			continue
		}

		session.Touch()

		if _, ok := srv.limiter.Allow(session.ID); !ok {
			srv.dispatcher.sendError(session, CodeRateLimitExceeded, "rate limit exceeded", env.MessageID)
			continue
		}

		srv.dispatcher.Dispatch(session, &env)

		if session.State() == StateDisconnected {
			return
		}
	}
}
