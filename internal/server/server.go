// Package server accepts websocket clients and hands them to the broadcast hub.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/leandrodaf/faderws/internal/hub"
	"github.com/leandrodaf/faderws/sdk/contracts"
	"go.uber.org/multierr"
)

const (
	defaultPingInterval = time.Second
	defaultPongTimeout  = time.Second
	defaultWriteTimeout = 2 * time.Second
)

// Options configures a Server.
type Options struct {
	// PingInterval is the idle time after which a client is pinged.
	PingInterval time.Duration
	// PongTimeout is how long a client may take to answer a ping.
	PongTimeout time.Duration
	// WriteTimeout bounds every frame write.
	WriteTimeout time.Duration
}

// Server is the websocket endpoint. Every accepted connection becomes a hub
// subscription; inbound data frames are read and discarded.
type Server struct {
	hub    *hub.Hub
	logger contracts.Logger
	opts   Options

	upgrader websocket.Upgrader
	http     *http.Server

	mu           sync.Mutex
	ln           net.Listener
	shutdownOnce sync.Once
	shutdownErr  error
}

// New returns a server publishing from h. Zero option values take defaults.
func New(h *hub.Hub, logger contracts.Logger, opts Options) *Server {
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	if opts.PongTimeout <= 0 {
		opts.PongTimeout = defaultPongTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}

	s := &Server{
		hub:    h,
		logger: logger,
		opts:   opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	s.http = &http.Server{
		Handler:           http.HandlerFunc(s.handle),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Listen binds addr. Failure is reported as ErrBind.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", contracts.ErrBind, addr, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	s.logger.Info("websocket server listening",
		s.logger.Field().String("address", "ws://"+ln.Addr().String()))
	return nil
}

// Addr returns the bound address, or an empty string before Listen.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Serve accepts connections until Shutdown is called or ctx is cancelled.
// It returns nil after a clean shutdown.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return fmt.Errorf("%w: serve called before listen", contracts.ErrBind)
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = s.Shutdown(shutdownCtx)
		case <-stop:
		}
	}()

	err := s.http.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and releases the listener. Open
// client connections belong to the hub and close with it. Shutdown is
// idempotent.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		err := s.http.Shutdown(ctx)

		s.mu.Lock()
		ln := s.ln
		s.mu.Unlock()
		if ln != nil {
			if cerr := ln.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
				err = multierr.Append(err, cerr)
			}
		}
		s.shutdownErr = err
		s.logger.Info("websocket server stopped")
	})
	return s.shutdownErr
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed",
			s.logger.Field().String("remote", r.RemoteAddr),
			s.logger.Field().Error("error", err))
		return
	}

	c := newClient(conn, s.opts.WriteTimeout)
	sub, err := s.hub.Register(c)
	if err != nil {
		s.logger.Debug("rejecting client", s.logger.Field().Error("error", err))
		_ = c.Close()
		return
	}
	s.logger.Debug("client connected",
		s.logger.Field().String("client", sub.ID()),
		s.logger.Field().String("remote", r.RemoteAddr))

	go c.keepalive(s.opts.PingInterval, sub.Done())

	if err := c.readLoop(s.opts.PingInterval + s.opts.PongTimeout); err != nil {
		s.logger.Debug("client disconnected",
			s.logger.Field().String("client", sub.ID()),
			s.logger.Field().Error("error", err))
	}
	s.hub.Unregister(sub)
}
