// Package server exposes the rollup device and the raw state drive over
// HTTP. The DApp backend drives the request loop by POSTing to /finish and
// records outputs through the voucher, notice, report, gio and exception
// endpoints.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"

	"github.com/stateshift/rollup-httpd/config"
	"github.com/stateshift/rollup-httpd/libs/log"
	"github.com/stateshift/rollup-httpd/libs/service"
	"github.com/stateshift/rollup-httpd/rollup"
	"github.com/stateshift/rollup-httpd/state"
)

// Server serves the rollup HTTP API on a single listener.
type Server struct {
	service.BaseService
	logger log.Logger

	cfg     *config.RPCConfig
	device  *rollup.Device
	drive   *state.Drive
	metrics *Metrics

	handler  http.Handler
	listener net.Listener
}

// Option sets an optional parameter on the Server.
type Option func(*Server)

// WithMetrics replaces the default no-op metrics.
func WithMetrics(m *Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New returns a Server wired to the given device and state drive. The
// server does not listen until Start is called.
func New(
	logger log.Logger,
	cfg *config.RPCConfig,
	device *rollup.Device,
	drive *state.Drive,
	opts ...Option,
) *Server {
	s := &Server{
		logger:  logger,
		cfg:     cfg,
		device:  device,
		drive:   drive,
		metrics: NopMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.handler = s.newRouter()
	if cfg.IsCorsEnabled() {
		s.handler = cors.New(cors.Options{
			AllowedOrigins: cfg.CORSAllowedOrigins,
			AllowedMethods: cfg.CORSAllowedMethods,
			AllowedHeaders: cfg.CORSAllowedHeaders,
		}).Handler(s.handler)
	}

	s.BaseService = *service.NewBaseService(logger, "Server", s)
	return s
}

func (s *Server) newRouter() http.Handler {
	router := httprouter.New()
	router.POST("/voucher", s.handleVoucher)
	router.POST("/notice", s.handleNotice)
	router.POST("/report", s.handleReport)
	router.POST("/gio", s.handleGIO)
	router.POST("/exception", s.handleException)
	router.POST("/finish", s.handleFinish)
	router.GET("/raw_state_read/:offset/:size", s.handleRawStateRead)
	router.POST("/raw_state_write/:offset", s.handleRawStateWrite)
	router.GET("/raw_state_size", s.handleRawStateSize)
	return router
}

// OnStart implements service.Implementation by binding the listener and
// serving requests in the background.
func (s *Server) OnStart(ctx context.Context) error {
	listener, err := Listen(s.cfg.ListenAddress, s.cfg.MaxOpenConnections)
	if err != nil {
		return err
	}
	s.listener = listener

	go func() {
		if err := Serve(ctx, listener, s.handler, s.logger); err != nil &&
			!errors.Is(err, net.ErrClosed) && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server terminated unexpectedly", "err", err)
		}
	}()

	return nil
}

// OnStop implements service.Implementation.
func (s *Server) OnStop() {
	if s.listener != nil {
		_ = s.listener.Close()
	}
}

// Addr returns the listener's address after Start, or nil before.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}
