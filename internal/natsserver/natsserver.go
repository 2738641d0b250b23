// Package natsserver runs an in-process NATS server for gleand when no
// external bus is configured.
package natsserver

import (
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Config holds settings for the embedded NATS server.
type Config struct {
	Host  string // Empty keeps the server in-process only.
	Port  int
	Token string // If non-empty, requires token auth for NATS connections.
}

// Server wraps an embedded NATS server and the daemon's own connection to it.
type Server struct {
	ns        *server.Server
	nc        *nats.Conn
	token     string
	inProcess bool
	logger    zerolog.Logger
}

// New creates and starts the embedded NATS server.
func New(cfg Config, logger zerolog.Logger) (*Server, error) {
	opts := &server.Options{
		DontListen: cfg.Host == "",
		Host:       cfg.Host,
		Port:       cfg.Port,
		NoLog:      true,
		NoSigs:     true,
	}
	if cfg.Token != "" {
		opts.Authorization = cfg.Token
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("nats server create: %w", err)
	}

	ns.SetLoggerV2(newZerologAdapter(logger), false, false, false)

	go ns.Start()

	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("nats server failed to become ready")
	}

	s := &Server{ns: ns, token: cfg.Token, inProcess: opts.DontListen, logger: logger}

	nc, err := nats.Connect(ns.ClientURL(), s.ConnectOpts()...)
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	s.nc = nc

	logger.Info().Str("client_url", ns.ClientURL()).Bool("in_process", opts.DontListen).Msg("embedded NATS started")
	return s, nil
}

// ConnectOpts returns the options a client in this process needs to reach
// the server.
func (s *Server) ConnectOpts() []nats.Option {
	var opts []nats.Option
	if s.inProcess {
		opts = append(opts, nats.InProcessServer(s.ns))
	}
	if s.token != "" {
		opts = append(opts, nats.Token(s.token))
	}
	return opts
}

// Conn returns the internal NATS client connection.
func (s *Server) Conn() *nats.Conn { return s.nc }

// NATSServer returns the raw server for InProcessServer connections.
func (s *Server) NATSServer() *server.Server { return s.ns }

// ClientURL returns the NATS client connection URL.
func (s *Server) ClientURL() string { return s.ns.ClientURL() }

// Shutdown gracefully drains and shuts down.
func (s *Server) Shutdown() {
	s.logger.Info().Msg("shutting down embedded NATS")
	s.nc.Drain()
	s.ns.Shutdown()
	s.ns.WaitForShutdown()
}
