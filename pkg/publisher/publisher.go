// Package publisher is the producer side of the relay: services use it to
// publish server events over NATS instead of writing glean records themselves.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/sekia-ai/gleanrelay/pkg/glean"
	"github.com/sekia-ai/gleanrelay/pkg/protocol"
)

// Config holds connection options for a publisher.
type Config struct {
	NATSUrl  string
	NATSOpts []nats.Option

	// Secret signs every published event. Empty leaves events unsigned.
	Secret string

	// HeartbeatInterval defaults to 30s.
	HeartbeatInterval time.Duration
}

// Publisher sends ServerEvents to the relay.
type Publisher struct {
	Name    string
	Version string
	Events  []string

	nc     *nats.Conn
	secret string
	logger zerolog.Logger
	cancel context.CancelFunc

	published atomic.Int64
	errors    atomic.Int64
	lastEvent atomic.Value // stores time.Time
}

// New creates a Publisher, connects to NATS, registers, and starts heartbeating.
func New(cfg Config, name, version string, events []string, logger zerolog.Logger) (*Publisher, error) {
	pubLogger := logger.With().Str("producer", name).Logger()

	// Resilience: infinite reconnect with logging on state changes.
	resilienceOpts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				pubLogger.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			pubLogger.Info().Msg("NATS reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			pubLogger.Warn().Msg("NATS connection closed")
		}),
	}

	opts := append(resilienceOpts, cfg.NATSOpts...)
	nc, err := nats.Connect(cfg.NATSUrl, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.NATSUrl, err)
	}

	p := &Publisher{
		Name:    name,
		Version: version,
		Events:  events,
		nc:      nc,
		secret:  cfg.Secret,
		logger:  pubLogger,
	}
	p.lastEvent.Store(time.Time{})

	if err := p.register(); err != nil {
		nc.Close()
		return nil, err
	}

	interval := cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	go p.heartbeatLoop(ctx, interval)

	return p, nil
}

func (p *Publisher) register() error {
	reg := protocol.Registration{
		Name:    p.Name,
		Version: p.Version,
		Events:  p.Events,
	}
	data, err := json.Marshal(reg)
	if err != nil {
		return err
	}
	return p.nc.Publish(protocol.SubjectRegistry, data)
}

func (p *Publisher) heartbeatLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Send an initial heartbeat immediately.
	p.sendHeartbeat()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sendHeartbeat()
		}
	}
}

func (p *Publisher) sendHeartbeat() {
	hb := protocol.Heartbeat{
		Name:            p.Name,
		Status:          "running",
		LastEvent:       p.lastEvent.Load().(time.Time),
		EventsPublished: p.published.Load(),
		Errors:          p.errors.Load(),
	}
	data, _ := json.Marshal(hb)
	if err := p.nc.Publish(protocol.SubjectHeartbeat(p.Name), data); err != nil {
		p.logger.Error().Err(err).Msg("failed to send heartbeat")
	}
}

// Publish signs ev and sends it on the publisher's event subject.
// Source is always the publisher name.
func (p *Publisher) Publish(ev protocol.ServerEvent) error {
	ev.Source = p.Name
	if err := protocol.SignEvent(&ev, p.secret); err != nil {
		p.errors.Add(1)
		return fmt.Errorf("sign %s.%s: %w", ev.Category, ev.Name, err)
	}
	data, err := json.Marshal(ev)
	if err != nil {
		p.errors.Add(1)
		return fmt.Errorf("encode %s.%s: %w", ev.Category, ev.Name, err)
	}
	if err := p.nc.Publish(protocol.SubjectEvents(p.Name), data); err != nil {
		p.errors.Add(1)
		return err
	}
	p.published.Add(1)
	p.lastEvent.Store(time.Now())
	return nil
}

// Record publishes a single event.
func (p *Publisher) Record(userAgent, ipAddress string, event glean.Event) error {
	return p.Publish(protocol.NewServerEvent(p.Name, userAgent, ipAddress, event))
}

// RecordEmailGenerateMask publishes an email.generate_mask event.
func (p *Publisher) RecordEmailGenerateMask(
	userAgent, ipAddress, mozillaAccountsID string,
	isRandomMask, createdByAPI, hasGeneratedFor bool,
) error {
	return p.Record(userAgent, ipAddress, glean.EmailGenerateMask{
		MozillaAccountsID: mozillaAccountsID,
		IsRandomMask:      isRandomMask,
		CreatedByAPI:      createdByAPI,
		HasGeneratedFor:   hasGeneratedFor,
	}.Event())
}

// Flush blocks until the server has processed everything published so far.
func (p *Publisher) Flush() error { return p.nc.Flush() }

// Conn returns the underlying NATS connection.
func (p *Publisher) Conn() *nats.Conn { return p.nc }

// Close stops heartbeating and disconnects.
func (p *Publisher) Close() {
	if p.cancel != nil {
		p.cancel()
	}
	p.nc.Drain()
}
