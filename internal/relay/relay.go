// Package relay turns ServerEvents received from producers into glean
// records.
package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/sekia-ai/gleanrelay/internal/metrics"
	"github.com/sekia-ai/gleanrelay/pkg/glean"
	"github.com/sekia-ai/gleanrelay/pkg/protocol"
)

// ErrOptedOut is returned for events whose account disabled data collection.
var ErrOptedOut = errors.New("account opted out of metrics collection")

// ErrBadSignature is returned for events that fail HMAC verification.
var ErrBadSignature = errors.New("invalid event signature")

// Stats is a snapshot of the relay counters.
type Stats struct {
	Recorded int64
	Rejected int64
	OptedOut int64
}

// Relay records ServerEvents through the current glean logger.
type Relay struct {
	gl     atomic.Pointer[glean.EventsServerEventLogger]
	secret string
	logger zerolog.Logger
	sub    *nats.Subscription

	recorded atomic.Int64
	rejected atomic.Int64
	optedOut atomic.Int64
}

// New creates a Relay. secret verifies NATS-delivered events; empty disables
// verification.
func New(gl *glean.EventsServerEventLogger, secret string, logger zerolog.Logger) *Relay {
	r := &Relay{
		secret: secret,
		logger: logger.With().Str("component", "relay").Logger(),
	}
	r.gl.Store(gl)
	return r
}

// Subscribe starts consuming events on subject.
func (r *Relay) Subscribe(nc *nats.Conn, subject string) error {
	sub, err := nc.Subscribe(subject, r.handleMsg)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	r.sub = sub
	r.logger.Info().Str("subject", subject).Msg("relaying server events")
	return nil
}

// SetEventLogger swaps the glean logger used for subsequent events.
func (r *Relay) SetEventLogger(gl *glean.EventsServerEventLogger) {
	r.gl.Store(gl)
}

// EventLogger returns the glean logger currently in use.
func (r *Relay) EventLogger() *glean.EventsServerEventLogger {
	return r.gl.Load()
}

func (r *Relay) handleMsg(msg *nats.Msg) {
	var ev protocol.ServerEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		r.reject(metrics.TransportNATS, err).Str("subject", msg.Subject).Msg("bad server event message")
		return
	}
	if !protocol.VerifyEvent(&ev, r.secret) {
		r.reject(metrics.TransportNATS, ErrBadSignature).
			Str("source", ev.Source).
			Str("event", ev.Category+"."+ev.Name).
			Msg("dropping unsigned or tampered event")
		return
	}
	// Record logs and counts its own failures.
	r.Record(ev, metrics.TransportNATS)
}

// Record emits one glean record for ev. Events from opted-out accounts are
// counted and dropped with ErrOptedOut.
func (r *Relay) Record(ev protocol.ServerEvent, transport string) (glean.Ping, error) {
	if !ev.Collect() {
		r.optedOut.Add(1)
		metrics.EventsTotal.WithLabelValues(transport, metrics.OutcomeOptedOut).Inc()
		return glean.Ping{}, ErrOptedOut
	}

	event := ev.Event()
	if err := event.Validate(); err != nil {
		r.reject(transport, err).Str("source", ev.Source).Msg("invalid server event")
		return glean.Ping{}, err
	}

	gl := r.gl.Load()
	ping, err := gl.Build(ev.UserAgent, ev.IPAddress, event)
	if err != nil {
		r.reject(transport, err).Str("source", ev.Source).Msg("server event could not be serialized")
		return glean.Ping{}, err
	}
	gl.Emit(ping)

	r.recorded.Add(1)
	metrics.EventsTotal.WithLabelValues(transport, metrics.OutcomeRecorded).Inc()
	metrics.PayloadBytes.Observe(float64(len(ping.Payload)))
	r.logger.Debug().
		Str("source", ev.Source).
		Str("event", event.Category+"."+event.Name).
		Str("document_id", ping.DocumentID).
		Msg("recorded server event")
	return ping, nil
}

func (r *Relay) reject(transport string, err error) *zerolog.Event {
	r.rejected.Add(1)
	metrics.EventsTotal.WithLabelValues(transport, metrics.OutcomeRejected).Inc()
	return r.logger.Warn().Err(err)
}

// Stats returns the current counters.
func (r *Relay) Stats() Stats {
	return Stats{
		Recorded: r.recorded.Load(),
		Rejected: r.rejected.Load(),
		OptedOut: r.optedOut.Load(),
	}
}

// Close unsubscribes from NATS.
func (r *Relay) Close() {
	if r.sub != nil {
		r.sub.Unsubscribe()
	}
}
