// Package registry tracks the producers publishing server events to the relay.
package registry

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/sekia-ai/gleanrelay/internal/metrics"
	"github.com/sekia-ai/gleanrelay/pkg/protocol"
)

// producerState holds the combined registration + last heartbeat data.
type producerState struct {
	Registration  protocol.Registration
	RegisteredAt  time.Time
	LastHeartbeat protocol.Heartbeat
	LastSeen      time.Time
}

// Registry tracks connected producers.
type Registry struct {
	mu        sync.RWMutex
	producers map[string]*producerState
	logger    zerolog.Logger
	subs      []*nats.Subscription
}

// New creates a Registry and subscribes to NATS subjects.
func New(nc *nats.Conn, logger zerolog.Logger) (*Registry, error) {
	r := &Registry{
		producers: make(map[string]*producerState),
		logger:    logger.With().Str("component", "registry").Logger(),
	}

	regSub, err := nc.Subscribe(protocol.SubjectRegistry, r.handleRegistration)
	if err != nil {
		return nil, err
	}
	hbSub, err := nc.Subscribe(protocol.SubjectAllHeartbeats, r.handleHeartbeat)
	if err != nil {
		regSub.Unsubscribe()
		return nil, err
	}
	r.subs = []*nats.Subscription{regSub, hbSub}

	r.logger.Info().Msg("producer registry started")
	return r, nil
}

func (r *Registry) handleRegistration(msg *nats.Msg) {
	var reg protocol.Registration
	if err := json.Unmarshal(msg.Data, &reg); err != nil {
		r.logger.Error().Err(err).Msg("bad registration message")
		return
	}
	now := time.Now()
	r.mu.Lock()
	if existing, ok := r.producers[reg.Name]; ok {
		existing.Registration = reg
		existing.LastSeen = now
	} else {
		r.producers[reg.Name] = &producerState{
			Registration: reg,
			RegisteredAt: now,
			LastSeen:     now,
		}
	}
	metrics.Producers.Set(float64(len(r.producers)))
	r.mu.Unlock()
	r.logger.Info().Str("producer", reg.Name).Str("version", reg.Version).Msg("producer registered")
}

func (r *Registry) handleHeartbeat(msg *nats.Msg) {
	var hb protocol.Heartbeat
	if err := json.Unmarshal(msg.Data, &hb); err != nil {
		r.logger.Error().Err(err).Msg("bad heartbeat message")
		return
	}
	now := time.Now()
	r.mu.Lock()
	if state, ok := r.producers[hb.Name]; ok {
		state.LastHeartbeat = hb
		state.LastSeen = now
	} else {
		// Heartbeat from a producer that registered before we started.
		r.producers[hb.Name] = &producerState{
			Registration:  protocol.Registration{Name: hb.Name},
			RegisteredAt:  now,
			LastHeartbeat: hb,
			LastSeen:      now,
		}
	}
	metrics.Producers.Set(float64(len(r.producers)))
	r.mu.Unlock()
}

// Producers returns a snapshot of all known producers sorted by name.
func (r *Registry) Producers() []protocol.ProducerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]protocol.ProducerInfo, 0, len(r.producers))
	for _, s := range r.producers {
		status := "unknown"
		if s.LastHeartbeat.Status != "" {
			status = s.LastHeartbeat.Status
		}
		result = append(result, protocol.ProducerInfo{
			Name:            s.Registration.Name,
			Version:         s.Registration.Version,
			Status:          status,
			Events:          s.Registration.Events,
			RegisteredAt:    s.RegisteredAt,
			LastHeartbeat:   s.LastSeen,
			EventsPublished: s.LastHeartbeat.EventsPublished,
			Errors:          s.LastHeartbeat.Errors,
		})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// Count returns the number of known producers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.producers)
}

// Close unsubscribes from NATS.
func (r *Registry) Close() {
	for _, sub := range r.subs {
		sub.Unsubscribe()
	}
}
