// Package glean builds Glean "events" pings for server-side events and emits
// them as structured log records for the ingestion decoder.
//
// Each record carries the decoder's outer message fields (document_namespace,
// document_type, document_version, document_id, user_agent, ip_address) and
// the ping itself as a JSON string in the payload field.
package glean

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// GleanEventMozlogType is the message of every emitted record.
	GleanEventMozlogType = "glean-server-event"

	// TelemetrySDKBuild identifies the generator of the ping schema.
	TelemetrySDKBuild = "glean_parser v11.0.1"

	documentTypeEvents = "events"
	documentVersion    = "1"
	unknown            = "Unknown"
)

// Ping is the outer message the decoder expects. Payload is JSON text.
type Ping struct {
	DocumentNamespace string `json:"document_namespace"`
	DocumentType      string `json:"document_type"`
	DocumentVersion   string `json:"document_version"`
	DocumentID        string `json:"document_id"`
	UserAgent         string `json:"user_agent"`
	IPAddress         string `json:"ip_address"`
	Payload           string `json:"payload"`
}

type eventPayload struct {
	Metrics    struct{}        `json:"metrics"`
	Events     []recordedEvent `json:"events"`
	PingInfo   pingInfo        `json:"ping_info"`
	ClientInfo clientInfo      `json:"client_info"`
}

type pingInfo struct {
	// Required by the schema; unused server side.
	Seq       int    `json:"seq"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type clientInfo struct {
	TelemetrySDKBuild string `json:"telemetry_sdk_build"`
	FirstRunDate      string `json:"first_run_date"`
	OS                string `json:"os"`
	OSVersion         string `json:"os_version"`
	Architecture      string `json:"architecture"`
	AppBuild          string `json:"app_build"`
	AppDisplayVersion string `json:"app_display_version"`
	AppChannel        string `json:"app_channel"`
}

// EventsServerEventLogger records events pings for one application.
// It is safe for concurrent use.
type EventsServerEventLogger struct {
	applicationID     string
	appDisplayVersion string
	channel           string

	logger zerolog.Logger
	now    func() time.Time
}

// NewEventsServerEventLogger creates a logger that emits records through logger.
// Identity values are not validated.
func NewEventsServerEventLogger(applicationID, appDisplayVersion, channel string, logger zerolog.Logger) *EventsServerEventLogger {
	return &EventsServerEventLogger{
		applicationID:     applicationID,
		appDisplayVersion: appDisplayVersion,
		channel:           channel,
		logger:            logger,
		now:               time.Now,
	}
}

// NewMozlogLogger returns the JSON logger glean records are written to.
func NewMozlogLogger(w io.Writer) zerolog.Logger {
	return zerolog.New(w).With().Timestamp().Str("logger", "glean").Logger()
}

// ApplicationID returns the document namespace used for every ping.
func (l *EventsServerEventLogger) ApplicationID() string { return l.applicationID }

// AppDisplayVersion returns the client_info.app_display_version value.
func (l *EventsServerEventLogger) AppDisplayVersion() string { return l.appDisplayVersion }

// Channel returns the client_info.app_channel value.
func (l *EventsServerEventLogger) Channel() string { return l.channel }

// Record builds a ping for event and emits it. The ip address is passed
// through untouched; the decoder derives geo data from it and scrubs it.
func (l *EventsServerEventLogger) Record(userAgent, ipAddress string, event Event) error {
	ping, err := l.Build(userAgent, ipAddress, event)
	if err != nil {
		return err
	}
	l.Emit(ping)
	return nil
}

// Build wraps event in a ping without emitting it.
func (l *EventsServerEventLogger) Build(userAgent, ipAddress string, event Event) (Ping, error) {
	now := l.now().UTC()
	timestamp := isoformat(now)

	payload := eventPayload{
		Events: []recordedEvent{{
			Category:  event.Category,
			Name:      event.Name,
			Extra:     event.Extra,
			Timestamp: now.UnixMilli(),
		}},
		PingInfo: pingInfo{
			Seq:       0,
			StartTime: timestamp,
			EndTime:   timestamp,
		},
		ClientInfo: clientInfo{
			TelemetrySDKBuild: TelemetrySDKBuild,
			FirstRunDate:      unknown,
			OS:                unknown,
			OSVersion:         unknown,
			Architecture:      unknown,
			AppBuild:          unknown,
			AppDisplayVersion: l.appDisplayVersion,
			AppChannel:        l.channel,
		},
	}

	serialized, err := marshalPayload(payload)
	if err != nil {
		return Ping{}, fmt.Errorf("serialize %s.%s payload: %w", event.Category, event.Name, err)
	}

	return Ping{
		DocumentNamespace: l.applicationID,
		DocumentType:      documentTypeEvents,
		DocumentVersion:   documentVersion,
		DocumentID:        uuid.NewString(),
		UserAgent:         userAgent,
		IPAddress:         ipAddress,
		Payload:           serialized,
	}, nil
}

// Emit writes ping as a single info record with one field per message key.
func (l *EventsServerEventLogger) Emit(ping Ping) {
	l.logger.Info().
		Str("document_namespace", ping.DocumentNamespace).
		Str("document_type", ping.DocumentType).
		Str("document_version", ping.DocumentVersion).
		Str("document_id", ping.DocumentID).
		Str("user_agent", ping.UserAgent).
		Str("ip_address", ping.IPAddress).
		Str("payload", ping.Payload).
		Msg(GleanEventMozlogType)
}

func marshalPayload(p eventPayload) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(p); err != nil {
		return "", err
	}
	return string(bytes.TrimSuffix(buf.Bytes(), []byte("\n"))), nil
}

// isoformat renders t like Python's datetime.isoformat for an aware UTC
// value: microseconds only when non-zero, offset as +00:00.
func isoformat(t time.Time) string {
	if t.Nanosecond()/int(time.Microsecond) == 0 {
		return t.Format("2006-01-02T15:04:05-07:00")
	}
	return t.Format("2006-01-02T15:04:05.000000-07:00")
}
