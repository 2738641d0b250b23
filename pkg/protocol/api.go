package protocol

import "time"

// StatusResponse is returned by GET /api/v1/status.
type StatusResponse struct {
	Status            string    `json:"status"`
	Uptime            string    `json:"uptime"`
	NATSRunning       bool      `json:"nats_running"`
	StartedAt         time.Time `json:"started_at"`
	ApplicationID     string    `json:"application_id"`
	AppDisplayVersion string    `json:"app_display_version"`
	Channel           string    `json:"channel"`
	ProducerCount     int       `json:"producer_count"`
	EventsRecorded    int64     `json:"events_recorded"`
	EventsRejected    int64     `json:"events_rejected"`
	EventsOptedOut    int64     `json:"events_opted_out"`
}

// ProducerInfo is one entry in the GET /api/v1/producers response.
type ProducerInfo struct {
	Name            string    `json:"name"`
	Version         string    `json:"version"`
	Status          string    `json:"status"`
	Events          []string  `json:"events"`
	RegisteredAt    time.Time `json:"registered_at"`
	LastHeartbeat   time.Time `json:"last_heartbeat"`
	EventsPublished int64     `json:"events_published"`
	Errors          int64     `json:"errors"`
}

// ProducersResponse is returned by GET /api/v1/producers.
type ProducersResponse struct {
	Producers []ProducerInfo `json:"producers"`
}

// RecordResponse is returned by POST /api/v1/events.
type RecordResponse struct {
	DocumentID string `json:"document_id,omitempty"`
	Recorded   bool   `json:"recorded"`
	Reason     string `json:"reason,omitempty"`
}

// ReloadResponse is returned by POST /api/v1/config/reload.
type ReloadResponse struct {
	ApplicationID     string `json:"application_id"`
	AppDisplayVersion string `json:"app_display_version"`
	Channel           string `json:"channel"`
}
