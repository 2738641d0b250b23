package glean

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"pgregory.net/rapid"
)

type decodedPayload struct {
	Metrics map[string]any `json:"metrics"`

	Events []struct {
		Category  string         `json:"category"`
		Name      string         `json:"name"`
		Extra     map[string]any `json:"extra"`
		Timestamp int64          `json:"timestamp"`
	} `json:"events"`

	PingInfo struct {
		Seq       int    `json:"seq"`
		StartTime string `json:"start_time"`
		EndTime   string `json:"end_time"`
	} `json:"ping_info"`

	ClientInfo map[string]string `json:"client_info"`
}

func drawExtras(rt *rapid.T) Extras {
	n := rapid.IntRange(0, 6).Draw(rt, "n_extras")
	x := Extras{}
	for i := 0; i < n; i++ {
		key := rapid.StringMatching(`[a-z_]{1,12}`).Draw(rt, "key")
		var val any
		switch rapid.IntRange(0, 2).Draw(rt, "kind") {
		case 0:
			val = rapid.String().Draw(rt, "str")
		case 1:
			val = rapid.Bool().Draw(rt, "bool")
		default:
			val = rapid.Int64().Draw(rt, "int")
		}
		x = x.With(key, val)
	}
	return x
}

func TestRecordProperties(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		appID := rapid.String().Draw(rt, "application_id")
		version := rapid.String().Draw(rt, "app_display_version")
		channel := rapid.String().Draw(rt, "channel")

		var buf bytes.Buffer
		l := NewEventsServerEventLogger(appID, version, channel, zerolog.New(&buf))

		ua := rapid.String().Draw(rt, "user_agent")
		ip := rapid.String().Draw(rt, "ip_address")
		ev := Event{
			Category: rapid.StringMatching(`[a-z]{1,10}`).Draw(rt, "category"),
			Name:     rapid.StringMatching(`[a-z_]{1,16}`).Draw(rt, "name"),
			Extra:    drawExtras(rt),
		}

		if err := l.Record(ua, ip, ev); err != nil {
			rt.Fatalf("Record: %v", err)
		}

		lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
		if len(lines) != 1 {
			rt.Fatalf("expected 1 record, got %d", len(lines))
		}
		var rec map[string]any
		if err := json.Unmarshal(lines[0], &rec); err != nil {
			rt.Fatalf("decode record: %v", err)
		}
		if rec["document_type"] != "events" || rec["document_version"] != "1" {
			rt.Fatalf("bad document type/version: %v/%v", rec["document_type"], rec["document_version"])
		}
		if rec["document_namespace"] != appID || rec["user_agent"] != ua || rec["ip_address"] != ip {
			rt.Fatalf("pass-through fields changed: %v", rec)
		}

		var payload decodedPayload
		if err := json.Unmarshal([]byte(rec["payload"].(string)), &payload); err != nil {
			rt.Fatalf("payload is not JSON: %v", err)
		}
		if len(payload.Metrics) != 0 {
			rt.Fatalf("metrics not empty: %v", payload.Metrics)
		}
		if len(payload.Events) != 1 {
			rt.Fatalf("expected exactly one event, got %d", len(payload.Events))
		}
		if payload.Events[0].Category != ev.Category || payload.Events[0].Name != ev.Name {
			rt.Fatalf("event identity changed")
		}
		if len(payload.Events[0].Extra) != len(ev.Extra) {
			rt.Fatalf("extra has %d keys, want %d", len(payload.Events[0].Extra), len(ev.Extra))
		}
		if payload.PingInfo.StartTime != payload.PingInfo.EndTime {
			rt.Fatalf("start_time %s != end_time %s", payload.PingInfo.StartTime, payload.PingInfo.EndTime)
		}
		if payload.PingInfo.Seq != 0 {
			rt.Fatalf("seq = %d", payload.PingInfo.Seq)
		}
		if payload.ClientInfo["app_display_version"] != version || payload.ClientInfo["app_channel"] != channel {
			rt.Fatalf("client_info identity drifted: %v", payload.ClientInfo)
		}
		if len(payload.ClientInfo) != 8 {
			rt.Fatalf("client_info has %d keys, want 8", len(payload.ClientInfo))
		}
	})
}
