package protocol

import (
	"strings"
	"unicode/utf8"

	"github.com/sekia-ai/gleanrelay/pkg/glean"
)

// ServerEvent is the envelope producers publish on glean.events.<source>.
// One message carries exactly one event.
type ServerEvent struct {
	Source    string       `json:"source"`
	UserAgent string       `json:"user_agent"`
	IPAddress string       `json:"ip_address"`
	Category  string       `json:"category"`
	Name      string       `json:"name"`
	Extra     glean.Extras `json:"extra"`

	// MetricsEnabled mirrors the account's data collection opt-out.
	// Absent means enabled.
	MetricsEnabled *bool `json:"metrics_enabled,omitempty"`

	Signature string `json:"signature,omitempty"`
}

// NewServerEvent wraps a typed event for publishing. Invalid UTF-8 in any
// string, such as a Latin-1 user agent header, is replaced with U+FFFD
// byte by byte.
func NewServerEvent(source, userAgent, ipAddress string, event glean.Event) ServerEvent {
	return ServerEvent{
		Source:    source,
		UserAgent: userAgent,
		IPAddress: ipAddress,
		Category:  event.Category,
		Name:      event.Name,
		Extra:     event.Extra,
	}.validUTF8()
}

// Event returns the glean descriptor carried by e.
func (e ServerEvent) Event() glean.Event {
	return glean.Event{Category: e.Category, Name: e.Name, Extra: e.Extra}
}

// Collect reports whether the account allows telemetry collection.
func (e ServerEvent) Collect() bool {
	return e.MetricsEnabled == nil || *e.MetricsEnabled
}

// validUTF8 returns e with every string replaced the way encoding/json
// replaces invalid UTF-8, so the value survives a wire round trip unchanged.
func (e ServerEvent) validUTF8() ServerEvent {
	e.Source = toValidUTF8(e.Source)
	e.UserAgent = toValidUTF8(e.UserAgent)
	e.IPAddress = toValidUTF8(e.IPAddress)
	e.Category = toValidUTF8(e.Category)
	e.Name = toValidUTF8(e.Name)
	if e.Extra != nil {
		extra := make(glean.Extras, len(e.Extra))
		for i, x := range e.Extra {
			if s, ok := x.Value.(string); ok {
				x.Value = toValidUTF8(s)
			}
			extra[i] = glean.Extra{Key: toValidUTF8(x.Key), Value: x.Value}
		}
		e.Extra = extra
	}
	return e
}

// toValidUTF8 replaces each invalid byte with U+FFFD. Unlike
// strings.ToValidUTF8 it does not collapse runs, matching encoding/json.
func toValidUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 2)
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			b.WriteRune(utf8.RuneError)
		} else {
			b.WriteString(s[i : i+size])
		}
		i += size
	}
	return b.String()
}
