package protocol

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/sekia-ai/gleanrelay/pkg/glean"
)

// signingPayload is the subset of ServerEvent fields that are signed.
// A dedicated struct ensures deterministic JSON marshal order; Extras keep
// their insertion order so a decoded event re-encodes to the same bytes.
type signingPayload struct {
	Source         string       `json:"source"`
	UserAgent      string       `json:"user_agent"`
	IPAddress      string       `json:"ip_address"`
	Category       string       `json:"category"`
	Name           string       `json:"name"`
	Extra          glean.Extras `json:"extra"`
	MetricsEnabled *bool        `json:"metrics_enabled,omitempty"`
}

func canonical(ev *ServerEvent) ([]byte, error) {
	clean := ev.validUTF8()
	ev = &clean
	return json.Marshal(signingPayload{
		Source:         ev.Source,
		UserAgent:      ev.UserAgent,
		IPAddress:      ev.IPAddress,
		Category:       ev.Category,
		Name:           ev.Name,
		Extra:          ev.Extra,
		MetricsEnabled: ev.MetricsEnabled,
	})
}

// SignEvent computes an HMAC-SHA256 signature for the event and sets ev.Signature.
// If secret is empty, the event is left unsigned.
func SignEvent(ev *ServerEvent, secret string) error {
	if secret == "" {
		return nil
	}
	data, err := canonical(ev)
	if err != nil {
		return err
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	ev.Signature = hex.EncodeToString(mac.Sum(nil))
	return nil
}

// VerifyEvent checks the HMAC-SHA256 signature on an event.
// If secret is empty, verification is skipped (returns true).
// If the event has no signature but a secret is configured, returns false.
func VerifyEvent(ev *ServerEvent, secret string) bool {
	if secret == "" {
		return true
	}
	if ev.Signature == "" {
		return false
	}
	data, err := canonical(ev)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(ev.Signature))
}
