package server_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/sekia-ai/gleanrelay/internal/server"
	"github.com/sekia-ai/gleanrelay/pkg/protocol"
	"github.com/sekia-ai/gleanrelay/pkg/publisher"
)

type recordSink struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *recordSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *recordSink) records() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(s.buf.Bytes()))
	for sc.Scan() {
		var rec map[string]any
		if json.Unmarshal(sc.Bytes(), &rec) == nil {
			out = append(out, rec)
		}
	}
	return out
}

func (s *recordSink) waitFor(t *testing.T, n int) []map[string]any {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if recs := s.records(); len(recs) >= n {
			return recs
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("expected %d glean records, got %d", n, len(s.records()))
	return nil
}

func writeConfig(t *testing.T, path, version string) {
	t.Helper()
	content := "[glean]\napplication_id = \"ff-app\"\napp_display_version = \"" + version + "\"\nchannel = \"prod\"\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
}

func TestEndToEnd(t *testing.T) {
	tmpDir := t.TempDir()
	socketPath := filepath.Join(tmpDir, "gleand.sock")
	cfgPath := filepath.Join(tmpDir, "gleanrelay.toml")
	writeConfig(t, cfgPath, "1.2.3")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve metrics port: %v", err)
	}
	metricsAddr := ln.Addr().String()
	ln.Close()

	cfg := server.Config{
		Glean: server.GleanConfig{
			ApplicationID:     "ff-app",
			AppDisplayVersion: "1.2.3",
			Channel:           "prod",
		},
		Server:   server.ServerConfig{Socket: socketPath},
		NATS:     server.NATSConfig{Embedded: true, Subject: protocol.SubjectAllEvents},
		Metrics:  server.MetricsConfig{Listen: metricsAddr},
		Security: server.SecurityConfig{EventSecret: "shared"},
		File:     cfgPath,
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Logger()
	records := &recordSink{}

	d := server.NewDaemon(cfg, logger, records)

	// Run daemon in background.
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run() }()

	// Wait for socket to appear.
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(socketPath); err == nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if _, err := os.Stat(socketPath); err != nil {
		t.Fatal("socket did not appear in time")
	}

	client := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return (&net.Dialer{}).DialContext(ctx, "unix", socketPath)
			},
		},
	}

	// Check status with no producers.
	resp, err := client.Get("http://gleand/api/v1/status")
	if err != nil {
		t.Fatalf("status request: %v", err)
	}
	var status protocol.StatusResponse
	json.NewDecoder(resp.Body).Decode(&status)
	resp.Body.Close()

	if status.Status != "ok" {
		t.Fatalf("expected status ok, got %s", status.Status)
	}
	if status.ProducerCount != 0 {
		t.Fatalf("expected 0 producers, got %d", status.ProducerCount)
	}
	if status.ApplicationID != "ff-app" || status.Channel != "prod" {
		t.Fatalf("unexpected identity in status: %+v", status)
	}

	// Connect a producer and record an event through NATS.
	pub, err := publisher.New(publisher.Config{
		NATSUrl:  d.NATSClientURL(),
		NATSOpts: d.NATSConnectOpts(),
		Secret:   "shared",
	}, "relay-web", "0.1.0", []string{"email.generate_mask"}, logger)
	if err != nil {
		t.Fatalf("create publisher: %v", err)
	}
	defer pub.Close()

	if err := pub.RecordEmailGenerateMask("Firefox/124", "203.0.113.5", "acct-42", true, false, true); err != nil {
		t.Fatalf("publish: %v", err)
	}
	pub.Flush()

	recs := records.waitFor(t, 1)
	if recs[0]["message"] != "glean-server-event" {
		t.Fatalf("unexpected message %v", recs[0]["message"])
	}
	if recs[0]["document_namespace"] != "ff-app" || recs[0]["user_agent"] != "Firefox/124" {
		t.Fatalf("unexpected record: %v", recs[0])
	}

	// Producers list.
	time.Sleep(200 * time.Millisecond)
	resp, err = client.Get("http://gleand/api/v1/producers")
	if err != nil {
		t.Fatalf("producers request: %v", err)
	}
	var producers protocol.ProducersResponse
	json.NewDecoder(resp.Body).Decode(&producers)
	resp.Body.Close()

	if len(producers.Producers) != 1 {
		t.Fatalf("expected 1 producer, got %d", len(producers.Producers))
	}
	if producers.Producers[0].Name != "relay-web" {
		t.Fatalf("expected producer relay-web, got %s", producers.Producers[0].Name)
	}

	// Reload with a new display version.
	writeConfig(t, cfgPath, "1.2.4")
	resp, err = client.Post("http://gleand/api/v1/config/reload", "application/json", nil)
	if err != nil {
		t.Fatalf("reload request: %v", err)
	}
	var reload protocol.ReloadResponse
	json.NewDecoder(resp.Body).Decode(&reload)
	resp.Body.Close()
	if reload.AppDisplayVersion != "1.2.4" {
		t.Fatalf("expected reloaded version 1.2.4, got %q", reload.AppDisplayVersion)
	}

	if err := pub.RecordEmailGenerateMask("Firefox/124", "203.0.113.5", "acct-43", false, true, false); err != nil {
		t.Fatalf("publish: %v", err)
	}
	pub.Flush()
	recs = records.waitFor(t, 2)

	var payload struct {
		ClientInfo map[string]string `json:"client_info"`
	}
	if err := json.Unmarshal([]byte(recs[1]["payload"].(string)), &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.ClientInfo["app_display_version"] != "1.2.4" {
		t.Fatalf("second record used version %q", payload.ClientInfo["app_display_version"])
	}

	// Metrics listener reports the relayed events.
	resp, err = http.Get("http://" + metricsAddr + "/metrics")
	if err != nil {
		t.Fatalf("metrics request: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics returned HTTP %d", resp.StatusCode)
	}
	for _, want := range []string{
		`gleanrelay_events_total{outcome="recorded",transport="nats"} 2`,
		`gleanrelay_producers 1`,
		`gleanrelay_identity_reloads_total{result="changed"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}

	// Stop daemon.
	d.Stop()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("daemon error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not shut down in time")
	}
}
