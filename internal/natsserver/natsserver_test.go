package natsserver

import (
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

func TestTokenAuth(t *testing.T) {
	token := "test-secret-token"
	logger := zerolog.Nop()

	// Start a NATS server with token auth on a random TCP port.
	srv, err := New(Config{
		Host:  "127.0.0.1",
		Port:  -1, // random port
		Token: token,
	}, logger)
	if err != nil {
		t.Fatalf("start server: %v", err)
	}
	defer srv.Shutdown()

	url := srv.ClientURL()

	// Connection WITHOUT token should fail.
	nc, err := nats.Connect(url)
	if err == nil {
		nc.Close()
		t.Fatal("expected connection without token to fail")
	}

	// Connection with WRONG token should fail.
	nc, err = nats.Connect(url, nats.Token("wrong-token"))
	if err == nil {
		nc.Close()
		t.Fatal("expected connection with wrong token to fail")
	}

	// Connection with CORRECT token should succeed.
	nc, err = nats.Connect(url, nats.Token(token))
	if err != nil {
		t.Fatalf("expected connection with correct token to succeed: %v", err)
	}
	nc.Close()
}

func TestNoToken_AllowsAnonymous(t *testing.T) {
	srv, err := New(Config{
		Host: "127.0.0.1",
		Port: -1,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("start server: %v", err)
	}
	defer srv.Shutdown()

	nc, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatalf("expected anonymous connection to succeed: %v", err)
	}
	nc.Close()
}

func TestInProcessConnectOpts(t *testing.T) {
	srv, err := New(Config{Token: "in-proc"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("start server: %v", err)
	}
	defer srv.Shutdown()

	nc, err := nats.Connect(srv.ClientURL(), srv.ConnectOpts()...)
	if err != nil {
		t.Fatalf("in-process connect: %v", err)
	}
	defer nc.Close()

	sub, err := srv.Conn().SubscribeSync("glean.events.test")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := srv.Conn().Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := nc.Publish("glean.events.test", []byte("{}")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := sub.NextMsg(2 * time.Second); err != nil {
		t.Fatalf("message not delivered in process: %v", err)
	}
}
