package core

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"sockchat/internal/cipher"
	"sockchat/internal/client"
	"sockchat/internal/transport"
	"sockchat/util"
)

// TestServeMode_GracefulShutdown verifies the full server: chat and
// admin listeners come up, and cancelling disconnects every session.
func TestServeMode_GracefulShutdown(t *testing.T) {
	chatPort, err := util.FindFreePort()
	if err != nil {
		t.Fatal(err)
	}
	adminPort, err := util.FindFreePort()
	if err != nil {
		t.Fatal(err)
	}

	cfg := serveConfig()
	cfg.Password = testPassword
	cfg.Server.Addr = fmt.Sprintf("127.0.0.1:%d", chatPort)
	cfg.Server.AdminAddr = fmt.Sprintf("127.0.0.1:%d", adminPort)
	cfg.Server.GracePeriod = time.Second

	mode, err := BuildServe(cfg, util.NewLogger(0))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	serverErr := make(chan error, 1)
	go func() { serverErr <- mode.Run(ctx) }()

	waitListening(t, cfg.Server.Addr)
	waitListening(t, cfg.Server.AdminAddr)

	alice := join(t, cfg.Server.Addr, "alice")

	resp, err := http.Get("http://" + cfg.Server.AdminAddr + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz = %d", resp.StatusCode)
	}

	cancel()

	got := make(chan client.PushKind, 1)
	go func() {
		for {
			p, err := alice.Receive()
			if err != nil {
				close(got)
				return
			}
			if p.Kind == client.PushDisconnect {
				got <- p.Kind
				return
			}
		}
	}()
	select {
	case k, ok := <-got:
		if !ok || k != client.PushDisconnect {
			t.Error("alice was not told to disconnect")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no DISCONNECT after shutdown")
	}

	select {
	case err := <-serverErr:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down in time")
	}
	if mode.Registry.Len() != 0 {
		t.Errorf("registry still holds %v", mode.Registry.ListNames())
	}
}

// TestServeMode_AdminPortBusy verifies a failing admin listener stops
// the whole server.
func TestServeMode_AdminPortBusy(t *testing.T) {
	chatPort, _ := util.FindFreePort()
	busy, _ := util.FindFreePort()

	cfg := serveConfig()
	cfg.Server.Addr = fmt.Sprintf("127.0.0.1:%d", chatPort)
	cfg.Server.AdminAddr = fmt.Sprintf("127.0.0.1:%d", busy)

	// Occupy the admin port with the chat listener of another server.
	other := serveConfig()
	other.Server.Addr = cfg.Server.AdminAddr
	other.Server.AdminAddr = ""
	blocker, err := BuildServe(other, util.NewLogger(0))
	if err != nil {
		t.Fatal(err)
	}
	bctx, bcancel := context.WithCancel(context.Background())
	defer bcancel()
	go blocker.Run(bctx) //nolint:errcheck
	waitListening(t, other.Server.Addr)

	mode, err := BuildServe(cfg, util.NewLogger(0))
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() { done <- mode.Run(context.Background()) }()

	select {
	case err := <-done:
		if err == nil {
			t.Error("expected an admin listen error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server kept running with a dead admin listener")
	}
}

// TestServeMode_WebSocketShutdown verifies sessions on the admin /ws
// route are disconnected and waited for like TCP ones.
func TestServeMode_WebSocketShutdown(t *testing.T) {
	chatPort, _ := util.FindFreePort()
	adminPort, _ := util.FindFreePort()

	cfg := serveConfig()
	cfg.Password = testPassword
	cfg.Server.Addr = fmt.Sprintf("127.0.0.1:%d", chatPort)
	cfg.Server.AdminAddr = fmt.Sprintf("127.0.0.1:%d", adminPort)
	cfg.Server.GracePeriod = time.Second

	mode, err := BuildServe(cfg, util.NewLogger(0))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	serverErr := make(chan error, 1)
	go func() { serverErr <- mode.Run(ctx) }()
	waitListening(t, cfg.Server.Addr)
	waitListening(t, cfg.Server.AdminAddr)

	conn, err := transport.DialWebSocket(context.Background(), "ws://"+cfg.Server.AdminAddr+"/ws", nil)
	if err != nil {
		t.Fatal(err)
	}
	c, err := client.New(conn, testPassword, cipher.IVRandom)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	hctx, hcancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer hcancel()
	if err := c.Handshake(hctx, "webuser"); err != nil {
		t.Fatal(err)
	}

	cancel()
	for {
		p, err := c.Receive()
		if err != nil {
			t.Fatalf("connection ended without DISCONNECT: %v", err)
		}
		if p.Kind == client.PushDisconnect {
			break
		}
	}

	select {
	case err := <-serverErr:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down in time")
	}
	if !mode.WebSockets.Wait(time.Second) {
		t.Error("WebSocket session still running after Run returned")
	}
}
