package metrics

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCollector_Sessions(t *testing.T) {
	c := New()

	c.SessionOpened()
	c.SessionOpened()
	if c.ActiveSessions() != 2 {
		t.Errorf("active = %d, want 2", c.ActiveSessions())
	}
	if c.TotalSessions() != 2 {
		t.Errorf("total = %d, want 2", c.TotalSessions())
	}

	c.SessionClosed()
	if c.ActiveSessions() != 1 {
		t.Errorf("active = %d, want 1", c.ActiveSessions())
	}
	if c.TotalSessions() != 2 {
		t.Errorf("total should remain 2, got %d", c.TotalSessions())
	}
}

func TestCollector_Traffic(t *testing.T) {
	c := New()

	c.CommandHandled("send")
	c.CommandHandled("list")
	c.Delivered(3)
	c.Delivered(0)
	c.Delivered(-1)
	c.DecodeFailed()

	if c.Commands() != 2 {
		t.Errorf("commands = %d, want 2", c.Commands())
	}
	if c.Deliveries() != 3 {
		t.Errorf("deliveries = %d, want 3", c.Deliveries())
	}
	if c.DecodeFailures() != 1 {
		t.Errorf("decode failures = %d, want 1", c.DecodeFailures())
	}
}

func TestCollector_Failures(t *testing.T) {
	c := New()

	c.HandshakeFailed("credential")
	c.HandshakeFailed("register")
	c.SessionPruned()
	c.RecordError("first error")
	c.RecordError("second error")

	if c.HandshakeFailures() != 2 {
		t.Errorf("handshake failures = %d, want 2", c.HandshakeFailures())
	}
	if c.PrunedSessions() != 1 {
		t.Errorf("pruned = %d, want 1", c.PrunedSessions())
	}
	if c.ErrorCount() != 2 {
		t.Errorf("errors = %d, want 2", c.ErrorCount())
	}
}

func TestCollector_Snapshot(t *testing.T) {
	c := New()
	c.ConnectionAccepted("tcp")
	c.SessionOpened()
	c.RecordError("test")

	snap := c.Snapshot()
	if snap.SessionsActive != 1 {
		t.Errorf("snap active = %d", snap.SessionsActive)
	}
	if snap.ConnectionsTotal != 1 {
		t.Errorf("snap connections = %d", snap.ConnectionsTotal)
	}
	if snap.ErrorsTotal != 1 {
		t.Errorf("snap errors = %d", snap.ErrorsTotal)
	}
	if snap.LastErrorMessage != "test" {
		t.Errorf("snap error msg = %q", snap.LastErrorMessage)
	}
}

func TestCollector_JSON(t *testing.T) {
	c := New()
	c.SessionOpened()
	c.Delivered(42)

	var snap Snapshot
	if err := json.Unmarshal([]byte(c.JSON()), &snap); err != nil {
		t.Fatalf("JSON parse error: %v", err)
	}
	if snap.SessionsActive != 1 {
		t.Errorf("JSON active = %d", snap.SessionsActive)
	}
	if snap.Deliveries != 42 {
		t.Errorf("JSON deliveries = %d", snap.Deliveries)
	}
}

func TestCollector_PrometheusHandler(t *testing.T) {
	c := New()
	c.ConnectionAccepted("ws")
	c.SessionOpened()
	c.HandshakeFailed("credential")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`sockchat_sessions_active 1`,
		`sockchat_connections_total{transport="ws"} 1`,
		`sockchat_handshake_failures_total{stage="credential"} 1`,
		`go_goroutines`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestCollector_SeparateRegistries(t *testing.T) {
	// Two collectors in one process must not collide on registration.
	a, b := New(), New()
	a.SessionOpened()
	if b.ActiveSessions() != 0 {
		t.Error("collectors should not share state")
	}
	if a.Registry() == b.Registry() {
		t.Error("collectors should not share a registry")
	}
}

func TestNilCollector_NoOps(t *testing.T) {
	var c *Collector

	// None of these should panic.
	c.ConnectionAccepted("tcp")
	c.SessionOpened()
	c.SessionClosed()
	c.HandshakeFailed("identity")
	c.SessionPruned()
	c.CommandHandled("bye")
	c.Delivered(10)
	c.DecodeFailed()
	c.RecordError("test")

	if c.ActiveSessions() != 0 || c.Deliveries() != 0 || c.ErrorCount() != 0 {
		t.Error("nil collector should return 0")
	}
	if c.Registry() != nil {
		t.Error("nil collector has no registry")
	}

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Errorf("nil handler status = %d, want 404", rec.Code)
	}

	if c.JSON() == "" {
		t.Error("nil JSON should return valid JSON")
	}
}
