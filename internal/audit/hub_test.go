package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHub_BroadcastReachesRegisteredClients(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	client := &Client{hub: hub, ownerID: "admin-1", send: make(chan SecurityThreat, sendBufferSize)}
	hub.register <- client

	hub.Broadcast(SecurityThreat{
		Kind:        ThreatMaliciousContent,
		Severity:    SeverityCritical,
		Description: "embedded PE executable header",
		Blocked:     true,
	})

	select {
	case threat := <-client.send:
		assert.Equal(t, ThreatMaliciousContent, threat.Kind)
		assert.True(t, threat.Blocked)
	case <-time.After(time.Second):
		t.Fatal("expected a broadcast threat within one second")
	}
}

func TestHub_UnregisterClosesSendChannel(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	client := &Client{hub: hub, ownerID: "admin-1", send: make(chan SecurityThreat, sendBufferSize)}
	hub.register <- client
	hub.unregister <- client

	select {
	case _, open := <-client.send:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("expected the send channel to close within one second")
	}
}

func TestHub_SlowClientDoesNotBlockBroadcast(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	slow := &Client{hub: hub, ownerID: "admin-1", send: make(chan SecurityThreat)}
	hub.register <- slow

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			hub.Broadcast(SecurityThreat{Kind: ThreatSize, Severity: SeverityLow})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a slow client")
	}
}

func TestLogRecorder_StampsObservationTime(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	client := &Client{hub: hub, ownerID: "admin-1", send: make(chan SecurityThreat, sendBufferSize)}
	hub.register <- client

	recorder := NewLogRecorder(hub)
	recorder.RecordThreat(context.Background(), SecurityThreat{
		Kind:     ThreatTraversal,
		Severity: SeverityHigh,
	})

	select {
	case threat := <-client.send:
		assert.False(t, threat.ObservedAt.IsZero())
	case <-time.After(time.Second):
		t.Fatal("expected the recorded threat on the hub")
	}
}

func TestLogRecorder_NilHubIsSafe(t *testing.T) {
	recorder := NewLogRecorder(nil)

	assert.NotPanics(t, func() {
		recorder.RecordThreat(context.Background(), SecurityThreat{Kind: ThreatSize})
	})
}
