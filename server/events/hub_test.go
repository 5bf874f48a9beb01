package events

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := NewHub(zap.NewNop())
	go hub.Run(ctx)

	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("Expected %d clients, got %d", want, hub.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPublishReachesClient(t *testing.T) {
	hub, url := startHub(t)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dialing hub: %v", err)
	}
	defer conn.Close()
	waitClients(t, hub, 1)

	hub.Publish(Event{Type: TypeServiceAdded, JobID: 7, URL: "http://svc"})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	var got Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("reading event: %v", err)
	}
	if got.Type != TypeServiceAdded || got.JobID != 7 {
		t.Errorf("Expected service_added for job 7, got %+v", got)
	}
	if got.Time.IsZero() {
		t.Error("Expected Publish to stamp the event time")
	}
}

func TestBroadcastFansOut(t *testing.T) {
	hub, url := startHub(t)

	var conns []*websocket.Conn
	for i := 0; i < 3; i++ {
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			t.Fatalf("dialing hub: %v", err)
		}
		defer conn.Close()
		conns = append(conns, conn)
	}
	waitClients(t, hub, 3)

	hub.Publish(Event{Type: TypeAlertAcknowledged, NotificationID: 3})

	for i, conn := range conns {
		conn.SetReadDeadline(time.Now().Add(time.Second))
		var got Event
		if err := conn.ReadJSON(&got); err != nil {
			t.Fatalf("client %d reading event: %v", i, err)
		}
		if got.NotificationID != 3 {
			t.Errorf("client %d: Expected notification 3, got %+v", i, got)
		}
	}
}

func TestDisconnectDropsClient(t *testing.T) {
	hub, url := startHub(t)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dialing hub: %v", err)
	}
	waitClients(t, hub, 1)

	conn.Close()
	waitClients(t, hub, 0)
}

func TestPublishNeverBlocks(t *testing.T) {
	// No Run loop draining the backlog; the overflow must be dropped, not
	// queued against the caller.
	hub := NewHub(zap.NewNop())
	done := make(chan struct{})
	go func() {
		for i := 0; i < publishBacklog*2; i++ {
			hub.Publish(Event{Type: TypeAlertSent})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full backlog")
	}
}

func TestShutdownClosesClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(zap.NewNop())
	go hub.Run(ctx)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dialing hub: %v", err)
	}
	defer conn.Close()
	waitClients(t, hub, 1)

	cancel()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("Expected the connection to close on shutdown")
	}
	waitClients(t, hub, 0)
}
