package push

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// wsServer upgrades every request and serves it for userID.
func wsServer(t *testing.T, hub *Hub, userID string, served chan<- error) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			served <- err
			return
		}
		served <- Serve(hub, ws, userID, WithJoinTimeout(time.Second))
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met")
}

func TestServeJoinAndReceive(t *testing.T) {
	hub := NewHub()
	served := make(chan error, 1)
	url := wsServer(t, hub, "bob", served)

	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	if err := client.WriteJSON(map[string]string{"event": "join", "data": "bob"}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return hub.Connections() == 1 })

	hub.Deliver(context.Background(), "bob", mustEvent(t, EventNewMessage, map[string]string{"id": "m1"}))

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got struct {
		Event string            `json:"event"`
		Data  map[string]string `json:"data"`
	}
	if err := client.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Event != EventNewMessage || got.Data["id"] != "m1" {
		t.Errorf("frame = %+v", got)
	}

	client.Close()
	select {
	case err := <-served:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after client left")
	}
	waitFor(t, func() bool { return hub.Connections() == 0 })
}

func TestServeRejectsForeignJoin(t *testing.T) {
	hub := NewHub()
	served := make(chan error, 1)
	url := wsServer(t, hub, "bob", served)

	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	if err := client.WriteJSON(map[string]string{"event": "join", "data": "alice"}); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-served:
		if !errors.Is(err, ErrJoinRejected) {
			t.Errorf("Serve = %v, want ErrJoinRejected", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not reject")
	}

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = client.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Errorf("read err = %v, want policy violation close", err)
	}
	if hub.Connections() != 0 {
		t.Error("rejected connection was registered")
	}
}

func TestServeJoinTimeout(t *testing.T) {
	hub := NewHub()
	served := make(chan error, 1)
	url := wsServer(t, hub, "bob", served)

	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	select {
	case err := <-served:
		if !errors.Is(err, ErrJoinRejected) {
			t.Errorf("Serve = %v, want ErrJoinRejected", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("join timeout not enforced")
	}
}

func TestHubCloseDisconnectsSockets(t *testing.T) {
	hub := NewHub()
	served := make(chan error, 1)
	url := wsServer(t, hub, "bob", served)

	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()
	if err := client.WriteJSON(map[string]string{"event": "join", "data": "bob"}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return hub.Connections() == 1 })

	if err := hub.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := client.ReadMessage(); err == nil {
		t.Error("expected socket to be closed")
	}
}
