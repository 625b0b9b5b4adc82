package feed

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"docpipe/internal/progress"
	"docpipe/internal/testutil"
)

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return msg
}

func TestHubBroadcast(t *testing.T) {
	t.Parallel()
	hub := NewHub(8)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	all := dial(t, srv, "")
	only := dial(t, srv, "?jobId=job-2")
	testutil.MustWaitFor(t, "two subscribers", func() bool { return hub.Clients() == 2 })

	hub.Publish(progress.Event{Status: progress.StatusUploading, Message: "one", JobID: "job-1"})
	hub.Publish(progress.Event{Status: progress.StatusDone, Message: "two", JobID: "job-2"})

	if msg := readMessage(t, all); msg.Event.JobID != "job-1" || msg.Type != "progress" {
		t.Errorf("unexpected first message: %+v", msg)
	}
	if msg := readMessage(t, all); msg.Event.JobID != "job-2" {
		t.Errorf("unexpected second message: %+v", msg)
	}
	if msg := readMessage(t, only); msg.Event.JobID != "job-2" || msg.Event.Status != progress.StatusDone {
		t.Errorf("filtered subscriber got %+v", msg)
	}
}

func TestHubRemovesDisconnectedClients(t *testing.T) {
	t.Parallel()
	hub := NewHub(8)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv, "")
	testutil.MustWaitFor(t, "subscriber", func() bool { return hub.Clients() == 1 })
	conn.Close()
	testutil.MustWaitFor(t, "subscriber removed", func() bool { return hub.Clients() == 0 })
}

func TestHubDropsSlowClients(t *testing.T) {
	t.Parallel()
	hub := NewHub(1)
	s := &subscriber{remote: "test", send: make(chan []byte, 1)}
	hub.clients[s] = struct{}{}

	hub.Publish(progress.Event{Status: progress.StatusUploading, JobID: "a"})
	hub.Publish(progress.Event{Status: progress.StatusDone, JobID: "a"})

	if hub.Clients() != 0 {
		t.Fatalf("expected slow subscriber to be dropped, have %d", hub.Clients())
	}
	if _, ok := <-s.send; !ok {
		t.Fatal("expected the buffered message before close")
	}
	if _, ok := <-s.send; ok {
		t.Error("expected send channel to be closed")
	}
}
