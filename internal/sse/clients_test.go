package sse

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestBroadcast(t *testing.T) {
	s := NewSSEClients()
	a := &Client{Msg: make(chan string, 1), PostID: "p1"}
	b := &Client{Msg: make(chan string, 1), PostID: "p2"}
	s.Add(a)
	s.Add(b)

	s.NotifyReload("p1")
	select {
	case msg := <-a.Msg:
		if msg != ReloadEvent {
			t.Errorf("Expected %q, got %q", ReloadEvent, msg)
		}
	default:
		t.Error("Subscriber of p1 got nothing")
	}
	select {
	case msg := <-b.Msg:
		t.Errorf("Subscriber of p2 got %q", msg)
	default:
	}

	// Full buffers must not block the broadcaster.
	s.NotifyReload("p1")
	s.NotifyReload("p1")

	s.Delete(a)
	s.Delete(b)
	if s.Len() != 0 {
		t.Errorf("Expected no clients, got %d", s.Len())
	}
}

func TestHandler(t *testing.T) {
	s := NewSSEClients()
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	t.Run("Post parameter required", func(t *testing.T) {
		resp, err := http.Get(srv.URL)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("Expected 400, got %d", resp.StatusCode)
		}
	})

	t.Run("Streams reload events", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"?post=p1", nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()

		reader := bufio.NewReader(resp.Body)
		line, err := reader.ReadString('\n')
		if err != nil || !strings.HasPrefix(line, "event: connected") {
			t.Fatalf("Expected connected event, got %q (%v)", line, err)
		}

		for s.Len() == 0 {
			time.Sleep(time.Millisecond)
		}
		s.NotifyReload("p1")

		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				t.Fatalf("Stream ended before reload: %v", err)
			}
			if line == "data: reload\n" {
				break
			}
		}
	})
}
