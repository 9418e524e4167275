package stream

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-recorder/backend/internal/service/events"
	"github.com/zhouzirui/z-recorder/backend/internal/service/ingest"
)

func TestEventsStreamDeliversPublishedEvents(t *testing.T) {
	hub := events.NewHub()
	r := chi.NewRouter()
	New(hub, time.Hour, nil).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected text/event-stream, got %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	// The comment is flushed after Subscribe, so publishing now cannot be missed.
	line, err := reader.ReadString('\n')
	if err != nil || !strings.HasPrefix(line, ": stream established") {
		t.Fatalf("expected established comment, got %q (%v)", line, err)
	}

	hub.Publish(ingest.Event{Type: ingest.EventFailed, SessionID: "s1", Reason: "no fragments to merge"})

	var eventLine, dataLine string
	for eventLine == "" || dataLine == "" {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		switch {
		case strings.HasPrefix(line, "event: "):
			eventLine = strings.TrimSpace(line)
		case strings.HasPrefix(line, "data: "):
			dataLine = strings.TrimSpace(line)
		}
	}

	if eventLine != "event: failed" {
		t.Fatalf("unexpected event line %q", eventLine)
	}
	if !strings.Contains(dataLine, `"sessionId":"s1"`) || !strings.Contains(dataLine, `"reason":"no fragments to merge"`) {
		t.Fatalf("unexpected data line %q", dataLine)
	}
}
