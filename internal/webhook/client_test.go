package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hypeer/warelay/internal/relay"
)

const testBaseDelay = 5 * time.Millisecond

func testMessage() *relay.NormalizedMessage {
	return &relay.NormalizedMessage{
		ID:         "MSG1",
		From:       "123@s.whatsapp.net",
		Body:       "hello",
		Timestamp:  1700000000,
		Kind:       relay.KindConversation,
		SenderName: "Ann",
	}
}

func TestDeliverSucceedsAfterTwoFailures(t *testing.T) {
	const base = 25 * time.Millisecond

	var mu sync.Mutex
	var arrivals []time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		arrivals = append(arrivals, time.Now())
		n := len(arrivals)
		mu.Unlock()
		if n <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		io.WriteString(w, `{"output": "ok"}`)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, base)
	outcome := client.Deliver(context.Background(), testMessage())

	if !outcome.Success {
		t.Fatalf("expected success, got error %q", outcome.Error)
	}
	if outcome.Output != "ok" {
		t.Errorf("output = %q, want ok", outcome.Output)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(arrivals) != 3 {
		t.Fatalf("attempts = %d, want 3", len(arrivals))
	}
	// The backoff is linear in the attempt index: 1x base before the
	// second attempt, 2x base before the third.
	gap1 := arrivals[1].Sub(arrivals[0])
	gap2 := arrivals[2].Sub(arrivals[1])
	if gap1 < base {
		t.Errorf("first wait %v, want at least %v", gap1, base)
	}
	if gap2 < 2*base {
		t.Errorf("second wait %v, want at least %v", gap2, 2*base)
	}
	if gap2 <= gap1 {
		t.Errorf("second wait %v not longer than first %v", gap2, gap1)
	}
}

func TestDeliverExhaustsOnPersistentFailure(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, testBaseDelay)
	outcome := client.Deliver(context.Background(), testMessage())

	if outcome.Success {
		t.Fatal("expected failure")
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("attempts = %d, want exactly 3", got)
	}
	if outcome.Error == "" {
		t.Error("expected the last error to be reported")
	}
}

func TestDeliverTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listens anymore

	client := NewClient(srv.URL, testBaseDelay)
	outcome := client.Deliver(context.Background(), testMessage())
	if outcome.Success {
		t.Fatal("expected failure against a closed server")
	}
}

func TestDeliverEnvelope(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		if ua := r.Header.Get("User-Agent"); ua != userAgent {
			t.Errorf("user agent = %q", ua)
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("failed to decode envelope: %v", err)
		}
		io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, testBaseDelay)
	client.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	outcome := client.Deliver(context.Background(), testMessage())
	if !outcome.Success {
		t.Fatalf("expected success, got %q", outcome.Error)
	}

	want := map[string]any{
		"id":         "MSG1",
		"from":       "123@s.whatsapp.net",
		"message":    "hello",
		"timestamp":  float64(1700000000),
		"type":       "conversation",
		"senderName": "Ann",
		"isGroup":    false,
		"receivedAt": "2026-01-02T03:04:05Z",
		"source":     sourceTag,
	}
	for key, val := range want {
		if body[key] != val {
			t.Errorf("envelope[%q] = %v, want %v", key, body[key], val)
		}
	}
	if _, ok := body["groupName"]; ok {
		t.Error("groupName should be omitted when empty")
	}
}

func TestDeliverOutputShapes(t *testing.T) {
	tests := []struct {
		name       string
		response   string
		wantOutput string
	}{
		{"object", `{"output": "object reply"}`, "object reply"},
		{"array", `[{"output": "array reply"}]`, "array reply"},
		{"object no output", `{"status": "done"}`, ""},
		{"empty array", `[]`, ""},
		{"not json", `OK`, ""},
		{"empty body", ``, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, tt.response)
			}))
			defer srv.Close()

			outcome := NewClient(srv.URL, testBaseDelay).Deliver(context.Background(), testMessage())
			if !outcome.Success {
				t.Fatalf("expected success, got %q", outcome.Error)
			}
			if outcome.Output != tt.wantOutput {
				t.Errorf("output = %q, want %q", outcome.Output, tt.wantOutput)
			}
		})
	}
}

func TestDeliverPassesThroughResponseFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"output": "hi", "workflowId": "wf-9", "elapsed": 12}`)
	}))
	defer srv.Close()

	outcome := NewClient(srv.URL, testBaseDelay).Deliver(context.Background(), testMessage())
	if !outcome.Success {
		t.Fatalf("expected success, got %q", outcome.Error)
	}
	if outcome.Fields["workflowId"] != "wf-9" {
		t.Errorf("fields[workflowId] = %v", outcome.Fields["workflowId"])
	}
	if outcome.Fields["elapsed"] != float64(12) {
		t.Errorf("fields[elapsed] = %v", outcome.Fields["elapsed"])
	}
	if _, ok := outcome.Fields["output"]; ok {
		t.Error("output must not be duplicated in Fields")
	}
}

func TestDeliverContextCancelledDuringBackoff(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	client := NewClient(srv.URL, time.Minute)

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	outcome := client.Deliver(ctx, testMessage())

	if outcome.Success {
		t.Fatal("expected failure")
	}
	if got := attempts.Load(); got != 1 {
		t.Errorf("attempts = %d, want 1 before cancellation", got)
	}
}

func TestProbe(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   bool
	}{
		{"ok", http.StatusOK, true},
		{"not found still reachable", http.StatusNotFound, true},
		{"server error", http.StatusInternalServerError, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gets atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodGet {
					t.Errorf("method = %s, want GET", r.Method)
				}
				gets.Add(1)
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			if got := NewClient(srv.URL, testBaseDelay).Probe(context.Background()); got != tt.want {
				t.Errorf("Probe = %v, want %v", got, tt.want)
			}
			if gets.Load() != 1 {
				t.Errorf("probe made %d requests, want 1 (no retry)", gets.Load())
			}
		})
	}
}

func TestProbeTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	if NewClient(srv.URL, testBaseDelay).Probe(context.Background()) {
		t.Error("expected false against a closed server")
	}
}
