// Package webhook delivers normalized messages to the external
// workflow-automation endpoint and extracts its optional reply text.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/hypeer/warelay/internal/relay"
)

const (
	maxAttempts    = 3
	requestTimeout = 30 * time.Second
	userAgent      = "warelay/0.1"

	// sourceTag identifies this relay in every envelope so the workflow
	// can distinguish message origins.
	sourceTag = "whatsapp-relay"

	maxResponseLen = 1 << 20 // 1MB
)

// envelope is the JSON body POSTed to the endpoint: the normalized message
// plus receipt metadata.
type envelope struct {
	relay.NormalizedMessage
	ReceivedAt string `json:"receivedAt"`
	Source     string `json:"source"`
}

// Client posts normalized messages to a single configured endpoint with
// bounded retries and linear backoff. It implements relay.Deliverer.
type Client struct {
	url       string
	baseDelay time.Duration
	http      *http.Client
	now       func() time.Time
}

// NewClient creates a Client for the given endpoint URL. baseDelay is the
// unit of the linear backoff between attempts; zero selects one second.
func NewClient(url string, baseDelay time.Duration) *Client {
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	return &Client{
		url:       url,
		baseDelay: baseDelay,
		http:      &http.Client{Timeout: requestTimeout},
		now:       time.Now,
	}
}

// Deliver POSTs msg to the endpoint, retrying up to 3 attempts in total.
// Between attempt k and k+1 it waits baseDelay*k; there is no wait after the
// final attempt. The outcome reports the reply text extracted from the
// response, or the last error once all attempts are exhausted.
func (c *Client) Deliver(ctx context.Context, msg *relay.NormalizedMessage) relay.Outcome {
	body, err := json.Marshal(envelope{
		NormalizedMessage: *msg,
		ReceivedAt:        c.now().UTC().Format(time.RFC3339),
		Source:            sourceTag,
	})
	if err != nil {
		return relay.Outcome{Error: fmt.Sprintf("encode envelope: %v", err)}
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		slog.Debug("posting message to webhook", "attempt", attempt, "max", maxAttempts, "id", msg.ID)

		outcome, err := c.post(ctx, body)
		if err == nil {
			return outcome
		}
		lastErr = err
		slog.Warn("webhook delivery attempt failed", "attempt", attempt, "error", err)

		if attempt < maxAttempts {
			delay := c.baseDelay * time.Duration(attempt)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return relay.Outcome{Error: ctx.Err().Error()}
			}
		}
	}

	return relay.Outcome{Error: lastErr.Error()}
}

func (c *Client) post(ctx context.Context, body []byte) (relay.Outcome, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return relay.Outcome{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return relay.Outcome{}, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseLen))
	if err != nil {
		return relay.Outcome{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return relay.Outcome{}, fmt.Errorf("HTTP %d: %s", resp.StatusCode, respBody)
	}

	outcome := relay.Outcome{Success: true}
	parseResponse(respBody, &outcome)
	return outcome, nil
}

// parseResponse extracts the reply text from the endpoint's body. The
// endpoint may answer with either a bare object or a list of objects; in the
// list shape the first element counts. Both shapes are accepted on purpose:
// the automation endpoint's response format is not under our control. Any
// other top-level fields are passed through on the outcome. An unparseable
// body is treated as an empty response, not an error.
func parseResponse(body []byte, outcome *relay.Outcome) {
	parsed := gjson.ParseBytes(body)
	if parsed.IsArray() {
		arr := parsed.Array()
		if len(arr) == 0 {
			return
		}
		parsed = arr[0]
	}
	if !parsed.IsObject() {
		return
	}

	parsed.ForEach(func(key, value gjson.Result) bool {
		if key.String() == "output" {
			outcome.Output = value.String()
			return true
		}
		if outcome.Fields == nil {
			outcome.Fields = make(map[string]any)
		}
		outcome.Fields[key.String()] = value.Value()
		return true
	})
}

// Probe issues a single GET to the endpoint with no retry. It reports true
// when the endpoint is reachable, counting 4xx as reachable-but-invalid;
// only transport failures and 5xx answers report false. Used once at
// startup as a non-fatal diagnostic.
func (c *Client) Probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		slog.Error("webhook probe failed", "error", err)
		return false
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		slog.Error("webhook probe failed", "error", err)
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseLen))

	slog.Info("webhook probe", "status", resp.StatusCode)
	return resp.StatusCode < http.StatusInternalServerError
}
