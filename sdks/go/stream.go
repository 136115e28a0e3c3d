package verdict

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// EventStream is a live subscription to the server's event feed. The
// caller owns the stream and must Close it. Recv blocks until the next
// event arrives or the stream ends.
type EventStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

// Events opens the server-sent event stream. The first event is always
// a "connected" frame; evaluated actions follow in publish order. The
// stream stays open until ctx is cancelled, Close is called, or the
// server shuts down.
//
// Heartbeat comments the server writes to keep idle connections alive
// are consumed internally and never surface from Recv.
func (c *Client) Events(ctx context.Context) (*EventStream, error) {
	url := strings.TrimRight(c.serverAddr, "/") + "/v1/events"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// The configured client carries a request timeout that would cut a
	// long-lived stream short, so the stream uses a timeout-free client
	// over the same transport. Lifetime is governed by ctx instead.
	streamClient := &http.Client{
		Transport:     c.httpClient.Transport,
		CheckRedirect: c.httpClient.CheckRedirect,
		Jar:           c.httpClient.Jar,
	}

	resp, err := streamClient.Do(req)
	if err != nil {
		return nil, &ServerUnreachableError{Cause: err}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &APIError{Status: resp.StatusCode, Message: errorMessage(body)}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 4096), 1024*1024)
	return &EventStream{body: resp.Body, scanner: scanner}, nil
}

// Recv returns the next event. It blocks until one arrives. When the
// stream ends it returns io.EOF, or the underlying transport error if
// the connection broke.
func (s *EventStream) Recv() (Event, error) {
	var kind string
	var data strings.Builder

	for s.scanner.Scan() {
		line := s.scanner.Text()
		switch {
		case line == "":
			// Frame boundary. Heartbeats produce empty frames; skip
			// them and keep reading.
			if kind == "" && data.Len() == 0 {
				continue
			}
			return decodeEvent(kind, data.String())
		case strings.HasPrefix(line, ":"):
			// Comment line (heartbeat).
		case strings.HasPrefix(line, "event:"):
			kind = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := s.scanner.Err(); err != nil {
		return Event{}, err
	}
	return Event{}, io.EOF
}

// decodeEvent turns one SSE frame into an Event. Action frames carry
// the bare payload; everything else carries the full envelope.
func decodeEvent(kind, data string) (Event, error) {
	if kind == EventActionEvaluated {
		var ae ActionEvent
		if err := json.Unmarshal([]byte(data), &ae); err != nil {
			return Event{}, fmt.Errorf("failed to unmarshal event payload: %w", err)
		}
		return Event{Kind: kind, Timestamp: ae.Timestamp, Action: &ae}, nil
	}

	var ev Event
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		return Event{}, fmt.Errorf("failed to unmarshal event payload: %w", err)
	}
	if ev.Kind == "" {
		ev.Kind = kind
	}
	return ev, nil
}

// Close tears down the stream. Any blocked Recv returns.
func (s *EventStream) Close() error {
	return s.body.Close()
}
