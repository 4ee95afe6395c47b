package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// WSEvent is one frame received from the server.
type WSEvent struct {
	Type     string
	Raw      json.RawMessage
	Parsed   map[string]any
	Received time.Time
}

// WSClient wraps one WebSocket connection and collects every server frame in
// the background, so tests assert on ordered history with deadline waits
// instead of racing individual reads.
type WSClient struct {
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	doneCh chan struct{}

	mu     sync.Mutex
	events []WSEvent
}

// WSConnect dials the WebSocket endpoint and starts the frame collector.
func WSConnect(ctx context.Context, wsURL string) (*WSClient, error) {
	return wsConnect(ctx, wsURL, nil)
}

// WSConnectWithToken dials with a bearer token on the handshake request.
func WSConnectWithToken(ctx context.Context, wsURL, token string) (*WSClient, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	return wsConnect(ctx, wsURL, &websocket.DialOptions{HTTPHeader: header})
}

func wsConnect(ctx context.Context, wsURL string, opts *websocket.DialOptions) (*WSClient, error) {
	conn, _, err := websocket.Dial(ctx, wsURL, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", wsURL, err)
	}

	clientCtx, cancel := context.WithCancel(context.Background())
	c := &WSClient{
		conn:   conn,
		ctx:    clientCtx,
		cancel: cancel,
		doneCh: make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// readLoop reads frames until the connection closes. Non-JSON frames are
// skipped; the server only sends JSON objects.
func (c *WSClient) readLoop() {
	defer close(c.doneCh)

	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			return
		}

		var parsed map[string]any
		if err := json.Unmarshal(data, &parsed); err != nil {
			continue
		}
		evtType, _ := parsed["type"].(string)

		c.mu.Lock()
		c.events = append(c.events, WSEvent{
			Type:     evtType,
			Raw:      json.RawMessage(append([]byte(nil), data...)),
			Parsed:   parsed,
			Received: time.Now(),
		})
		c.mu.Unlock()
	}
}

// SendJSON writes one JSON frame to the server.
func (c *WSClient) SendJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// SendMessage sends one user message, starting a turn.
func (c *WSClient) SendMessage(ctx context.Context, text string) error {
	return c.SendJSON(ctx, map[string]string{"message": text})
}

// WaitForEvent polls until an event matching the predicate has been
// received, scanning the full history so already-arrived events match.
func (c *WSClient) WaitForEvent(match func(WSEvent) bool, timeout time.Duration) (*WSEvent, error) {
	deadline := time.After(timeout)
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()

	for {
		c.mu.Lock()
		for i := range c.events {
			if match(c.events[i]) {
				evt := c.events[i]
				c.mu.Unlock()
				return &evt, nil
			}
		}
		received := len(c.events)
		c.mu.Unlock()

		select {
		case <-deadline:
			return nil, fmt.Errorf("timed out after %v waiting for event (%d events received)", timeout, received)
		case <-ticker.C:
		}
	}
}

// WaitForEventType waits for the first event of the given type.
func (c *WSClient) WaitForEventType(evtType string, timeout time.Duration) (*WSEvent, error) {
	return c.WaitForEvent(func(e WSEvent) bool { return e.Type == evtType }, timeout)
}

// CollectUntil polls until the condition holds over the event history, then
// returns a snapshot of it.
func (c *WSClient) CollectUntil(cond func([]WSEvent) bool, timeout time.Duration) ([]WSEvent, error) {
	deadline := time.After(timeout)
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()

	for {
		snapshot := c.Events()
		if cond(snapshot) {
			return snapshot, nil
		}
		select {
		case <-deadline:
			return nil, fmt.Errorf("timed out after %v waiting for condition (%d events received)", timeout, len(snapshot))
		case <-ticker.C:
		}
	}
}

// Events returns a copy of every event received so far, in arrival order.
func (c *WSClient) Events() []WSEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]WSEvent, len(c.events))
	copy(out, c.events)
	return out
}

// EventsByType filters the received events by type.
func (c *WSClient) EventsByType(evtType string) []WSEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []WSEvent
	for _, e := range c.events {
		if e.Type == evtType {
			out = append(out, e)
		}
	}
	return out
}

// Done is closed when the server side ends the connection.
func (c *WSClient) Done() <-chan struct{} {
	return c.doneCh
}

// Close tears the connection down and waits for the collector to exit.
func (c *WSClient) Close() {
	c.cancel()
	_ = c.conn.CloseNow()
	<-c.doneCh
}
