// Package client is a Go client for the signaling relay's WebSocket protocol.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var ErrClosed = errors.New("client closed")

// Event is one message received from the relay.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// User is one entry of a users_updated presence list.
type User struct {
	ConnectionID string `json:"connectionId"`
	DisplayName  string `json:"displayName"`
}

// Signal is a relayed offer, answer or ICE candidate.
type Signal struct {
	From     string
	Username string
	Body     json.RawMessage
}

// PeerStatus is a relayed peer-connection-status report.
type PeerStatus struct {
	From     string `json:"from"`
	Username string `json:"username,omitempty"`
	Status   string `json:"status"`
}

type Client struct {
	conn    *websocket.Conn
	events  chan Event
	writeMu sync.Mutex

	id      string
	idReady chan struct{}
	idOnce  sync.Once

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to a relay endpoint such as ws://host:5000/ws.
func Dial(ctx context.Context, url string, header http.Header) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}

	c := &Client{
		conn:    conn,
		events:  make(chan Event, 128),
		idReady: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	defer close(c.events)
	defer c.shutdown()

	for {
		var ev Event
		if err := c.conn.ReadJSON(&ev); err != nil {
			return
		}

		if ev.Type == "connected" {
			var payload struct {
				ConnectionID string `json:"connectionId"`
			}
			if err := json.Unmarshal(ev.Payload, &payload); err == nil {
				c.idOnce.Do(func() {
					c.id = payload.ConnectionID
					close(c.idReady)
				})
			}
		}

		select {
		case c.events <- ev:
		case <-c.done:
			return
		}
	}
}

// Events delivers every event in arrival order. The channel closes when the
// connection ends.
func (c *Client) Events() <-chan Event {
	return c.events
}

// ID waits for the relay to announce this connection's id.
func (c *Client) ID(ctx context.Context) (string, error) {
	select {
	case <-c.idReady:
		return c.id, nil
	case <-c.done:
		return "", ErrClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *Client) Register(displayName string) error {
	return c.Send("register", displayName)
}

func (c *Client) Offer(target string, offer interface{}) error {
	return c.Send("offer", map[string]interface{}{"target": target, "offer": offer})
}

func (c *Client) Answer(target string, answer interface{}) error {
	return c.Send("answer", map[string]interface{}{"target": target, "answer": answer})
}

func (c *Client) ICECandidate(target string, candidate interface{}) error {
	return c.Send("ice-candidate", map[string]interface{}{"target": target, "candidate": candidate})
}

func (c *Client) ConnectionStatus(target, status string) error {
	return c.Send("connection-status", map[string]interface{}{"target": target, "status": status})
}

func (c *Client) Heartbeat() error {
	return c.Send("heartbeat", nil)
}

// Send writes one envelope. It is safe for concurrent use.
func (c *Client) Send(messageType string, payload interface{}) error {
	msg := map[string]interface{}{"type": messageType}
	if payload != nil {
		msg["payload"] = payload
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	return c.conn.WriteJSON(msg)
}

// SendRaw writes a frame verbatim.
func (c *Client) SendRaw(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// KeepAlive sends a heartbeat every interval until ctx is done or the
// connection closes.
func (c *Client) KeepAlive(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.Heartbeat(); err != nil {
				return
			}
		}
	}
}

// Done is closed once the connection has ended.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// Close sends a close frame and tears the connection down.
func (c *Client) Close() error {
	c.writeMu.Lock()
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()

	c.shutdown()
	return nil
}

// DecodeUsers decodes a users_updated payload.
func DecodeUsers(ev Event) ([]User, error) {
	var users []User
	if err := json.Unmarshal(ev.Payload, &users); err != nil {
		return nil, fmt.Errorf("invalid users_updated payload: %w", err)
	}
	return users, nil
}

// DecodeSignal decodes an offer, answer or ice-candidate payload.
func DecodeSignal(ev Event) (Signal, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(ev.Payload, &fields); err != nil {
		return Signal{}, fmt.Errorf("invalid %s payload: %w", ev.Type, err)
	}

	sig := Signal{Body: fields[bodyField(ev.Type)]}
	if err := json.Unmarshal(fields["from"], &sig.From); err != nil {
		return Signal{}, fmt.Errorf("invalid %s sender: %w", ev.Type, err)
	}
	if raw, ok := fields["username"]; ok {
		json.Unmarshal(raw, &sig.Username)
	}
	return sig, nil
}

// DecodePeerStatus decodes a peer-connection-status payload.
func DecodePeerStatus(ev Event) (PeerStatus, error) {
	var status PeerStatus
	if err := json.Unmarshal(ev.Payload, &status); err != nil {
		return PeerStatus{}, fmt.Errorf("invalid peer-connection-status payload: %w", err)
	}
	return status, nil
}

func bodyField(eventType string) string {
	switch eventType {
	case "offer":
		return "offer"
	case "answer":
		return "answer"
	default:
		return "candidate"
	}
}
