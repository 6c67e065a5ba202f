// Package client is the Go participant client: it dials the session's
// WebSocket endpoint, surfaces server messages as a typed event stream and
// reconnects with exponential backoff inside the server's grace window.
package client

import (
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"oscehub/pkg/protocol"
	"oscehub/pkg/types"
)

// Config identifies the participant and the session to join.
type Config struct {
	// ServerURL is the base URL, e.g. "ws://localhost:8080".
	ServerURL   string
	SessionID   string
	UserID      string
	Role        string
	StationID   string
	DisplayName string

	// MaxRetries bounds reconnection attempts. Zero means 5.
	MaxRetries uint64

	// EventBuffer sizes the event channel. Zero means 64.
	EventBuffer int
}

func (c Config) withDefaults() Config {
	if c.MaxRetries == 0 {
		c.MaxRetries = 5
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 64
	}
	return c
}

// Client is a connected participant. Events arrive on Events() as the typed
// payloads produced by the protocol package; the channel closes when the
// connection drops for good or Close is called.
type Client struct {
	config Config

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	events   chan any
	readDone chan struct{}
}

// New creates a client; call Connect to dial.
func New(config Config) (*Client, error) {
	if config.ServerURL == "" || config.SessionID == "" || config.UserID == "" || config.Role == "" {
		return nil, ErrMissingConfig
	}
	if !types.IsValidRole(config.Role) {
		return nil, types.ErrInvalidRole
	}

	return &Client{
		config: config.withDefaults(),
	}, nil
}

// Connect dials the server with exponential backoff and starts the read
// loop. Safe to call again after the connection drops.
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	endpoint, err := c.endpoint()
	if err != nil {
		return err
	}

	var conn *websocket.Conn
	operation := func() error {
		dialed, _, dialErr := websocket.DefaultDialer.Dial(endpoint, nil)
		if dialErr != nil {
			return dialErr
		}
		conn = dialed
		return nil
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.config.MaxRetries)
	if err := backoff.Retry(operation, policy); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", endpoint, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return ErrClientClosed
	}
	c.conn = conn
	c.events = make(chan any, c.config.EventBuffer)
	c.readDone = make(chan struct{})
	c.mu.Unlock()

	go c.readLoop(conn, c.events, c.readDone)
	return nil
}

// Reconnect drops the current connection (if any) and dials again. The
// server treats a reconnect within the grace window as the same participant
// and responds with a full state snapshot.
func (c *Client) Reconnect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	conn := c.conn
	done := c.readDone
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
		<-done
	}
	return c.Connect()
}

// Events returns the server event stream for the current connection.
func (c *Client) Events() <-chan any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events
}

// Close terminates the connection and the event stream.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		deadline := time.Now().Add(time.Second)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		return conn.Close()
	}
	return nil
}

// SetReady signals readiness for the start handshake.
func (c *Client) SetReady() error {
	return c.send(protocol.TypeSetReady, protocol.SetReady{})
}

// ReleaseMaterial discloses a material item to the candidate.
func (c *Client) ReleaseMaterial(itemID string) error {
	return c.send(protocol.TypeReleaseMaterial, protocol.ReleaseMaterial{ItemID: itemID})
}

// ReleaseChecklist makes the scoring checklist visible to the candidate.
func (c *Client) ReleaseChecklist() error {
	return c.send(protocol.TypeReleaseChecklist, protocol.ReleaseChecklist{})
}

// UpdateScores replaces the evaluator's working score set.
func (c *Client) UpdateScores(scores types.ScoreSet) error {
	return c.send(protocol.TypeUpdateScores, protocol.UpdateScores{Scores: scores})
}

// SubmitEvaluation finalizes the candidate's evaluation.
func (c *Client) SubmitEvaluation(scores types.ScoreSet) error {
	return c.send(protocol.TypeSubmitEvaluation, protocol.SubmitEvaluation{
		Scores: scores,
		Total:  scores.Total(),
	})
}

// StopTimer ends the station early.
func (c *Client) StopTimer(reason string) error {
	return c.send(protocol.TypeStopTimer, protocol.StopTimer{Reason: reason})
}

// PauseTimer suspends the countdown.
func (c *Client) PauseTimer() error {
	return c.send(protocol.TypePauseTimer, protocol.PauseTimer{})
}

// ResumeTimer restarts a paused countdown.
func (c *Client) ResumeTimer() error {
	return c.send(protocol.TypeResumeTimer, protocol.ResumeTimer{})
}

// RequestResync asks the server for a fresh state snapshot.
func (c *Client) RequestResync() error {
	return c.send(protocol.TypeResync, protocol.Resync{})
}

func (c *Client) send(msgType string, payload any) error {
	env, err := protocol.Encode(msgType, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	if c.conn == nil {
		return ErrNotConnected
	}
	return c.conn.WriteJSON(env)
}

// readLoop decodes server messages onto the event channel until the socket
// drops, then closes the channel.
func (c *Client) readLoop(conn *websocket.Conn, events chan any, done chan struct{}) {
	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		close(events)
		close(done)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		event, err := protocol.DecodeServer(data)
		if err != nil {
			log.Printf("Dropping undecodable server message: %v", err)
			continue
		}
		select {
		case events <- event:
		default:
			log.Printf("Event buffer full, dropping message user_id=%s", c.config.UserID)
		}
	}
}

func (c *Client) endpoint() (string, error) {
	base, err := url.Parse(c.config.ServerURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch base.Scheme {
	case "http":
		base.Scheme = "ws"
	case "https":
		base.Scheme = "wss"
	}
	base.Path = "/ws"

	query := url.Values{}
	query.Set("session_id", c.config.SessionID)
	query.Set("user_id", c.config.UserID)
	query.Set("role", c.config.Role)
	if c.config.StationID != "" {
		query.Set("station_id", c.config.StationID)
	}
	if c.config.DisplayName != "" {
		query.Set("display_name", c.config.DisplayName)
	}
	base.RawQuery = query.Encode()
	return base.String(), nil
}
