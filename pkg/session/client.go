package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/atinarapukarthik/RyzeCanvas-sub002/pkg/events"
)

// ErrClosed is returned by Next once the connection has ended. The caller
// should resubscribe; events emitted while disconnected are only recovered
// if the run is still in progress and its log is replayed.
var ErrClosed = errors.New("session connection closed")

// ServerError is an error message sent by the server over the socket.
type ServerError struct {
	Message string
	RunID   string
}

func (e *ServerError) Error() string { return e.Message }

// wireMessage is the union of everything the server writes.
type wireMessage struct {
	events.Event
	Error string `json:"error,omitempty"`
}

type frame struct {
	ev  events.Event
	err error
}

// Client is a websocket subscription to one project's event stream.
type Client struct {
	conn      *websocket.Conn
	projectID string

	writeMu sync.Mutex
	frames  chan frame
	done    chan struct{}
	once    sync.Once
}

// WebSocketURL converts an http(s) base address into the subscription URL.
func WebSocketURL(base, projectID string) (string, error) {
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid server address %q: %w", base, err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{"project": {projectID}}.Encode()
	return u.String(), nil
}

// Dial connects to the server at base and subscribes to projectID.
func Dial(ctx context.Context, base, projectID string) (*Client, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, errors.New("project id is required")
	}
	wsURL, err := WebSocketURL(base, projectID)
	if err != nil {
		return nil, err
	}

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 5 * time.Second
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", wsURL, err)
	}

	c := &Client{
		conn:      conn,
		projectID: projectID,
		frames:    make(chan frame, 64),
		done:      make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// ProjectID returns the subscribed project.
func (c *Client) ProjectID() string { return c.projectID }

func (c *Client) readLoop() {
	defer close(c.frames)
	for {
		var msg wireMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				select {
				case c.frames <- frame{err: fmt.Errorf("%w: %v", ErrClosed, err)}:
				case <-c.done:
				}
			}
			return
		}

		var f frame
		switch msg.Type {
		case "pong":
			continue
		case "error":
			f.err = &ServerError{Message: msg.Error, RunID: msg.RunID}
		default:
			if !msg.Type.Valid() {
				continue
			}
			f.ev = msg.Event
		}
		select {
		case c.frames <- f:
		case <-c.done:
			return
		}
	}
}

func (c *Client) send(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(v); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// Start asks the server to begin a run for the subscribed project. The
// acknowledgement is the node_change RETRIEVE event.
func (c *Client) Start(prompt, mode string) error {
	return c.send(map[string]string{
		"type":      "start",
		"projectId": c.projectID,
		"prompt":    prompt,
		"mode":      mode,
	})
}

// Ping sends an application-level ping; the pong is consumed internally.
func (c *Client) Ping() error {
	return c.send(map[string]string{"type": "ping"})
}

// Next blocks for the next event. A *ServerError does not end the session;
// ErrClosed does.
func (c *Client) Next(ctx context.Context) (events.Event, error) {
	select {
	case f, ok := <-c.frames:
		if !ok {
			return events.Event{}, ErrClosed
		}
		return f.ev, f.err
	case <-ctx.Done():
		return events.Event{}, ctx.Err()
	}
}

// Follow applies events to state until ctx ends, the connection drops or
// onEvent returns false. onEvent sees every applied event.
func (c *Client) Follow(ctx context.Context, state *State, onEvent func(*State, events.Event) bool) error {
	for {
		ev, err := c.Next(ctx)
		if err != nil {
			return err
		}
		if !state.Apply(ev) {
			continue
		}
		if onEvent != nil && !onEvent(state, ev) {
			return nil
		}
	}
}

// Close ends the subscription.
func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}
