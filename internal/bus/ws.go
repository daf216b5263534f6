package bus

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// PathPrefix is the HTTP path under which channels are served.
	PathPrefix = "/bus/"

	// writeWait is how long to wait for a write to complete.
	writeWait = 5 * time.Second

	// maxPayloadSize bounds a single message read from a publisher.
	maxPayloadSize = 4 * 1024
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Publishers are local processes, not browsers
	},
}

// Server accepts publisher websocket connections on /bus/{channel} and
// republishes each text frame onto a local bus.
type Server struct {
	bus Publisher
}

// NewServer creates a Server that forwards received payloads to b.
func NewServer(b Publisher) *Server {
	return &Server{bus: b}
}

// ServeHTTP upgrades the connection and reads payloads until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	channel := strings.TrimPrefix(r.URL.Path, PathPrefix)
	if channel == "" || strings.Contains(channel, "/") {
		http.NotFound(w, r)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("bus: websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	// Unblock ReadMessage when the server shuts down.
	stop := context.AfterFunc(r.Context(), func() {
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		conn.Close()
	})
	defer stop()

	conn.SetReadLimit(maxPayloadSize)
	log.Printf("bus: publisher connected on %q from %s", channel, r.RemoteAddr)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("bus: publisher on %q read error: %v", channel, err)
			}
			break
		}
		if msgType != websocket.TextMessage {
			log.Printf("bus: ignoring non-text frame on %q", channel)
			continue
		}
		if err := s.bus.Publish(r.Context(), channel, string(data)); err != nil {
			log.Printf("bus: republish on %q failed: %v", channel, err)
		}
	}

	log.Printf("bus: publisher on %q disconnected", channel)
}

// Client publishes payloads to a remote Server. Connections are dialed
// lazily per channel and redialed on the next publish after a failure or
// after the server closes them.
type Client struct {
	addr   string
	dialer *websocket.Dialer

	mu     sync.Mutex
	conns  map[string]*websocket.Conn
	closed bool
}

// NewClient creates a Client for the server listening at addr (host:port).
func NewClient(addr string) *Client {
	return &Client{
		addr: addr,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 5 * time.Second,
		},
		conns: make(map[string]*websocket.Conn),
	}
}

// Publish sends payload on channel. Any transport failure is returned
// wrapped in ErrPublish and the connection is dropped.
func (c *Client) Publish(ctx context.Context, channel, payload string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("%w: client closed", ErrPublish)
	}

	conn, err := c.connLocked(ctx, channel)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPublish, err)
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetWriteDeadline(deadline)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
		conn.Close()
		delete(c.conns, channel)
		return fmt.Errorf("%w: %v", ErrPublish, err)
	}
	return nil
}

func (c *Client) connLocked(ctx context.Context, channel string) (*websocket.Conn, error) {
	if conn, ok := c.conns[channel]; ok {
		return conn, nil
	}

	u := url.URL{Scheme: "ws", Host: c.addr, Path: PathPrefix + channel}
	conn, _, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.String(), err)
	}
	c.conns[channel] = conn
	log.Printf("bus: connected to %s", u.String())
	go c.readPump(channel, conn)
	return conn, nil
}

// readPump consumes control frames so a close from the server is noticed,
// then forgets the connection so the next Publish redials.
func (c *Client) readPump(channel string, conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			c.drop(channel, conn)
			return
		}
	}
}

func (c *Client) drop(channel string, conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conns[channel] == conn {
		delete(c.conns, channel)
		log.Printf("bus: connection on %q closed by server", channel)
	}
	conn.Close()
}

// Close sends a close frame on every open connection and closes them.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	for channel, conn := range c.conns {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		conn.Close()
		delete(c.conns, channel)
	}
	return nil
}
