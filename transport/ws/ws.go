package ws

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ardnew/microscpi/pkg"
	"github.com/ardnew/microscpi/transport"
)

// Name labels the WebSocket transport in logs and metrics.
const Name = "ws"

// DefaultHandshakeTimeout bounds the client opening handshake.
const DefaultHandshakeTimeout = 10 * time.Second

// ErrConnectionClosed is returned by client calls after the connection
// has failed or been closed.
var ErrConnectionClosed = errors.New("websocket connection closed")

// Server upgrades HTTP requests and executes the text messages received on
// each connection.
type Server struct {
	mu       sync.Mutex
	upgrader websocket.Upgrader
	exec     transport.Executor
	observer transport.Observer
	conns    map[*websocket.Conn]struct{}
	closed   bool
}

// NewServer returns a handler that executes messages with exec.
func NewServer(exec transport.Executor, obs transport.Observer) *Server {
	return &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  transport.MaxLine,
			WriteBufferSize: transport.MaxLine,
		},
		exec:     exec,
		observer: obs,
		conns:    make(map[*websocket.Conn]struct{}),
	}
}

// ServeHTTP implements [http.Handler].
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		pkg.LogWarn(pkg.ComponentTransport, "websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	if !s.track(conn) {
		conn.Close()
		return
	}
	defer s.untrack(conn)

	pkg.LogInfo(pkg.ComponentTransport, "websocket client connected", "remote", r.RemoteAddr)
	if s.observer != nil {
		s.observer.ClientConnected(Name, 1)
		defer s.observer.ClientConnected(Name, -1)
	}
	conn.SetReadLimit(transport.MaxLine)

	var out bytes.Buffer
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				pkg.LogDebug(pkg.ComponentTransport, "websocket read ended", "remote", r.RemoteAddr, "error", err)
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		message := strings.TrimSpace(string(data))
		if message == "" {
			continue
		}
		if s.observer != nil {
			s.observer.LineReceived(Name)
		}

		out.Reset()
		s.exec.Execute(&out, message)
		if out.Len() == 0 {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, out.Bytes()); err != nil {
			pkg.LogDebug(pkg.ComponentTransport, "websocket write failed", "remote", r.RemoteAddr, "error", err)
			return
		}
	}
}

func (s *Server) track(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	conn.Close()
}

// Clients returns the number of open connections.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Close disconnects every client and refuses new ones.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for conn := range s.conns {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}
	return nil
}

// Client sends program messages to a WebSocket instrument endpoint.
type Client struct {
	conn    *websocket.Conn
	timeout time.Duration
}

// Dial connects to url, for example ws://127.0.0.1:5025/scpi. Reads made
// by [Client.Query] give up after timeout when it is positive.
func Dial(ctx context.Context, url string, timeout time.Duration) (*Client, error) {
	dialer := websocket.Dialer{HandshakeTimeout: DefaultHandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %s)", url, err, resp.Status)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &Client{conn: conn, timeout: timeout}, nil
}

// Write sends msg as one text message.
func (c *Client) Write(msg string) error {
	msg = strings.TrimRight(msg, "\r\n")
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionClosed, err)
	}
	return nil
}

// Read returns the next text message. A read deadline that expires
// surfaces as [pkg.ErrTimeout].
func (c *Client) Read() (string, error) {
	if c.timeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(c.timeout))
	}
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			var ne interface{ Timeout() bool }
			if errors.As(err, &ne) && ne.Timeout() {
				return "", fmt.Errorf("%w: no response", pkg.ErrTimeout)
			}
			return "", fmt.Errorf("%w: %w", ErrConnectionClosed, err)
		}
		if kind == websocket.TextMessage {
			return string(data), nil
		}
	}
}

// Query sends msg and returns the response text with its final line
// terminator removed.
func (c *Client) Query(msg string) (string, error) {
	if err := c.Write(msg); err != nil {
		return "", err
	}
	resp, err := c.Read()
	if err != nil {
		return "", err
	}
	return strings.TrimRight(resp, "\r\n"), nil
}

// Close sends a close frame and closes the connection.
func (c *Client) Close() error {
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.conn.Close()
}
