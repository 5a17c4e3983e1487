package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/livekit/protocol/livekit"
	"google.golang.org/protobuf/proto"
)

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second
)

var ErrNotConnected = errors.New("websocket not connected")

// WebSocketClient carries agent protocol messages, one protobuf message per
// binary frame.
type WebSocketClient struct {
	url    string
	logger *slog.Logger

	mu   sync.Mutex // guards conn and serializes writes
	conn *websocket.Conn
}

func NewWebSocketClient(serverURL string, logger *slog.Logger) *WebSocketClient {
	return &WebSocketClient{
		url:    serverURL,
		logger: logger,
	}
}

// AgentURL maps a LiveKit server URL to its agent endpoint.
func AgentURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("invalid URL scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/agent"
	return u.String(), nil
}

// Connect dials the agent endpoint, authenticating with token.
func (c *WebSocketClient) Connect(ctx context.Context, token string) error {
	endpoint, err := AgentURL(c.url)
	if err != nil {
		return err
	}

	c.logger.Debug("Connecting to WebSocket", slog.String("url", endpoint))

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = handshakeTimeout

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("failed to connect (status %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("failed to connect: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.logger.Info("WebSocket connected", slog.String("url", endpoint))
	return nil
}

// ReadMessage blocks for the next server message. Only one goroutine may read.
func (c *WebSocketClient) ReadMessage() (*livekit.ServerMessage, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil, ErrNotConnected
	}

	for {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("failed to read message: %w", err)
		}
		if typ != websocket.BinaryMessage {
			c.logger.Debug("Ignoring non-binary frame", slog.Int("type", typ))
			continue
		}

		msg := &livekit.ServerMessage{}
		if err := proto.Unmarshal(data, msg); err != nil {
			return nil, fmt.Errorf("failed to decode server message: %w", err)
		}
		return msg, nil
	}
}

// WriteMessage sends msg. Safe for concurrent use.
func (c *WebSocketClient) WriteMessage(msg *livekit.WorkerMessage) error {
	data, err := proto.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode worker message: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

func (c *WebSocketClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}

	c.logger.Info("Closing WebSocket connection")
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	err := c.conn.Close()
	c.conn = nil
	return err
}
