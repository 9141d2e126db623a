package hearing

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	handshakeTimeout = 10 * time.Second
	writeWait        = 10 * time.Second
)

// Conn is one open realtime channel. ReadMessage blocks until a frame arrives
// or the channel is closed.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens realtime channels.
type Dialer interface {
	Dial(ctx context.Context, rawURL string) (Conn, error)
}

// SocketURL derives the hearing channel URL from the HTTP base URL.
func SocketURL(baseURL, caseID, sessionID string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported base url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("base url %q has no host", baseURL)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/cases/" + caseID + "/hearing/ws"
	u.RawPath = ""
	q := url.Values{}
	if sessionID != "" {
		q.Set("session_id", sessionID)
	}
	u.RawQuery = q.Encode()
	u.Fragment = ""
	return u.String(), nil
}

// WebsocketDialer dials with gorilla/websocket.
type WebsocketDialer struct {
	Dialer *websocket.Dialer
	Header http.Header
}

func NewWebsocketDialer() *WebsocketDialer {
	return &WebsocketDialer{
		Dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
	}
}

func (d *WebsocketDialer) Dial(ctx context.Context, rawURL string) (Conn, error) {
	ws, resp, err := d.Dialer.DialContext(ctx, rawURL, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", redact(rawURL), err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", redact(rawURL), err)
	}
	return &wsConn{ws: ws}, nil
}

// redact drops the query so session ids stay out of logs.
func redact(rawURL string) string {
	if i := strings.IndexByte(rawURL, '?'); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}

// wsConn serialises writes; gorilla allows one concurrent reader and one
// concurrent writer.
type wsConn struct {
	ws *websocket.Conn

	writeMu sync.Mutex
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	return data, err
}

func (c *wsConn) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.ws.Close()
}
