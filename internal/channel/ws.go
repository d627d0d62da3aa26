package channel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Conn is an open channel connection. Read and Write may be called
// concurrently with each other.
type Conn interface {
	Read(ctx context.Context) (Envelope, error)
	Write(ctx context.Context, env Envelope) error
	Close() error
}

// Dialer opens channel connections using a bearer credential.
type Dialer interface {
	Dial(ctx context.Context, credential string) (Conn, error)
}

// maxFrameBytes bounds a single inbound frame. Offline replays can carry a
// full backlog, so this is well above the library default.
const maxFrameBytes = 4 << 20

// WSDialer dials the messaging WebSocket endpoint.
type WSDialer struct {
	URL        string
	HTTPClient *http.Client
}

// NewWSDialer returns a dialer for url. http(s) schemes are rewritten to
// ws(s).
func NewWSDialer(url string, client *http.Client) *WSDialer {
	url = strings.Replace(url, "https://", "wss://", 1)
	url = strings.Replace(url, "http://", "ws://", 1)
	return &WSDialer{URL: url, HTTPClient: client}
}

// Dial opens a connection authenticated with credential.
func (d *WSDialer) Dial(ctx context.Context, credential string) (Conn, error) {
	header := http.Header{}
	if credential != "" {
		header.Set("Authorization", "Bearer "+credential)
	}
	c, _, err := websocket.Dial(ctx, d.URL, &websocket.DialOptions{
		HTTPClient: d.HTTPClient,
		HTTPHeader: header,
	})
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	c.SetReadLimit(maxFrameBytes)
	return &wsConn{c: c}, nil
}

type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) Read(ctx context.Context) (Envelope, error) {
	var env Envelope
	if err := wsjson.Read(ctx, w.c, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

func (w *wsConn) Write(ctx context.Context, env Envelope) error {
	return wsjson.Write(ctx, w.c, env)
}

func (w *wsConn) Close() error {
	err := w.c.Close(websocket.StatusNormalClosure, "client disconnect")
	if err == nil || errors.Is(err, net.ErrClosed) || websocket.CloseStatus(err) != -1 {
		return nil
	}
	return err
}
