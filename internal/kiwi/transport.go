package kiwi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultConnectTimeout   = 10 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
	closeWriteTimeout       = time.Second
)

// Conn is a websocket connection to the KiwiSDR server.
type Conn interface {
	// WriteText sends one text message. No acknowledgement is awaited.
	WriteText(msg string) error

	// ReadMessage blocks until one message arrives or timeout elapses. It fails with
	// ErrReceiveTimeout or ErrConnectionClosed.
	ReadMessage(timeout time.Duration) ([]byte, error)

	// Close sends a going-away close frame and closes the transport.
	Close() error
}

// Dialer opens connections to a server endpoint.
type Dialer interface {
	// Dial connects to host:port and upgrades the connection for path. It fails with
	// ErrConnect when the transport cannot be opened and ErrHandshake when the upgrade fails.
	Dial(ctx context.Context, host string, port int, path string) (Conn, error)
}

// WebsocketDialer dials KiwiSDR servers with gorilla/websocket.
type WebsocketDialer struct {
	ConnectTimeout   time.Duration // Bound for opening the TCP connection
	HandshakeTimeout time.Duration // Bound for the websocket upgrade
}

// Dial implements Dialer.
func (d *WebsocketDialer) Dial(ctx context.Context, host string, port int, path string) (Conn, error) {
	connectTimeout := d.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}
	handshakeTimeout := d.HandshakeTimeout
	if handshakeTimeout <= 0 {
		handshakeTimeout = defaultHandshakeTimeout
	}

	netDialer := net.Dialer{Timeout: connectTimeout}

	// set only when the TCP connection itself could not be opened
	var connectErr error
	dialer := websocket.Dialer{
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := netDialer.DialContext(ctx, network, addr)
			if err != nil {
				connectErr = err
			}
			return conn, err
		},
		HandshakeTimeout: handshakeTimeout,
	}

	u := url.URL{
		Scheme: "ws",
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
		Path:   path,
	}

	ws, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if connectErr != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrConnect, u.Host, connectErr)
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrHandshake, u.String(), err)
	}

	return &websocketConn{ws: ws}, nil
}

type websocketConn struct {
	ws *websocket.Conn
}

func (c *websocketConn) WriteText(msg string) error {
	if err := c.ws.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionClosed, err)
	}
	return nil
}

func (c *websocketConn) ReadMessage(timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		if err := c.ws.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConnectionClosed, err)
		}
	}

	_, msg, err := c.ws.ReadMessage()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, fmt.Errorf("%w: %w", ErrReceiveTimeout, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrConnectionClosed, err)
	}
	return msg, nil
}

func (c *websocketConn) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "")
	writeErr := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteTimeout))
	if errors.Is(writeErr, websocket.ErrCloseSent) {
		writeErr = nil
	}

	return errors.Join(writeErr, c.ws.Close())
}
