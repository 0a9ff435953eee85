package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"garthen-realtime/internal/logging"
	"garthen-realtime/internal/realtime"
)

const (
	// ClientIDHeader carries the per-process client instance id.
	ClientIDHeader = "X-Garthen-Client"

	defaultWriteTimeout = 10 * time.Second
	defaultReadLimit    = 16 << 20
	closeGrace          = time.Second
)

// Dialer opens binary websocket connections for the realtime client.
type Dialer struct {
	WS           *websocket.Dialer
	Header       http.Header
	WriteTimeout time.Duration
	// ReadLimit caps the size of one inbound message in bytes.
	ReadLimit int64
	ClientID  string
	Logger    *logging.Logger
}

func NewDialer(logger *logging.Logger) *Dialer {
	if logger == nil {
		panic("transport.NewDialer: logger must not be nil")
	}
	return &Dialer{
		WS: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 15 * time.Second,
		},
		WriteTimeout: defaultWriteTimeout,
		ReadLimit:    defaultReadLimit,
		ClientID:     uuid.NewString(),
		Logger:       logger,
	}
}

func (d *Dialer) Dial(ctx context.Context, endpoint string) (realtime.Conn, error) {
	ws := d.WS
	if ws == nil {
		ws = websocket.DefaultDialer
	}
	header := d.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	if d.ClientID != "" {
		header.Set(ClientIDHeader, d.ClientID)
	}

	conn, resp, err := ws.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", endpoint, resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	if d.Logger != nil {
		d.Logger.Debug("websocket connected",
			logging.Field("endpoint", endpoint),
			logging.Field("client_id", d.ClientID),
		)
	}
	timeout := d.WriteTimeout
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}
	limit := d.ReadLimit
	if limit <= 0 {
		limit = defaultReadLimit
	}
	conn.SetReadLimit(limit)
	return &Conn{ws: conn, writeTimeout: timeout}, nil
}

// Conn adapts a gorilla connection to realtime.Conn. Only binary messages
// are valid frames.
type Conn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
	writeMu      sync.Mutex
	closeOnce    sync.Once
	closeErr     error
}

func (c *Conn) ReadFrame() ([]byte, error) {
	kind, payload, err := c.ws.ReadMessage()
	if err != nil {
		return nil, readError(err)
	}
	if kind != websocket.BinaryMessage {
		return nil, &realtime.CloseError{Code: realtime.CloseInvalidPayload, Reason: "text frame"}
	}
	return payload, nil
}

func (c *Conn) WriteFrame(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return fmt.Errorf("%w: %w", realtime.ErrTransport, err)
	}
	if err := c.ws.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return fmt.Errorf("%w: %w", realtime.ErrTransport, err)
	}
	return nil
}

// Close sends a close frame with code and drops the connection. Later calls
// return the first result.
func (c *Conn) Close(code int, reason string) error {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

func readError(err error) error {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return &realtime.CloseError{Code: closeErr.Code, Reason: closeErr.Text}
	}
	return fmt.Errorf("%w: %w", realtime.ErrTransport, err)
}
