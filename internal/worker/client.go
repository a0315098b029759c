package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultConnectTimeout = 10 * time.Second
	closeTimeout          = 2 * time.Second
)

// Client speaks the analyzer wire protocol with a single worker address.
// Each request opens its own connection; workers multiplex nothing across
// requests, so there is no shared connection state to guard.
type Client struct {
	addr           string
	connectTimeout time.Duration
	log            *zap.SugaredLogger
}

// NewClient returns a client for one worker address (ws:// or wss:// URL).
func NewClient(addr string, connectTimeout time.Duration) *Client {
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}
	return &Client{
		addr:           addr,
		connectTimeout: connectTimeout,
		log:            zap.S().Named("worker"),
	}
}

// Addr returns the worker address the client dials.
func (c *Client) Addr() string { return c.addr }

// Send writes one JSON request and collects response frames until a
// terminal frame, the deadline, or connection close. It never returns an
// error: connection and protocol failures degrade to synthetic
// error-shaped frames so callers can always merge something.
//
// The request is sent as {..message, timestamp, id}; a fresh correlation
// token is minted unless the message already carries one.
func (c *Client) Send(ctx context.Context, message map[string]any, timeout time.Duration) Frame {
	start := time.Now()

	request := make(map[string]any, len(message)+2)
	for k, v := range message {
		request[k] = v
	}
	request["timestamp"] = start.UTC().Format(time.RFC3339)
	id, _ := request["id"].(string)
	if id == "" {
		id = uuid.NewString()
		request["id"] = id
	}

	deadline := start.Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.connectTimeout}
	conn, _, err := dialer.DialContext(ctx, c.addr, nil)
	if err != nil {
		c.log.Warnw("worker dial failed", "addr", c.addr, "id", id, "error", err)
		return errorFrame(id, err)
	}
	defer c.close(conn)

	payload, err := json.Marshal(request)
	if err != nil {
		return errorFrame(id, err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.log.Warnw("worker write failed", "addr", c.addr, "id", id, "error", err)
		return errorFrame(id, err)
	}

	var lastProgress Frame
	for {
		if err := conn.SetReadDeadline(deadline); err != nil {
			return c.fallback(lastProgress, errorFrame(id, err))
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if time.Now().After(deadline) {
				c.log.Debugw("worker request deadline elapsed", "addr", c.addr, "id", id)
				return c.fallback(lastProgress, timeoutFrame(id, time.Since(start)))
			}
			c.log.Warnw("worker connection closed mid-stream", "addr", c.addr, "id", id, "error", err)
			return c.fallback(lastProgress, errorFrame(id, err))
		}

		frame, ok := parseFrame(data)
		if !ok {
			lastProgress = invalidFrame(data)
			continue
		}

		// frames echoing a different token belong to someone else
		if fid := frame.ID(); fid != "" && fid != id {
			continue
		}

		if frame.IsTerminal() {
			return frame
		}
		lastProgress = frame
	}
}

func (c *Client) fallback(lastProgress, synthetic Frame) Frame {
	if lastProgress != nil {
		return lastProgress
	}
	return synthetic
}

func (c *Client) close(conn *websocket.Conn) {
	deadline := time.Now().Add(closeTimeout)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	_ = conn.Close()
}
