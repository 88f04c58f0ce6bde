package web

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dontdude/javabox/internal/domain"
)

const writeWait = 10 * time.Second

var errCallerGone = errors.New("caller disconnected")

// connCaller answers on the websocket the request arrived on.
// Feedback for several requests may be written concurrently, so writes are serialized.
type connCaller struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

func (c *connCaller) Deliver(_ context.Context, fb domain.Feedback) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errCallerGone
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(fb)
}

func (c *connCaller) close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// chanCaller hands the Feedback to a waiting HTTP handler.
type chanCaller chan domain.Feedback

func (c chanCaller) Deliver(_ context.Context, fb domain.Feedback) error {
	select {
	case c <- fb:
		return nil
	default:
		return errCallerGone
	}
}
