package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultBufferSize is the number of frames queued per observer.
const DefaultBufferSize = 100

// DefaultWriteTimeout bounds both queueing and the socket write.
const DefaultWriteTimeout = 5 * time.Second

// Connection is one observer attached to a session's event stream.
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized, so every frame
// goes through the single writeLoop goroutine.
type Connection struct {
	conn          *websocket.Conn
	writeCh       chan []byte
	writeTimeout  time.Duration
	userID        string
	sessionID     string
	authenticated bool
	ctx           context.Context
	cancel        context.CancelFunc
	closeOnce     sync.Once
	mu            sync.RWMutex
}

// NewConnection wraps conn with the default buffer and write timeout.
func NewConnection(conn *websocket.Conn) *Connection {
	return NewConnectionWithOptions(conn, DefaultBufferSize, DefaultWriteTimeout)
}

// NewConnectionWithOptions wraps conn and starts its writer goroutine.
func NewConnectionWithOptions(conn *websocket.Conn, bufferSize int, writeTimeout time.Duration) *Connection {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:         conn,
		writeCh:      make(chan []byte, bufferSize),
		writeTimeout: writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}

	go c.writeLoop()

	return c
}

// writeLoop owns the socket's write side. A nil frame asks for a normal close
// after everything queued before it has been written.
func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if data == nil {
				deadline := time.Now().Add(c.writeTimeout)
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended")
				_ = c.conn.WriteControl(websocket.CloseMessage, msg, deadline)
				_ = c.Close()
				return
			}

			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				_ = c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				_ = c.Close()
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// WriteJSON queues v for delivery.
func (c *Connection) WriteJSON(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	return c.enqueue(data)
}

// CloseAfterFlush closes the connection once the frames already queued have
// been written.
func (c *Connection) CloseAfterFlush() error {
	if err := c.enqueue(nil); err != nil {
		_ = c.Close()
		return err
	}
	return nil
}

func (c *Connection) enqueue(data []byte) error {
	timer := time.NewTimer(c.writeTimeout)
	defer timer.Stop()

	select {
	case c.writeCh <- data:
		return nil
	case <-timer.C:
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// Close stops the writer and closes the socket. Safe to call more than once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

// Done is closed when the connection has been closed.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// SetCredentials binds the connection to an authenticated observer and the
// session it watches.
func (c *Connection) SetCredentials(userID, sessionID string) error {
	if userID == "" || sessionID == "" {
		return ErrInvalidParameters
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.userID = userID
	c.sessionID = sessionID
	c.authenticated = true

	return nil
}

func (c *Connection) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authenticated
}

func (c *Connection) GetUserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

func (c *Connection) GetSessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}
