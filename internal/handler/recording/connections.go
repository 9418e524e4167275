package recording

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Connections tracks live recording sockets. http.Server.Shutdown neither closes nor
// waits for hijacked connections, so the server closes them through CloseAll and then
// waits for each handler to finish finalizing its session.
type Connections struct {
	mu     sync.Mutex
	conns  map[*websocket.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewConnections creates an empty tracker.
func NewConnections() *Connections {
	return &Connections{conns: make(map[*websocket.Conn]struct{})}
}

// add registers conn. It returns false once CloseAll has run.
func (c *Connections) add(conn *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.conns[conn] = struct{}{}
	c.wg.Add(1)
	return true
}

// done is called by the handler after its session has been finalized.
func (c *Connections) done(conn *websocket.Conn) {
	c.mu.Lock()
	delete(c.conns, conn)
	c.mu.Unlock()
	c.wg.Done()
}

// Closed reports whether new connections are refused.
func (c *Connections) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Len returns the number of live sockets.
func (c *Connections) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.conns)
}

// CloseAll refuses new connections and closes every live socket with "going away".
// Each handler then sees the read error and runs its disconnect path.
func (c *Connections) CloseAll() {
	c.mu.Lock()
	c.closed = true
	conns := make([]*websocket.Conn, 0, len(c.conns))
	for conn := range c.conns {
		conns = append(conns, conn)
	}
	c.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for _, conn := range conns {
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = conn.Close()
	}
}

// Wait blocks until every tracked handler has returned or ctx expires. Call it after
// CloseAll.
func (c *Connections) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
