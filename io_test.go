package msgchat

import (
	"fmt"
	"io"
	"net"
	"sync"
)

// mockConn is an in-memory Conn, it reads the queued messages then EOF.
type mockConn struct {
	mu sync.Mutex

	rq   []interface{} // Message or error
	rsus chan bool      // blocks reads until Close
	once sync.Once

	wmax int
	w    []Message

	closeSendErr    error
	closeReceiveErr error
	closeErr        error
	calls           []string
}

func (c *mockConn) queue(v ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rq = append(c.rq, v...)
}

func (c *mockConn) ReadMessage() (Message, error) {
	if c.rsus != nil {
		<-c.rsus
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.rq) == 0 {
		return "", newError(ErrStreamClosed, "read", io.EOF)
	}
	v := c.rq[0]
	c.rq = c.rq[1:]
	switch v := v.(type) {
	case Message:
		return v, nil
	case error:
		return "", v
	default:
		panic(fmt.Sprint("mockConn: bad queue entry ", v))
	}
}

func (c *mockConn) WriteMessage(m Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.wmax > 0 && len(c.w) >= c.wmax {
		return io.ErrClosedPipe
	}
	c.w = append(c.w, m)
	return nil
}

func (c *mockConn) written() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.w...)
}

func (c *mockConn) CloseSend() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, "send")
	return c.closeSendErr
}

func (c *mockConn) CloseReceive() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, "receive")
	return c.closeReceiveErr
}

func (c *mockConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, "conn")
	if c.rsus != nil {
		c.once.Do(func() { close(c.rsus) })
	}
	return c.closeErr
}

func (c *mockConn) closeCalls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func (c *mockConn) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000}
}
