package msgchat

import (
	"bytes"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bufferCloser struct {
	bytes.Buffer
}

func (bc *bufferCloser) Close() error {
	return nil
}

type mockWebsocketConn struct {
	rt  int
	rb  string
	err error

	wt int
	wb bufferCloser

	ct int
	cb []byte

	wdl    time.Time
	closed bool
}

func (c *mockWebsocketConn) NextReader() (int, io.Reader, error) {
	if c.err != nil {
		return 0, nil, c.err
	}
	return c.rt, bytes.NewBufferString(c.rb), nil
}

func (c *mockWebsocketConn) NextWriter(messageType int) (io.WriteCloser, error) {
	c.wt = messageType
	c.wb.Reset()
	return &c.wb, nil
}

func (c *mockWebsocketConn) WriteControl(messageType int, data []byte, deadline time.Time) error {
	if c.closed {
		return websocket.ErrCloseSent
	}
	c.ct = messageType
	c.cb = data
	return nil
}

func (c *mockWebsocketConn) RemoteAddr() net.Addr {
	return &net.TCPAddr{}
}

func (c *mockWebsocketConn) SetWriteDeadline(t time.Time) error {
	c.wdl = t
	return nil
}

func (c *mockWebsocketConn) Close() error {
	c.closed = true
	return nil
}

func TestWebsocketRead(test *testing.T) {
	c := &mockWebsocketConn{}
	rw := WebsocketMRW(c)

	c.rt = websocket.TextMessage
	c.rb = "CLIENT - hello"
	m, err := rw.ReadMessage()
	require.NoError(test, err)
	assert.Equal(test, Message("CLIENT - hello"), m)

	c.rt = websocket.BinaryMessage
	c.rb = "m2"
	_, err = rw.ReadMessage()
	assert.ErrorIs(test, err, ErrMalformedPayload)
	assert.ErrorIs(test, err, errWebsocketMessageType)

	c.rt = websocket.TextMessage
	c.rb = string([]byte{0xff, 0xfe})
	_, err = rw.ReadMessage()
	assert.ErrorIs(test, err, ErrMalformedPayload)

	c.err = &websocket.CloseError{Code: websocket.CloseNormalClosure}
	_, err = rw.ReadMessage()
	assert.ErrorIs(test, err, ErrStreamClosed)
	var ce *websocket.CloseError
	assert.True(test, errors.As(err, &ce))
}

func TestWebsocketWrite(test *testing.T) {
	c := &mockWebsocketConn{}
	rw := WebsocketMRW(c)

	require.NoError(test, rw.WriteMessage("SERVER - hi"))
	assert.Equal(test, websocket.TextMessage, c.wt)
	assert.Equal(test, "SERVER - hi", c.wb.String())

	assert.ErrorIs(test, rw.WriteMessage(Message([]byte{0xff})), ErrSend)
}

func TestWebsocketCloseSend(test *testing.T) {
	c := &mockWebsocketConn{}
	rw := WebsocketMRW(c)

	require.NoError(test, rw.CloseSend())
	assert.Equal(test, websocket.CloseMessage, c.ct)
	assert.Equal(test, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), c.cb)
	assert.NoError(test, rw.CloseReceive())
}

func TestWebsocketOpen(test *testing.T) {
	c := &mockWebsocketConn{}
	s, err := Open(WebsocketMRW(c), nil)
	require.NoError(test, err)
	assert.Equal(test, websocket.PingMessage, c.ct)

	s.SetWriteTimeout(time.Second)
	require.NoError(test, s.Send("SERVER - hi"))
	assert.False(test, c.wdl.IsZero())

	c.Close()
	_, err = Open(WebsocketMRW(c), nil)
	assert.ErrorIs(test, err, ErrTransportInit)
	assert.ErrorIs(test, err, websocket.ErrCloseSent)
}
