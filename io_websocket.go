// Copyright 2017 someonegg. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package msgchat

import (
	"errors"
	"io"
	"net"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
)

var (
	errWebsocketMessageType   = errors.New("websocket io: need text message")
	errWebsocketMessageFormat = errors.New("websocket io: message is not utf-8 text")
)

const websocketCloseTimeout = time.Second

// WebsocketConn interface, see https://godoc.org/github.com/gorilla/websocket/#Conn
type WebsocketConn interface {
	NextReader() (messageType int, r io.Reader, err error)
	NextWriter(messageType int) (io.WriteCloser, error)
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	RemoteAddr() net.Addr
	io.Closer
}

// WebsocketMRW converts a WebsocketConn to a Conn.
//
// Each message is one websocket text message.
func WebsocketMRW(c WebsocketConn) Conn {
	return websocketMRW{c: c}
}

type websocketMRW struct {
	c WebsocketConn
}

func (rw websocketMRW) RemoteAddr() net.Addr {
	return rw.c.RemoteAddr()
}

func (rw websocketMRW) ReadMessage() (Message, error) {
	wst, wsr, err := rw.c.NextReader()
	if err != nil {
		return "", newError(ErrStreamClosed, "read", err)
	}

	if wst != websocket.TextMessage {
		if _, err := io.Copy(io.Discard, wsr); err != nil {
			return "", newError(ErrStreamClosed, "read", err)
		}
		return "", newError(ErrMalformedPayload, "read", errWebsocketMessageType)
	}

	p, err := io.ReadAll(wsr)
	if err != nil {
		return "", newError(ErrStreamClosed, "read", err)
	}

	if !utf8.Valid(p) {
		return "", newError(ErrMalformedPayload, "read", errWebsocketMessageFormat)
	}
	return Message(p), nil
}

func (rw websocketMRW) WriteMessage(m Message) error {
	if !utf8.ValidString(string(m)) {
		return newError(ErrSend, "write", errWebsocketMessageFormat)
	}

	wswc, err := rw.c.NextWriter(websocket.TextMessage)
	if err != nil {
		return newError(ErrSend, "write", err)
	}

	if _, err = io.WriteString(wswc, string(m)); err != nil {
		wswc.Close()
		return newError(ErrSend, "write", err)
	}

	if err = wswc.Close(); err != nil {
		return newError(ErrSend, "flush", err)
	}
	return nil
}

func (rw websocketMRW) SetWriteDeadline(t time.Time) error {
	return rw.c.SetWriteDeadline(t)
}

// Flush pings the peer, it fails when the connection is already closed.
func (rw websocketMRW) Flush() error {
	return rw.c.WriteControl(websocket.PingMessage, nil, time.Now().Add(websocketCloseTimeout))
}

// CloseSend sends a normal closure control message.
func (rw websocketMRW) CloseSend() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	return rw.c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(websocketCloseTimeout))
}

// CloseReceive is a no-op, websocket has no read half-close.
func (rw websocketMRW) CloseReceive() error {
	return nil
}

func (rw websocketMRW) Close() error {
	return rw.c.Close()
}
