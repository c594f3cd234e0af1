// Copyright 2017 someonegg. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package msgchat

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"strings"
	"time"
	"unicode/utf8"
)

var (
	errNetconnMessageLength = errors.New("netconn io: wrong message length")
	errNetconnMessageFormat = errors.New("netconn io: message is not utf-8 text")
	errNetconnLineBreak     = errors.New("netconn io: line message contains a line break")
	errNetconnFraming       = errors.New("netconn io: unknown framing")
)

// NetconnMessageMaxLength is the default maximum message length.
const NetconnMessageMaxLength = 32 * 1024 * 1024

type netbufconn struct {
	conn net.Conn
	*bufio.ReadWriter
}

func newNetbufConn(conn net.Conn) netbufconn {
	return netbufconn{
		conn:       conn,
		ReadWriter: bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn)),
	}
}

// NetconnMRW converts a net.Conn to a Conn.
//
// In the transport layer, message's layout is:
//
//	length framing: Length(4-bytes int, big-endian)Text
//	line framing:   Text\n
//
// Text must be valid utf-8.
type NetconnMRW struct {
	c       netbufconn
	framing Framing
	maxLen  int
}

// NewNetconnMRW wraps conn. It fails with ErrTransportInit if the
// connection is already closed or the framing is unknown.
//
// maxLen <= 0 means NetconnMessageMaxLength.
func NewNetconnMRW(conn net.Conn, framing Framing, maxLen int) (*NetconnMRW, error) {
	switch framing {
	case "":
		framing = FramingLength
	case FramingLength, FramingLine:
	default:
		return nil, newError(ErrTransportInit, string(framing), errNetconnFraming)
	}
	if maxLen <= 0 {
		maxLen = NetconnMessageMaxLength
	}

	// A closed net.Conn refuses deadline changes.
	if err := conn.SetDeadline(time.Time{}); err != nil {
		return nil, newError(ErrTransportInit, "wrap", err)
	}

	return &NetconnMRW{
		c:       newNetbufConn(conn),
		framing: framing,
		maxLen:  maxLen,
	}, nil
}

func (rw *NetconnMRW) Framing() Framing {
	return rw.framing
}

func (rw *NetconnMRW) RemoteAddr() net.Addr {
	return rw.c.conn.RemoteAddr()
}

func (rw *NetconnMRW) ReadMessage() (Message, error) {
	if rw.framing == FramingLine {
		return rw.readLine()
	}
	return rw.readLength()
}

func (rw *NetconnMRW) readLength() (Message, error) {
	var l uint32
	err := binary.Read(rw.c, binary.BigEndian, &l)
	if err != nil {
		return "", newError(ErrStreamClosed, "read", err)
	}

	if int64(l) > int64(rw.maxLen) {
		// Drop the body so the next frame starts on a boundary.
		if _, err := io.CopyN(io.Discard, rw.c, int64(l)); err != nil {
			return "", newError(ErrStreamClosed, "read", err)
		}
		return "", newError(ErrMalformedPayload, "read", errNetconnMessageLength)
	}

	p := make([]byte, l)
	_, err = io.ReadFull(rw.c, p)
	if err != nil {
		return "", newError(ErrStreamClosed, "read", err)
	}

	if !utf8.Valid(p) {
		return "", newError(ErrMalformedPayload, "read", errNetconnMessageFormat)
	}
	return Message(p), nil
}

func (rw *NetconnMRW) readLine() (Message, error) {
	var (
		p       []byte
		tooLong bool
	)
	for {
		frag, err := rw.c.ReadSlice('\n')
		if err != nil && err != bufio.ErrBufferFull {
			return "", newError(ErrStreamClosed, "read", err)
		}
		if !tooLong {
			p = append(p, frag...)
			if len(p) > rw.maxLen+2 {
				tooLong, p = true, nil
			}
		}
		if err == nil {
			break
		}
	}

	if tooLong {
		return "", newError(ErrMalformedPayload, "read", errNetconnMessageLength)
	}

	p = p[:len(p)-1]
	if n := len(p); n > 0 && p[n-1] == '\r' {
		p = p[:n-1]
	}
	if len(p) > rw.maxLen {
		return "", newError(ErrMalformedPayload, "read", errNetconnMessageLength)
	}
	if !utf8.Valid(p) {
		return "", newError(ErrMalformedPayload, "read", errNetconnMessageFormat)
	}
	return Message(p), nil
}

func (rw *NetconnMRW) WriteMessage(m Message) error {
	if len(m) > rw.maxLen {
		return newError(ErrSend, "write", errNetconnMessageLength)
	}
	if !utf8.ValidString(string(m)) {
		return newError(ErrSend, "write", errNetconnMessageFormat)
	}

	if rw.framing == FramingLine {
		if strings.ContainsAny(string(m), "\r\n") {
			return newError(ErrSend, "write", errNetconnLineBreak)
		}
		rw.c.WriteString(string(m))
		rw.c.WriteByte('\n')
	} else {
		err := binary.Write(rw.c, binary.BigEndian, uint32(len(m)))
		if err != nil {
			return newError(ErrSend, "write", err)
		}
		rw.c.WriteString(string(m))
	}

	if err := rw.c.Flush(); err != nil {
		return newError(ErrSend, "flush", err)
	}
	return nil
}

func (rw *NetconnMRW) SetWriteDeadline(t time.Time) error {
	return rw.c.conn.SetWriteDeadline(t)
}

func (rw *NetconnMRW) cancelWrite() {
	rw.c.conn.SetWriteDeadline(time.Now())
}

func (rw *NetconnMRW) resumeWrite() {
	rw.c.conn.SetWriteDeadline(time.Time{})
}

func (rw *NetconnMRW) Flush() error {
	return rw.c.Flush()
}

// CloseSend flushes what is buffered and half-closes the write side
// when the connection supports it.
func (rw *NetconnMRW) CloseSend() error {
	err := rw.c.Flush()
	if cw, ok := rw.c.conn.(interface{ CloseWrite() error }); ok {
		err = errors.Join(err, cw.CloseWrite())
	}
	return err
}

func (rw *NetconnMRW) CloseReceive() error {
	if cr, ok := rw.c.conn.(interface{ CloseRead() error }); ok {
		return cr.CloseRead()
	}
	return nil
}

func (rw *NetconnMRW) Close() error {
	return rw.c.conn.Close()
}
