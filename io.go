// Copyright 2017 someonegg. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package msgchat

import (
	"net"
	"time"
)

// Message is one transmitted unit of text.
type Message string

type MessageReader interface {
	ReadMessage() (m Message, err error)
}

type MessageWriter interface {
	WriteMessage(m Message) error
}

type MessageReadWriter interface {
	MessageReader
	MessageWriter
}

type Flusher interface {
	Flush() error
}

// WriteDeadliner is implemented by connections whose writes can time out.
type WriteDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// Conn is a message connection to exactly one remote peer.
//
// The send and receive sides can be released separately before the
// connection itself is closed.
type Conn interface {
	MessageReadWriter

	CloseSend() error
	CloseReceive() error
	Close() error

	RemoteAddr() net.Addr
}

// Framing selects the wire format of a net.Conn based Conn.
type Framing string

const (
	// FramingLength is Length(4-bytes int, big-endian)Text.
	FramingLength Framing = "length"
	// FramingLine is Text\n.
	FramingLine Framing = "line"
)
