// Copyright 2017 someonegg. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package msgchat

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// MessageDump is a debugging helper, it wraps a Conn and dumps every
// message that passes through it.
//
// The dump format is:
//
//	R|W:MessageSize\nMessage\n\n
type MessageDump struct {
	Conn
	Dump io.Writer

	// Filter can be nil. If nil, dump all messages.
	Filter func(m Message, read bool) bool

	mu sync.Mutex
}

func (d *MessageDump) needDump(m Message, read bool) bool {
	if d.Filter != nil {
		return d.Filter(m, read)
	}
	return true
}

func (d *MessageDump) dump(m Message, read bool) {
	if !d.needDump(m, read) {
		return
	}

	dir := "W"
	if read {
		dir = "R"
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	fmt.Fprintf(d.Dump, "%s:%v\n%s\n\n", dir, len(m), m)
}

func (d *MessageDump) ReadMessage() (m Message, err error) {
	m, err = d.Conn.ReadMessage()
	if err != nil {
		return
	}
	d.dump(m, true)
	return
}

func (d *MessageDump) WriteMessage(m Message) (err error) {
	err = d.Conn.WriteMessage(m)
	if err != nil {
		return
	}
	d.dump(m, false)
	return
}

func (d *MessageDump) SetWriteDeadline(t time.Time) error {
	if wd, ok := d.Conn.(WriteDeadliner); ok {
		return wd.SetWriteDeadline(t)
	}
	return nil
}

func (d *MessageDump) cancelWrite() {
	if wc, ok := d.Conn.(writeCanceler); ok {
		wc.cancelWrite()
	}
}

func (d *MessageDump) resumeWrite() {
	if wc, ok := d.Conn.(writeCanceler); ok {
		wc.resumeWrite()
	}
}

func (d *MessageDump) Flush() error {
	if f, ok := d.Conn.(Flusher); ok {
		return f.Flush()
	}
	return nil
}
