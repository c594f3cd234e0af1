// Copyright 2017 someonegg. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package msgchat

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var errNilConn = errors.New("nil connection")

// writeCanceler is a Conn whose blocked write can be cut short from
// another goroutine.
type writeCanceler interface {
	cancelWrite()
	resumeWrite()
}

type Statistics struct {
	// from Conn
	ReadCount      int64
	ReadBytes      int64
	MalformedCount int64

	// to Conn
	WrittenCount int64
	WrittenBytes int64
	FailedCount  int64
}

// Session is the live pairing of one Conn with send/receive capability.
//
// Receive must be called from a single goroutine. Send may be called
// concurrently, one send is written and flushed before the next starts.
type Session struct {
	id  string
	c   Conn
	log *zap.Logger

	wmu          sync.Mutex
	writeTimeout atomic.Int64
	closed       atomic.Bool
	closeOnce sync.Once

	stat Statistics
}

// Open wraps c and flushes any initial framing state, so the peer's
// first read is not held back by buffered bytes. A websocket Conn is
// pinged instead, which detects an already closed connection.
func Open(c Conn, log *zap.Logger) (*Session, error) {
	if c == nil {
		return nil, newError(ErrTransportInit, "open", errNilConn)
	}
	if log == nil {
		log = zap.NewNop()
	}

	if f, ok := c.(Flusher); ok {
		if err := f.Flush(); err != nil {
			return nil, newError(ErrTransportInit, "flush", err)
		}
	}

	id := uuid.NewString()
	s := &Session{
		id:  id,
		c:   c,
		log: log.With(zap.String("session", id)),
	}
	s.log.Debug("session opened", zap.Stringer("remote", c.RemoteAddr()))
	return s, nil
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) RemoteAddr() net.Addr {
	return s.c.RemoteAddr()
}

// SetWriteTimeout bounds every later Send when the Conn supports write
// deadlines. Zero means no bound.
func (s *Session) SetWriteTimeout(d time.Duration) {
	s.writeTimeout.Store(int64(d))
}

// Receive blocks until one whole message is available.
//
// ErrMalformedPayload leaves the session usable, ErrStreamClosed does not.
func (s *Session) Receive() (Message, error) {
	if s.closed.Load() {
		return "", newError(ErrStreamClosed, "receive", net.ErrClosed)
	}

	m, err := s.c.ReadMessage()
	if err != nil {
		if errors.Is(err, ErrMalformedPayload) {
			atomic.AddInt64(&s.stat.MalformedCount, 1)
			return "", err
		}
		if !errors.Is(err, ErrStreamClosed) {
			err = newError(ErrStreamClosed, "receive", err)
		}
		return "", err
	}

	atomic.AddInt64(&s.stat.ReadCount, 1)
	atomic.AddInt64(&s.stat.ReadBytes, int64(len(m)))
	return m, nil
}

// Send writes text as one message and flushes it.
func (s *Session) Send(text string) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	if s.closed.Load() {
		atomic.AddInt64(&s.stat.FailedCount, 1)
		return newError(ErrSend, "send", net.ErrClosed)
	}

	if d := time.Duration(s.writeTimeout.Load()); d > 0 {
		if wd, ok := s.c.(WriteDeadliner); ok {
			if err := wd.SetWriteDeadline(time.Now().Add(d)); err != nil {
				atomic.AddInt64(&s.stat.FailedCount, 1)
				return newError(ErrSend, "deadline", err)
			}
		}
	}

	err := s.c.WriteMessage(Message(text))
	if err != nil {
		atomic.AddInt64(&s.stat.FailedCount, 1)
		if !errors.Is(err, ErrSend) {
			err = newError(ErrSend, "send", err)
		}
		return err
	}

	atomic.AddInt64(&s.stat.WrittenCount, 1)
	atomic.AddInt64(&s.stat.WrittenBytes, int64(len(text)))
	return nil
}

// Close releases the send side, the receive side and the connection, in
// that order. Every step is attempted, failures are only logged.
//
// Close cuts short an in-flight Send on a net.Conn based Conn, and
// waits for it. It is safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		wc, _ := s.c.(writeCanceler)
		if wc != nil {
			wc.cancelWrite()
		}

		s.wmu.Lock()
		s.closed.Store(true)
		s.wmu.Unlock()

		if wc != nil {
			wc.resumeWrite()
		}

		if err := s.c.CloseSend(); err != nil {
			s.log.Warn("close send side", zap.Error(err))
		}
		if err := s.c.CloseReceive(); err != nil {
			s.log.Warn("close receive side", zap.Error(err))
		}
		if err := s.c.Close(); err != nil {
			s.log.Warn("close connection", zap.Error(err))
		}

		st := s.Statistics()
		s.log.Debug("session closed",
			zap.Int64("read_count", st.ReadCount),
			zap.Int64("read_bytes", st.ReadBytes),
			zap.Int64("malformed_count", st.MalformedCount),
			zap.Int64("written_count", st.WrittenCount),
			zap.Int64("written_bytes", st.WrittenBytes),
			zap.Int64("failed_count", st.FailedCount))
	})
}

func (s *Session) Closed() bool {
	return s.closed.Load()
}

func (s *Session) Statistics() Statistics {
	return Statistics{
		ReadCount:      atomic.LoadInt64(&s.stat.ReadCount),
		ReadBytes:      atomic.LoadInt64(&s.stat.ReadBytes),
		MalformedCount: atomic.LoadInt64(&s.stat.MalformedCount),
		WrittenCount:   atomic.LoadInt64(&s.stat.WrittenCount),
		WrittenBytes:   atomic.LoadInt64(&s.stat.WrittenBytes),
		FailedCount:    atomic.LoadInt64(&s.stat.FailedCount),
	}
}

// UnderlyingConn returns the wrapped connection.
func (s *Session) UnderlyingConn() Conn {
	return s.c
}
