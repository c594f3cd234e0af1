// Copyright 2017 someonegg. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package msgchat

import (
	"context"
	"errors"
	"fmt"

	"github.com/someonegg/gox/syncx"
	"go.uber.org/zap"
)

type endReason int

const (
	endStopped endReason = iota
	endSentinel
	endDisconnected
)

func (r endReason) String() string {
	switch r {
	case endSentinel:
		return "sentinel"
	case endDisconnected:
		return "disconnected"
	default:
		return "stopped"
	}
}

type received struct {
	m   Message
	err error
}

// pump runs the message loop of one session. It has a reading goroutine
// feeding the loop, the loop itself sends local text and echoes what was
// received.
type pump struct {
	s    *Server
	sess *Session
	log  *zap.Logger

	readC chan received
	quitD syncx.DoneChan
	readD syncx.DoneChan
}

func newPump(s *Server, sess *Session) *pump {
	return &pump{
		s:     s,
		sess:  sess,
		log:   s.log.With(zap.String("session", sess.ID())),
		readC: make(chan received),
		quitD: syncx.NewDoneChan(),
		readD: syncx.NewDoneChan(),
	}
}

func (s *Server) serveConn(ctx context.Context, c Conn) {
	if s.opts.Dump != nil {
		c = &MessageDump{Conn: c, Dump: s.opts.Dump}
	}

	host := s.hostName(ctx, c.RemoteAddr())
	s.n.message(NoticeConnected + host)

	sess, err := Open(c, s.log)
	if err != nil {
		s.log.Warn("session open failed", zap.Error(err))
		s.n.message(fmt.Sprintf("ERROR: connection setup failed: %v", err))
		if err := c.Close(); err != nil {
			s.log.Debug("close connection", zap.Error(err))
		}
		return
	}
	s.n.message(NoticeStreamsReady)
	s.log.Info("session started", zap.String("session", sess.ID()), zap.String("host", host))

	sess.SetWriteTimeout(s.opts.WriteTimeout)
	// a stop request also reaches a send blocked on the peer
	stopClose := context.AfterFunc(ctx, sess.Close)
	defer stopClose()

	p := newPump(s, sess)
	p.start()

	s.drainInput()
	s.setState(StateActive)
	s.n.message(NoticeReady)
	s.setTyping(true)

	reason := p.run(ctx)

	s.setState(StateClosing)
	s.setTyping(false)
	p.stop()
	s.drainInput()
	s.n.message(NoticeClosing)
	s.log.Info("session ended", zap.String("session", sess.ID()), zap.Stringer("reason", reason))
}

func (p *pump) start() {
	go p.reading()
}

// stop closes the session and waits for the reading goroutine.
func (p *pump) stop() {
	p.quitD.SetDone()
	p.sess.Close()
	<-p.readD
}

func (p *pump) reading() {
	defer p.readD.SetDone()

	for {
		m, err := p.sess.Receive()

		select {
		case p.readC <- received{m, err}:
		case <-p.quitD:
			return
		}

		switch {
		case err == nil:
			if string(m) == p.s.opts.Sentinel {
				return
			}
		case errors.Is(err, ErrMalformedPayload):
		default:
			return
		}
	}
}

func (p *pump) run(ctx context.Context) endReason {
	for {
		if ctx.Err() != nil {
			return endStopped
		}

		select {
		case <-ctx.Done():
			return endStopped

		case text := <-p.s.inputC:
			p.send(text)

		case r := <-p.readC:
			if r.err != nil {
				if ctx.Err() != nil {
					return endStopped
				}
				if errors.Is(r.err, ErrMalformedPayload) {
					p.log.Warn("malformed payload", zap.Error(r.err))
					p.s.n.message(NoticeMalformed)
					continue
				}
				p.log.Info("stream closed", zap.Error(r.err))
				p.s.n.message(NoticeEnded)
				return endDisconnected
			}

			text := string(r.m)
			p.s.n.message(text)
			if text == p.s.opts.Sentinel {
				return endSentinel
			}
			p.send(text)
		}
	}
}

// send tags text with the local prefix. A failure is reported and the
// session goes on.
func (p *pump) send(text string) {
	out := p.s.opts.Prefix + text
	if err := p.sess.Send(out); err != nil {
		p.log.Warn("send failed", zap.Error(err))
		p.s.n.message(NoticeNotSent)
		return
	}
	p.s.n.message(out)
}
