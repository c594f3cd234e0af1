// Copyright 2017 someonegg. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package msgchat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/someonegg/gox/syncx"
	"go.uber.org/zap"
)

const (
	DefaultPort           = 6789
	DefaultBacklog        = 100
	DefaultPrefix         = "SERVER - "
	DefaultSentinel       = "CLIENT - END"
	DefaultInputQueueSize = 100
	DefaultWriteTimeout   = 10 * time.Second

	hostLookupTimeout = 500 * time.Millisecond
)

// Notification texts.
const (
	NoticeWaiting      = "Waiting for someone to connect..."
	NoticeConnected    = "Now connected to "
	NoticeStreamsReady = "Streams are now set up!"
	NoticeReady        = "You are now connected!"
	NoticeEnded        = "The connection was ended by the other side."
	NoticeMalformed    = "The user sent something we can't understand as text."
	NoticeNotSent      = "ERROR: Message not sent."
	NoticeClosing      = "Closing connections..."
)

// State is the server lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateListening
	StateActive
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

type Options struct {
	Host      string
	Transport Transport
	// Path is the websocket endpoint.
	Path string

	Framing          Framing
	MaxMessageLength int

	// Prefix tags every message sent by this side, DefaultPrefix if empty.
	Prefix string
	// Sentinel ends the exchange when received, DefaultSentinel if empty.
	Sentinel string

	// InputQueueSize bounds the locally submitted text waiting to be sent.
	InputQueueSize int
	// WriteTimeout bounds every send, DefaultWriteTimeout if zero and
	// unbounded if negative.
	WriteTimeout time.Duration
	// LookupHost resolves the peer's host name for the connected notice.
	LookupHost bool

	// Dump, if set, receives a MessageDump of every session.
	Dump io.Writer

	Collaborator Collaborator
	Logger       *zap.Logger
}

// Server serves one peer at a time on one listening endpoint, and goes
// back to listening after every session.
//
// Server supports concurrently access.
type Server struct {
	opts Options
	log  *zap.Logger
	n    *notifier

	state  atomic.Int32
	typing atomic.Bool
	inputC chan string

	locker  sync.Mutex
	l       Listener
	serving syncx.DoneChan
	closed  bool
}

// NewServer allocates and returns a new Server in the idle state.
//
// Close must be called to release it.
func NewServer(opts Options) *Server {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.Sentinel == "" {
		opts.Sentinel = DefaultSentinel
	}
	if opts.InputQueueSize <= 0 {
		opts.InputQueueSize = DefaultInputQueueSize
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Server{
		opts:   opts,
		log:    opts.Logger,
		n:      newNotifier(opts.Collaborator, opts.Logger),
		inputC: make(chan string, opts.InputQueueSize),
	}
}

// Start binds the listening endpoint. It fails with a *BindError when the
// port is unavailable.
func (s *Server) Start(port, backlog int) error {
	s.locker.Lock()
	defer s.locker.Unlock()

	if s.closed {
		return ErrServerClosed
	}
	if s.l != nil {
		return ErrServerStarted
	}

	l, err := Listen(ListenConfig{
		Host:             s.opts.Host,
		Port:             port,
		Backlog:          backlog,
		Transport:        s.opts.Transport,
		Path:             s.opts.Path,
		Framing:          s.opts.Framing,
		MaxMessageLength: s.opts.MaxMessageLength,
	}, s.log)
	if err != nil {
		s.log.Error("listen failed", zap.Error(err))
		s.n.message(fmt.Sprintf("ERROR: %v", err))
		return err
	}

	s.l = l
	s.log.Info("listening",
		zap.Stringer("addr", l.Addr()),
		zap.Int("backlog", backlog),
		zap.String("transport", string(s.opts.Transport)))
	s.setState(StateListening)
	return nil
}

// Addr returns the bound address, nil before Start.
func (s *Server) Addr() net.Addr {
	if l := s.listener(); l != nil {
		return l.Addr()
	}
	return nil
}

func (s *Server) listener() Listener {
	s.locker.Lock()
	defer s.locker.Unlock()
	return s.l
}

func (s *Server) beginServe() (Listener, syncx.DoneChan, error) {
	s.locker.Lock()
	defer s.locker.Unlock()

	switch {
	case s.closed:
		return nil, nil, ErrServerClosed
	case s.l == nil:
		return nil, nil, ErrNotStarted
	case s.serving != nil && !s.serving.R().Done():
		return nil, nil, ErrServing
	}
	s.serving = syncx.NewDoneChan()
	return s.l, s.serving, nil
}

func (s *Server) isClosed() bool {
	s.locker.Lock()
	defer s.locker.Unlock()
	return s.closed
}

// Serve runs the accept cycle until ctx is done or the server is closed,
// then returns nil. Only an unrecoverable accept failure is returned.
func (s *Server) Serve(ctx context.Context) error {
	l, serving, err := s.beginServe()
	if err != nil {
		return err
	}
	defer serving.SetDone()

	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()
	defer s.setState(StateIdle)

	for {
		s.setState(StateListening)
		s.n.message(NoticeWaiting)

		c, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			if errors.Is(err, ErrTransportInit) {
				s.log.Warn("connection setup failed", zap.Error(err))
				s.n.message(fmt.Sprintf("ERROR: connection setup failed: %v", err))
				continue
			}
			s.log.Error("accept failed", zap.Error(err))
			s.n.message(fmt.Sprintf("ERROR: accept failed: %v", err))
			return fmt.Errorf("accept: %w", err)
		}

		s.serveConn(ctx, c)

		if ctx.Err() != nil || s.isClosed() {
			return nil
		}
	}
}

// Submit queues locally submitted text to be sent on the active session.
// It fails with ErrTypingDisabled when no session is active.
func (s *Server) Submit(ctx context.Context, text string) error {
	if !s.typing.Load() {
		return ErrTypingDisabled
	}

	select {
	case s.inputC <- text:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) State() State {
	return State(s.state.Load())
}

func (s *Server) TypingEnabled() bool {
	return s.typing.Load()
}

// Close releases the listening endpoint, which ends Serve. An active
// session is served to its end first, Close waits for Serve to return
// and for every notification to be delivered.
func (s *Server) Close() error {
	s.locker.Lock()
	s.closed = true
	l, serving := s.l, s.serving
	s.locker.Unlock()

	var err error
	if l != nil {
		err = l.Close()
		if errors.Is(err, net.ErrClosed) {
			err = nil
		}
	}
	if serving != nil {
		<-serving
	}
	s.n.stop()
	return err
}

func (s *Server) setState(st State) {
	old := State(s.state.Swap(int32(st)))
	if old != st {
		s.log.Debug("state changed", zap.Stringer("from", old), zap.Stringer("to", st))
	}
}

func (s *Server) setTyping(enabled bool) {
	if s.typing.Swap(enabled) != enabled {
		s.n.typing(enabled)
	}
}

// drainInput drops text that was submitted for a session that is gone.
func (s *Server) drainInput() {
	for {
		select {
		case text := <-s.inputC:
			s.log.Debug("dropping unsent text", zap.Int("len", len(text)))
			s.n.message(NoticeNotSent)
		default:
			return
		}
	}
}

func (s *Server) hostName(ctx context.Context, addr net.Addr) string {
	if addr == nil {
		return "unknown"
	}

	host := addr.String()
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if !s.opts.LookupHost {
		return host
	}

	ctx, cancel := context.WithTimeout(ctx, hostLookupTimeout)
	defer cancel()
	names, err := net.DefaultResolver.LookupAddr(ctx, host)
	if err != nil || len(names) == 0 {
		return host
	}
	return strings.TrimSuffix(names[0], ".")
}
