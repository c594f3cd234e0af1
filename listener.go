// Copyright 2017 someonegg. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package msgchat

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var errUnknownTransport = errors.New("unknown transport")

// Transport selects how connections are accepted.
type Transport string

const (
	TransportTCP       Transport = "tcp"
	TransportWebsocket Transport = "websocket"
)

// Listener hands out accepted connections one at a time.
//
// Accept fails with net.ErrClosed after Close, and with ErrTransportInit
// when a connection was accepted but could not be wrapped. Any other
// error means the listener is unusable.
type Listener interface {
	Accept() (Conn, error)
	Close() error
	Addr() net.Addr
}

type ListenConfig struct {
	Host string
	Port int
	// Backlog is how many accepted connections may wait while one is
	// being served. Later ones are refused.
	Backlog int

	Transport Transport
	// Path is the websocket endpoint, "/" if empty.
	Path string

	Framing          Framing
	MaxMessageLength int
}

func (c ListenConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Listen binds the listening endpoint, failing with a *BindError.
func Listen(cfg ListenConfig, log *zap.Logger) (Listener, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Backlog <= 0 {
		cfg.Backlog = 1
	}
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = NetconnMessageMaxLength
	}

	addr := cfg.Address()
	switch cfg.Transport {
	case "", TransportTCP, TransportWebsocket:
	default:
		return nil, &BindError{Addr: addr, Err: fmt.Errorf("%w: %q", errUnknownTransport, cfg.Transport)}
	}

	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, &BindError{Addr: addr, Err: err}
	}

	b := &backlog{
		log:     log,
		pending: make(chan pendingConn, cfg.Backlog),
		errC:    make(chan error, 1),
	}

	if cfg.Transport == TransportWebsocket {
		return newWebsocketListener(l, cfg, b), nil
	}
	return newTCPListener(l, cfg, b), nil
}

type pendingConn struct {
	c      Conn
	raw    net.Conn
	closer func()
}

// backlog is the wait queue shared by both listeners.
type backlog struct {
	log *zap.Logger

	locker  sync.Mutex
	closed  bool
	pending chan pendingConn
	errC    chan error
}

// push queues p, or refuses it when the queue is full or closed.
func (b *backlog) push(p pendingConn, remote net.Addr) {
	b.locker.Lock()
	defer b.locker.Unlock()

	if !b.closed {
		select {
		case b.pending <- p:
			return
		default:
			b.log.Warn("backlog full, refusing connection", zap.Stringer("remote", remote))
		}
	}
	p.closer()
}

func (b *backlog) fail(err error) {
	select {
	case b.errC <- err:
	default:
	}
}

func (b *backlog) accept() (pendingConn, error) {
	select {
	case p, ok := <-b.pending:
		if !ok {
			return pendingConn{}, net.ErrClosed
		}
		return p, nil
	case err := <-b.errC:
		b.errC <- err
		return pendingConn{}, err
	}
}

func (b *backlog) close() {
	b.locker.Lock()
	defer b.locker.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	close(b.pending)
	for p := range b.pending {
		p.closer()
	}
}

type tcpListener struct {
	l       net.Listener
	framing Framing
	maxLen  int
	*backlog
}

func newTCPListener(l net.Listener, cfg ListenConfig, b *backlog) *tcpListener {
	t := &tcpListener{
		l:       l,
		framing: cfg.Framing,
		maxLen:  cfg.MaxMessageLength,
		backlog: b,
	}
	go t.accepting()
	return t
}

func (t *tcpListener) accepting() {
	var delay time.Duration
	for {
		c, err := t.l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				delay = acceptDelay(delay)
				t.log.Warn("accept error, retrying", zap.Error(err), zap.Duration("delay", delay))
				time.Sleep(delay)
				continue
			}
			t.fail(err)
			return
		}
		delay = 0

		t.push(pendingConn{raw: c, closer: func() { c.Close() }}, c.RemoteAddr())
	}
}

func (t *tcpListener) Accept() (Conn, error) {
	p, err := t.accept()
	if err != nil {
		return nil, err
	}

	mrw, err := NewNetconnMRW(p.raw, t.framing, t.maxLen)
	if err != nil {
		p.raw.Close()
		return nil, err
	}
	return mrw, nil
}

func (t *tcpListener) Close() error {
	err := t.l.Close()
	t.close()
	return err
}

func (t *tcpListener) Addr() net.Addr {
	return t.l.Addr()
}

type websocketListener struct {
	l        net.Listener
	srv      *http.Server
	path     string
	upgrader websocket.Upgrader
	maxLen   int
	*backlog
}

func newWebsocketListener(l net.Listener, cfg ListenConfig, b *backlog) *websocketListener {
	w := &websocketListener{
		l:    l,
		path: cfg.Path,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		maxLen:  cfg.MaxMessageLength,
		backlog: b,
	}
	if w.path == "" {
		w.path = "/"
	}

	mux := http.NewServeMux()
	mux.HandleFunc(w.path, w.handle)
	w.srv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go w.serve()
	return w
}

func (w *websocketListener) serve() {
	err := w.srv.Serve(w.l)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		w.fail(err)
	}
}

func (w *websocketListener) handle(rw http.ResponseWriter, r *http.Request) {
	conn, err := w.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		w.log.Warn("websocket upgrade failed", zap.Error(err), zap.String("remote", r.RemoteAddr))
		return
	}
	conn.SetReadLimit(int64(w.maxLen))

	refuse := func() {
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "busy")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(websocketCloseTimeout))
		conn.Close()
	}
	w.push(pendingConn{c: WebsocketMRW(conn), closer: refuse}, conn.RemoteAddr())
}

func (w *websocketListener) Accept() (Conn, error) {
	p, err := w.accept()
	if err != nil {
		return nil, err
	}
	return p.c, nil
}

func (w *websocketListener) Close() error {
	err := w.srv.Close()
	w.close()
	return err
}

func (w *websocketListener) Addr() net.Addr {
	return w.l.Addr()
}

func acceptDelay(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	d *= 2
	if d > time.Second {
		d = time.Second
	}
	return d
}
