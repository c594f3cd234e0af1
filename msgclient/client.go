// Copyright 2019 someonegg. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package msgclient

import (
	"context"
	"errors"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/someonegg/gox/syncx"
	"go.uber.org/zap"

	"github.com/someonegg/msgchat"
)

// Handler is the message processor.
type Handler interface {
	Process(ctx context.Context, m msgchat.Message)
}

// The HandlerFunc type is an adapter to allow the use of
// ordinary functions as message handlers.
type HandlerFunc func(ctx context.Context, m msgchat.Message)

// Process calls f(ctx, m).
func (f HandlerFunc) Process(ctx context.Context, m msgchat.Message) {
	f(ctx, m)
}

type Options struct {
	Transport msgchat.Transport
	// Path is the websocket endpoint.
	Path string

	Framing          msgchat.Framing
	MaxMessageLength int

	// Sentinel is sent by Bye, msgchat.DefaultSentinel if empty.
	Sentinel string
	// WriteTimeout bounds every send, zero means no bound.
	WriteTimeout time.Duration

	Logger *zap.Logger
}

// Client is the peer side of a msgchat server.
//
// Client supports concurrently access.
type Client struct {
	sess     *msgchat.Session
	sentinel string
	log      *zap.Logger

	quitF context.CancelFunc
	stopD syncx.DoneChan
	once  sync.Once

	bye atomic.Bool
	err error
}

// Dial connects to the server at addr (host:port).
func Dial(ctx context.Context, addr string, opts Options) (*Client, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Sentinel == "" {
		opts.Sentinel = msgchat.DefaultSentinel
	}

	var (
		c   msgchat.Conn
		err error
	)
	switch opts.Transport {
	case msgchat.TransportWebsocket:
		c, err = dialWebsocket(ctx, addr, opts)
	default:
		c, err = dialTCP(ctx, addr, opts)
	}
	if err != nil {
		return nil, err
	}

	sess, err := msgchat.Open(c, opts.Logger)
	if err != nil {
		c.Close()
		return nil, err
	}
	sess.SetWriteTimeout(opts.WriteTimeout)

	return &Client{
		sess:     sess,
		sentinel: opts.Sentinel,
		log:      opts.Logger,
		stopD:    syncx.NewDoneChan(),
	}, nil
}

func dialTCP(ctx context.Context, addr string, opts Options) (msgchat.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	mrw, err := msgchat.NewNetconnMRW(conn, opts.Framing, opts.MaxMessageLength)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return mrw, nil
}

func dialWebsocket(ctx context.Context, addr string, opts Options) (msgchat.Conn, error) {
	path := opts.Path
	if path == "" {
		path = "/"
	}
	u := url.URL{Scheme: "ws", Host: addr, Path: path}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}
	if opts.MaxMessageLength > 0 {
		conn.SetReadLimit(int64(opts.MaxMessageLength))
	}
	return msgchat.WebsocketMRW(conn), nil
}

// Start will start the reading loop, every received message is passed
// to h.
func (c *Client) Start(parent context.Context, h Handler) {
	if parent == nil {
		parent = context.Background()
	}

	var ctx context.Context
	ctx, c.quitF = context.WithCancel(parent)

	go c.reading(ctx, h)
	go func() {
		select {
		case <-ctx.Done():
			c.sess.Close()
		case <-c.stopD:
		}
	}()
}

func (c *Client) reading(ctx context.Context, h Handler) {
	defer c.stopD.SetDone()
	defer c.sess.Close()

	for {
		m, err := c.sess.Receive()
		if err != nil {
			if errors.Is(err, msgchat.ErrMalformedPayload) {
				c.log.Warn("malformed payload", zap.Error(err))
				continue
			}
			if ctx.Err() == nil && !c.bye.Load() {
				c.err = err
			}
			return
		}

		h.Process(ctx, m)
	}
}

// Send sends text as one message.
func (c *Client) Send(text string) error {
	return c.sess.Send(text)
}

// Bye sends the sentinel, the server will end the session.
func (c *Client) Bye() error {
	c.bye.Store(true)
	return c.sess.Send(c.sentinel)
}

// Stop requests to stop the client, the reading loop will stop
// asynchronously.
func (c *Client) Stop() {
	c.once.Do(func() {
		if c.quitF != nil {
			c.quitF()
		} else {
			c.sess.Close()
			c.stopD.SetDone()
		}
	})
}

// StopD returns a done channel, it will be signaled when the client is
// stopped.
func (c *Client) StopD() syncx.DoneChanR {
	return c.stopD.R()
}

func (c *Client) Stopped() bool {
	return c.stopD.R().Done()
}

// Error can only be called after client stopped. A disconnect following
// Bye or Stop is not an error.
func (c *Client) Error() error {
	return c.err
}

func (c *Client) Statistics() msgchat.Statistics {
	return c.sess.Statistics()
}
