package msgchat

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recorder struct {
	mu     sync.Mutex
	msgs   []string
	typing []bool
}

func (r *recorder) OnMessage(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, text)
}

func (r *recorder) OnTypingEnabledChanged(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.typing = append(r.typing, enabled)
}

func (r *recorder) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

func (r *recorder) typings() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.typing...)
}

func newTestServer(t *testing.T) (*Server, *recorder) {
	rec := &recorder{}
	srv := NewServer(Options{
		Collaborator: rec,
		Logger:       zaptest.NewLogger(t),
	})
	return srv, rec
}

func TestPumpSentinel(test *testing.T) {
	srv, rec := newTestServer(test)

	c := &mockConn{}
	c.queue(Message("hello"), Message(DefaultSentinel), Message("after"))

	srv.serveConn(context.Background(), c)
	require.NoError(test, srv.Close())

	assert.Equal(test, []string{
		"Now connected to 127.0.0.1",
		NoticeStreamsReady,
		NoticeReady,
		"hello",
		"SERVER - hello",
		DefaultSentinel,
		NoticeClosing,
	}, rec.messages())
	assert.Equal(test, []bool{true, false}, rec.typings())

	// nothing sent after the sentinel, nothing read after it either
	assert.Equal(test, []Message{"SERVER - hello"}, c.written())
	assert.Len(test, c.rq, 1)
	assert.Equal(test, []string{"send", "receive", "conn"}, c.closeCalls())
	assert.Equal(test, StateClosing, srv.State())
	assert.False(test, srv.TypingEnabled())
}

func TestPumpDisconnect(test *testing.T) {
	srv, rec := newTestServer(test)

	c := &mockConn{}
	c.queue(Message("hi"))

	srv.serveConn(context.Background(), c)
	require.NoError(test, srv.Close())

	msgs := rec.messages()
	assert.Equal(test, []string{"hi", "SERVER - hi", NoticeEnded, NoticeClosing}, msgs[3:])
	assert.Equal(test, []Message{"SERVER - hi"}, c.written())
	assert.Equal(test, []string{"send", "receive", "conn"}, c.closeCalls())
}

func TestPumpMalformedContinues(test *testing.T) {
	srv, rec := newTestServer(test)

	c := &mockConn{}
	c.queue(
		newError(ErrMalformedPayload, "read", errors.New("not text")),
		Message("x"),
		Message(DefaultSentinel),
	)

	srv.serveConn(context.Background(), c)
	require.NoError(test, srv.Close())

	assert.Equal(test, []string{
		NoticeMalformed, "x", "SERVER - x", DefaultSentinel, NoticeClosing,
	}, rec.messages()[3:])
}

func TestPumpSendErrorContinues(test *testing.T) {
	srv, rec := newTestServer(test)

	c := &mockConn{wmax: 1}
	c.queue(Message("a"), Message("b"), Message(DefaultSentinel))

	srv.serveConn(context.Background(), c)
	require.NoError(test, srv.Close())

	assert.Equal(test, []string{
		"a", "SERVER - a", "b", NoticeNotSent, DefaultSentinel, NoticeClosing,
	}, rec.messages()[3:])
	assert.Equal(test, []Message{"SERVER - a"}, c.written())
}

func TestPumpLocalTextAndStop(test *testing.T) {
	srv, rec := newTestServer(test)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	assert.ErrorIs(test, srv.Submit(ctx, "too early"), ErrTypingDisabled)

	c := &mockConn{rsus: make(chan bool)}
	doneC := make(chan struct{})
	go func() {
		defer close(doneC)
		srv.serveConn(ctx, c)
	}()

	require.Eventually(test, srv.TypingEnabled, time.Second, time.Millisecond)
	assert.Equal(test, StateActive, srv.State())

	require.NoError(test, srv.Submit(ctx, "typed"))
	require.Eventually(test, func() bool {
		return len(c.written()) == 1
	}, time.Second, time.Millisecond)
	assert.Equal(test, []Message{"SERVER - typed"}, c.written())

	cancel()
	select {
	case <-doneC:
	case <-time.After(time.Second):
		test.Fatal("stop not honored")
	}

	assert.False(test, srv.TypingEnabled())
	assert.Equal(test, []string{"send", "receive", "conn"}, c.closeCalls())
	assert.ErrorIs(test, srv.Submit(context.Background(), "too late"), ErrTypingDisabled)

	require.NoError(test, srv.Close())
	assert.Contains(test, rec.messages(), "SERVER - typed")
	assert.Equal(test, NoticeClosing, rec.messages()[len(rec.messages())-1])
}

func TestPumpOpenFailure(test *testing.T) {
	srv, rec := newTestServer(test)

	c := &failingFlushConn{}
	srv.serveConn(context.Background(), c)
	require.NoError(test, srv.Close())

	msgs := rec.messages()
	require.Len(test, msgs, 2)
	assert.True(test, strings.HasPrefix(msgs[1], "ERROR: connection setup failed"))
	assert.Empty(test, rec.typings())
	assert.Equal(test, []string{"conn"}, c.closeCalls())
}

func TestPumpDump(test *testing.T) {
	rec := &recorder{}
	var dump strings.Builder
	srv := NewServer(Options{
		Collaborator: rec,
		Prefix:       "S> ",
		Sentinel:     "bye",
		Dump:         &dump,
	})

	c := &mockConn{}
	c.queue(Message("yo"), Message("bye"))

	srv.serveConn(context.Background(), c)
	require.NoError(test, srv.Close())

	assert.Equal(test, []Message{"S> yo"}, c.written())
	// reads and writes interleave, each entry is whole
	out := dump.String()
	assert.Contains(test, out, "R:2\nyo\n\n")
	assert.Contains(test, out, "W:5\nS> yo\n\n")
	assert.Contains(test, out, "R:3\nbye\n\n")
	assert.Len(test, out, len("R:2\nyo\n\nW:5\nS> yo\n\nR:3\nbye\n\n"))
}

func TestPumpStopUnblocksSend(test *testing.T) {
	srv, rec := newTestServer(test)

	a, b := net.Pipe()
	defer b.Close()
	c, err := NewNetconnMRW(a, FramingLength, 0)
	require.NoError(test, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	doneC := make(chan struct{})
	go func() {
		defer close(doneC)
		srv.serveConn(ctx, c)
	}()

	require.Eventually(test, srv.TypingEnabled, time.Second, time.Millisecond)

	// the peer never reads, the send blocks
	require.NoError(test, srv.Submit(ctx, "never read"))
	time.Sleep(20 * time.Millisecond)

	cancel()
	select {
	case <-doneC:
	case <-time.After(time.Second):
		test.Fatal("stop not honored while sending")
	}

	require.NoError(test, srv.Close())
	msgs := rec.messages()
	assert.Contains(test, msgs, NoticeNotSent)
	assert.NotContains(test, msgs, NoticeEnded)
	assert.Equal(test, NoticeClosing, msgs[len(msgs)-1])
	assert.False(test, srv.TypingEnabled())
}
