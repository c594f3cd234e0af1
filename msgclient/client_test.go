package msgclient_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/someonegg/msgchat"
	"github.com/someonegg/msgchat/msgclient"
)

type collector struct {
	mu   sync.Mutex
	msgs []msgchat.Message
}

func (c *collector) Process(ctx context.Context, m msgchat.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, m)
}

func (c *collector) messages() []msgchat.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]msgchat.Message(nil), c.msgs...)
}

func startServer(t *testing.T, opts msgchat.Options) *msgchat.Server {
	t.Helper()

	opts.Host = "127.0.0.1"
	opts.Logger = zaptest.NewLogger(t)
	srv := msgchat.NewServer(opts)
	require.NoError(t, srv.Start(0, 10))

	ctx, cancel := context.WithCancel(context.Background())
	doneC := make(chan struct{})
	go func() {
		defer close(doneC)
		srv.Serve(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		<-doneC
		srv.Close()
	})
	return srv
}

func waitStopped(t *testing.T, c *msgclient.Client) {
	t.Helper()
	select {
	case <-c.StopD():
	case <-time.After(2 * time.Second):
		t.Fatal("client not stopped")
	}
}

func TestClientEchoAndBye(test *testing.T) {
	srv := startServer(test, msgchat.Options{})

	c, err := msgclient.Dial(context.Background(), srv.Addr().String(), msgclient.Options{
		Logger: zaptest.NewLogger(test),
	})
	require.NoError(test, err)

	col := &collector{}
	c.Start(nil, col)

	require.NoError(test, c.Send("ping"))
	require.Eventually(test, func() bool {
		return len(col.messages()) == 1
	}, 2*time.Second, time.Millisecond)
	assert.Equal(test, []msgchat.Message{"SERVER - ping"}, col.messages())

	require.NoError(test, c.Bye())
	waitStopped(test, c)

	assert.True(test, c.Stopped())
	assert.NoError(test, c.Error())
	st := c.Statistics()
	assert.EqualValues(test, 2, st.WrittenCount)
	assert.EqualValues(test, 1, st.ReadCount)
}

func TestClientServerGone(test *testing.T) {
	srv := msgchat.NewServer(msgchat.Options{Host: "127.0.0.1"})
	require.NoError(test, srv.Start(0, 1))
	ctx, cancel := context.WithCancel(context.Background())
	doneC := make(chan struct{})
	go func() {
		defer close(doneC)
		srv.Serve(ctx)
	}()

	c, err := msgclient.Dial(context.Background(), srv.Addr().String(), msgclient.Options{})
	require.NoError(test, err)
	c.Start(nil, &collector{})

	require.Eventually(test, srv.TypingEnabled, 2*time.Second, time.Millisecond)
	cancel()
	<-doneC
	srv.Close()

	waitStopped(test, c)
	assert.ErrorIs(test, c.Error(), msgchat.ErrStreamClosed)
}

func TestClientStop(test *testing.T) {
	srv := startServer(test, msgchat.Options{})

	c, err := msgclient.Dial(context.Background(), srv.Addr().String(), msgclient.Options{})
	require.NoError(test, err)
	c.Start(nil, &collector{})

	c.Stop()
	c.Stop()
	waitStopped(test, c)
	assert.NoError(test, c.Error())
	assert.ErrorIs(test, c.Send("late"), msgchat.ErrSend)
}

func TestClientStopBeforeStart(test *testing.T) {
	srv := startServer(test, msgchat.Options{})

	c, err := msgclient.Dial(context.Background(), srv.Addr().String(), msgclient.Options{})
	require.NoError(test, err)

	c.Stop()
	assert.True(test, c.Stopped())
}

func TestClientContextCancel(test *testing.T) {
	srv := startServer(test, msgchat.Options{})

	c, err := msgclient.Dial(context.Background(), srv.Addr().String(), msgclient.Options{})
	require.NoError(test, err)

	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx, &collector{})
	cancel()

	waitStopped(test, c)
	assert.NoError(test, c.Error())
}

func TestClientLineFraming(test *testing.T) {
	srv := startServer(test, msgchat.Options{Framing: msgchat.FramingLine})

	c, err := msgclient.Dial(context.Background(), srv.Addr().String(), msgclient.Options{
		Framing: msgchat.FramingLine,
	})
	require.NoError(test, err)

	col := &collector{}
	c.Start(nil, col)

	require.NoError(test, c.Send("by line"))
	require.Eventually(test, func() bool {
		return len(col.messages()) == 1
	}, 2*time.Second, time.Millisecond)
	assert.Equal(test, msgchat.Message("SERVER - by line"), col.messages()[0])

	require.NoError(test, c.Bye())
	waitStopped(test, c)
}

func TestClientWebsocket(test *testing.T) {
	srv := startServer(test, msgchat.Options{
		Transport: msgchat.TransportWebsocket,
		Path:      "/ws",
	})

	c, err := msgclient.Dial(context.Background(), srv.Addr().String(), msgclient.Options{
		Transport: msgchat.TransportWebsocket,
		Path:      "/ws",
		Sentinel:  msgchat.DefaultSentinel,
	})
	require.NoError(test, err)

	col := &collector{}
	c.Start(nil, col)

	require.NoError(test, c.Send("via ws"))
	require.Eventually(test, func() bool {
		return len(col.messages()) == 1
	}, 2*time.Second, time.Millisecond)
	assert.Equal(test, msgchat.Message("SERVER - via ws"), col.messages()[0])

	require.NoError(test, c.Bye())
	waitStopped(test, c)
	assert.NoError(test, c.Error())
}

func TestClientDialError(test *testing.T) {
	srv := msgchat.NewServer(msgchat.Options{Host: "127.0.0.1"})
	require.NoError(test, srv.Start(0, 1))
	addr := srv.Addr().String()
	require.NoError(test, srv.Close())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := msgclient.Dial(ctx, addr, msgclient.Options{})
	assert.Error(test, err)
}
