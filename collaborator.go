// Copyright 2019 someonegg. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package msgchat

import (
	"sync"

	"github.com/someonegg/gox/syncx"
	"go.uber.org/zap"
)

// Collaborator receives the server's notifications, typically a
// presentation layer.
//
// Calls are made from one dedicated goroutine in the order the events
// happened. A slow collaborator delays later notifications but never the
// message loop.
type Collaborator interface {
	OnMessage(text string)
	OnTypingEnabledChanged(enabled bool)
}

// CollaboratorFuncs is an adapter to build a Collaborator from ordinary
// functions. Nil fields are ignored.
type CollaboratorFuncs struct {
	Message              func(text string)
	TypingEnabledChanged func(enabled bool)
}

func (f CollaboratorFuncs) OnMessage(text string) {
	if f.Message != nil {
		f.Message(text)
	}
}

func (f CollaboratorFuncs) OnTypingEnabledChanged(enabled bool) {
	if f.TypingEnabledChanged != nil {
		f.TypingEnabledChanged(enabled)
	}
}

// notifier queues notifications without bound and delivers them from its
// own goroutine.
type notifier struct {
	c   Collaborator
	log *zap.Logger

	locker sync.Mutex
	queue  []func()
	wake   chan struct{}

	quitD syncx.DoneChan
	stopD syncx.DoneChan
	once  sync.Once
}

func newNotifier(c Collaborator, log *zap.Logger) *notifier {
	if c == nil {
		c = CollaboratorFuncs{}
	}
	n := &notifier{
		c:     c,
		log:   log,
		wake:  make(chan struct{}, 1),
		quitD: syncx.NewDoneChan(),
		stopD: syncx.NewDoneChan(),
	}
	go n.work()
	return n
}

func (n *notifier) message(text string) {
	n.post(func() { n.c.OnMessage(text) })
}

func (n *notifier) typing(enabled bool) {
	n.post(func() { n.c.OnTypingEnabledChanged(enabled) })
}

func (n *notifier) post(f func()) {
	n.locker.Lock()
	n.queue = append(n.queue, f)
	n.locker.Unlock()

	select {
	case n.wake <- struct{}{}:
	default:
	}
}

func (n *notifier) take() []func() {
	n.locker.Lock()
	defer n.locker.Unlock()
	q := n.queue
	n.queue = nil
	return q
}

func (n *notifier) work() {
	defer n.stopD.SetDone()

	for {
		q := n.take()
		for _, f := range q {
			n.call(f)
		}
		if len(q) > 0 {
			continue
		}

		select {
		case <-n.wake:
		case <-n.quitD:
			for _, f := range n.take() {
				n.call(f)
			}
			return
		}
	}
}

func (n *notifier) call(f func()) {
	defer func() {
		if e := recover(); e != nil {
			n.log.Error("collaborator panic", zap.Any("panic", e), zap.Stack("stack"))
		}
	}()
	f()
}

// stop delivers what is queued and waits for the worker to exit.
func (n *notifier) stop() {
	n.once.Do(n.quitD.SetDone)
	<-n.stopD
}
