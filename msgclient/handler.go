// Copyright 2019 someonegg. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package msgclient

import (
	"context"
	"sync"
	"time"

	"github.com/someonegg/msgchat"
)

type entry struct {
	ctx context.Context
	m   msgchat.Message
}

type asyncHandler struct {
	h      Handler
	idle   time.Duration
	entryC chan entry

	locker  sync.Mutex
	running bool
}

// AsyncHandler convert a handler to asynchronous mode, then each call is
// initiated from a worker goroutine and the reading loop does not wait
// for h unless queueSize messages are already waiting.
//
// Messages are processed in order by at most one worker, which exits
// after being idle for workerIdleTimeout. queueSize is at least 1.
func AsyncHandler(h Handler, workerIdleTimeout time.Duration, queueSize int) Handler {
	if queueSize < 1 {
		queueSize = 1
	}
	return &asyncHandler{
		h:      h,
		idle:   workerIdleTimeout,
		entryC: make(chan entry, queueSize),
	}
}

func (h *asyncHandler) Process(ctx context.Context, m msgchat.Message) {
	if ctx.Err() != nil {
		return
	}

	e := entry{ctx, m}
	select {
	case <-ctx.Done():
		return
	case h.entryC <- e:
	default:
		// queue full, a worker may not be running yet
		h.ensureWorker()
		select {
		case <-ctx.Done():
			return
		case h.entryC <- e:
		}
	}

	h.ensureWorker()
}

// ensureWorker starts the worker unless one is running. A worker only
// exits, under locker, when the queue is empty.
func (h *asyncHandler) ensureWorker() {
	h.locker.Lock()
	defer h.locker.Unlock()
	if !h.running {
		h.running = true
		go h.work()
	}
}

func (h *asyncHandler) work() {
	t := time.NewTimer(h.idle)
	defer t.Stop()

	for {
		select {
		case e := <-h.entryC:
			h.h.Process(e.ctx, e.m)

			if !t.Stop() {
				<-t.C
			}
			t.Reset(h.idle)
		case <-t.C:
			h.locker.Lock()
			if len(h.entryC) > 0 {
				h.locker.Unlock()
				t.Reset(h.idle)
				continue
			}
			h.running = false
			h.locker.Unlock()
			return
		}
	}
}
