// Copyright 2017 someonegg. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package msgchat

import (
	"errors"
	"fmt"
)

var (
	ErrBind             = errors.New("msgchat: bind failed")
	ErrTransportInit    = errors.New("msgchat: transport init failed")
	ErrMalformedPayload = errors.New("msgchat: malformed payload")
	ErrStreamClosed     = errors.New("msgchat: stream closed")
	ErrSend             = errors.New("msgchat: send failed")

	ErrTypingDisabled = errors.New("msgchat: typing disabled")
	ErrServerStarted  = errors.New("msgchat: server already started")
	ErrNotStarted     = errors.New("msgchat: server not started")
	ErrServerClosed   = errors.New("msgchat: server closed")
	ErrServing        = errors.New("msgchat: server already serving")
)

// Error attaches an error kind (one of the Err* values) to its cause.
//
// errors.Is matches both the kind and the cause.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%v: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// BindError reports that the listening endpoint could not be bound.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("%v: %s: %v", ErrBind, e.Addr, e.Err)
}

func (e *BindError) Unwrap() []error {
	return []error{ErrBind, e.Err}
}

// IsFatal reports whether err must end the current session.
func IsFatal(err error) bool {
	return errors.Is(err, ErrStreamClosed) || errors.Is(err, ErrTransportInit)
}
