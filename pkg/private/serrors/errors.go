// Copyright (c) 2019 Cable Television Laboratories, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package serrors provides enhanced errors. Errors created with serrors can
// have additional log context in form of key value pairs. The package
// provides wrapping methods. The returned errors support the new Is and As
// error functionality. For any returned error err, errors.Is(err, err) is
// always true, and for any err which wraps err2, errors.Is(err, err2) is
// always true.
package serrors

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ctxPair is one item of context info.
type ctxPair struct {
	Key   string
	Value interface{}
}

// basicError is an implementation of error that encapsulates various pieces
// of information besides a message: an optional cause and log context.
type basicError struct {
	msg   string
	ctx   []ctxPair
	cause error
}

func (e basicError) Error() string {
	var buf bytes.Buffer
	buf.WriteString(e.msg)
	if len(e.ctx) != 0 {
		fmt.Fprint(&buf, " ")
		encodeContext(&buf, e.ctx)
	}
	if e.cause != nil {
		fmt.Fprintf(&buf, ": %s", e.cause)
	}
	return buf.String()
}

func (e basicError) Unwrap() error {
	return e.cause
}

// MarshalLogObject implements zapcore.ObjectMarshaler to have a nicer log
// representation.
func (e basicError) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("msg", e.msg)
	if e.cause != nil {
		if m, ok := e.cause.(zapcore.ObjectMarshaler); ok {
			if err := enc.AddObject("cause", m); err != nil {
				return err
			}
		} else {
			enc.AddString("cause", e.cause.Error())
		}
	}
	for _, pair := range e.ctx {
		zap.Any(pair.Key, pair.Value).AddTo(enc)
	}
	return nil
}

func mkContext(errCtx ...interface{}) []ctxPair {
	np := len(errCtx) / 2
	ctx := make([]ctxPair, np)
	for i := 0; i < np; i++ {
		k := errCtx[2*i]
		v := errCtx[2*i+1]
		ctx[i] = ctxPair{Key: fmt.Sprint(k), Value: v}
	}
	sort.Slice(ctx, func(a, b int) bool {
		return ctx[a].Key < ctx[b].Key
	})
	return ctx
}

// New creates a new error with the given message and context.
func New(msg string, errCtx ...interface{}) error {
	return &basicError{
		msg: msg,
		ctx: mkContext(errCtx...),
	}
}

// Wrap returns an error that associates the given message with the given
// cause (an underlying error) unless nil, and the given context.
//
// The returned error supports Is: Is(cause) returns true.
func Wrap(msg string, cause error, errCtx ...interface{}) error {
	return basicError{
		msg:   msg,
		ctx:   mkContext(errCtx...),
		cause: cause,
	}
}

// Join returns an error that associates the given sentinel error with the
// given cause (an underlying error) unless nil, and the given context.
//
// The returned error supports Is: Is(err) returns true, and if cause isn't
// nil, Is(cause) returns true.
func Join(err, cause error, errCtx ...interface{}) error {
	if err == nil && cause == nil {
		return nil
	}
	return joinedError{
		error: err,
		ctx:   mkContext(errCtx...),
		cause: cause,
	}
}

// joinedError aggregates context and a cause around an existing error, the
// base error (typically a unique sentinel error).
type joinedError struct {
	error error
	ctx   []ctxPair
	cause error
}

func (e joinedError) Error() string {
	var buf bytes.Buffer
	buf.WriteString(e.error.Error())
	if len(e.ctx) != 0 {
		fmt.Fprint(&buf, " ")
		encodeContext(&buf, e.ctx)
	}
	if e.cause != nil {
		fmt.Fprintf(&buf, ": %s", e.cause)
	}
	return buf.String()
}

func (e joinedError) Unwrap() []error {
	return []error{e.error, e.cause}
}

// MarshalLogObject implements zapcore.ObjectMarshaler to have a nicer log
// representation. The base error is not dissected, it is treated as a most
// generic error.
func (e joinedError) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("msg", e.error.Error())
	if e.cause != nil {
		enc.AddString("cause", e.cause.Error())
	}
	for _, pair := range e.ctx {
		zap.Any(pair.Key, pair.Value).AddTo(enc)
	}
	return nil
}

// IsTimeout returns whether err is or is caused by a timeout error.
func IsTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

// List is a slice of errors.
type List []error

// Error implements the error interface.
func (e List) Error() string {
	s := make([]string, 0, len(e))
	for _, err := range e {
		s = append(s, err.Error())
	}
	return fmt.Sprintf("[ %s ]", strings.Join(s, "; "))
}

// ToError returns the object as error interface implementation.
func (e List) ToError() error {
	if len(e) == 0 {
		return nil
	}
	return e
}

func encodeContext(buf io.Writer, pairs []ctxPair) {
	fmt.Fprint(buf, "{")
	for i, p := range pairs {
		fmt.Fprintf(buf, "%s=%v", p.Key, p.Value)
		if i != len(pairs)-1 {
			fmt.Fprint(buf, "; ")
		}
	}
	fmt.Fprintf(buf, "}")
}
