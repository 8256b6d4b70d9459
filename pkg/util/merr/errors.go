// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package merr

import (
	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
)

const (
	CanceledCode int32 = 10000
	TimeoutCode  int32 = 10001
)

type ErrorType int32

const (
	SystemError ErrorType = 0
	InputError  ErrorType = 1
)

var ErrorTypeName = map[ErrorType]string{
	SystemError: "system_error",
	InputError:  "input_error",
}

func (err ErrorType) String() string {
	return ErrorTypeName[err]
}

// 叶子错误统一在此定义。
// WARN: 新增错误前先确认下面已有的错误是否可以复用。
// 命名：Err + 相关前缀 + 错误名
var (
	// Service 相关
	ErrServiceNotReady    = newHubError("service not ready", 1, true)
	ErrServiceUnavailable = newHubError("service unavailable", 2, true)
	ErrServiceInternal    = newHubError("service internal error", 5, false)
	ErrServerFull         = newHubError("too many concurrent sessions", 13, true)

	// Session 相关
	ErrSessionNotFound     = newHubError("session not found", 100, false)
	ErrDuplicateIdentity   = newHubError("duplicate session identity", 101, false)
	ErrSessionClosed       = newHubError("session closed", 102, false)
	ErrSendQueueFull       = newHubError("session send queue is full", 103, true)
	ErrHandshakeIncomplete = newHubError("handshake incomplete", 104, false)

	// Transport 相关：读写/关闭失败，只影响所在会话
	ErrTransport = newHubError("transport failure", 200, false)
	ErrBind      = newHubError("bind listener failed", 201, true)

	// Protocol 相关：握手或行格式不合法，只终止当前会话
	ErrProtocolViolation = newHubError("protocol violation", 300, false)
	ErrLineTooLong       = newHubError("line too long", 301, false)

	// Handler 相关：命令处理器（表达式求值、快照持久化）失败，只回复请求方
	ErrHandler       = newHubError("command handler failed", 400, false)
	ErrEvaluation    = newHubError("expression evaluation failed", 401, false)
	ErrPersistence   = newHubError("snapshot persistence failed", 402, true)
	ErrRouteNotFound = newHubError("no route for command", 403, false)

	// IO 相关
	ErrIoFailed = newHubError("IO failed", 1001, false)

	// Parameter 相关
	ErrParameterInvalid  = newHubError("invalid parameter", 1100, false)
	ErrParameterMissing  = newHubError("missing parameter", 1101, false)
	ErrParameterTooLarge = newHubError("parameter too large", 1102, false)

	// General
	ErrOperationNotSupported = newHubError("unsupported operation", 3000, false)

	// Do NOT export this,
	// never allow programmer using this, keep only for converting unknown error to hubError
	errUnexpected = newHubError("unexpected error", (1<<16)-1, false)
)

type errorOption func(*hubError)

func WithDetail(detail string) errorOption {
	return func(err *hubError) {
		err.detail = detail
	}
}

func WithErrorType(etype ErrorType) errorOption {
	return func(err *hubError) {
		err.errType = etype
	}
}

type hubError struct {
	msg       string
	detail    string
	retriable bool
	errCode   int32
	errType   ErrorType
}

func newHubError(msg string, code int32, retriable bool, options ...errorOption) hubError {
	err := hubError{
		msg:       msg,
		detail:    msg,
		retriable: retriable,
		errCode:   code,
	}

	for _, option := range options {
		option(&err)
	}
	return err
}

func (e hubError) code() int32 {
	return e.errCode
}

func (e hubError) Error() string {
	return e.msg
}

func (e hubError) Detail() string {
	return e.detail
}

func (e hubError) Is(err error) bool {
	cause := errors.Cause(err)
	if cause, ok := cause.(hubError); ok {
		return e.errCode == cause.errCode
	}
	return false
}

type multiErrors struct {
	errs []error
}

func (e multiErrors) Unwrap() error {
	if len(e.errs) <= 1 {
		return nil
	}
	// 多错误的 cause 定义为最后一个错误，这样 Code 等方法可以按单个错误处理。
	if len(e.errs) == 2 {
		return e.errs[1]
	}

	return multiErrors{
		errs: e.errs[1:],
	}
}

func (e multiErrors) Error() string {
	final := e.errs[0]
	for i := 1; i < len(e.errs); i++ {
		final = errors.Wrap(e.errs[i], final.Error())
	}
	return final.Error()
}

func (e multiErrors) Is(err error) bool {
	for _, item := range e.errs {
		if errors.Is(item, err) {
			return true
		}
	}
	return false
}

func Combine(errs ...error) error {
	errs = lo.Filter(errs, func(err error, _ int) bool { return err != nil })
	if len(errs) == 0 {
		return nil
	}
	return multiErrors{
		errs,
	}
}
