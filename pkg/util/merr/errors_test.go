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
	"context"
	"os"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/suite"
)

type ErrSuite struct {
	suite.Suite
}

func (s *ErrSuite) TestCode() {
	err := WrapErrSessionNotFound(1)
	wrapped := errors.Wrap(err, "failed to find session")
	s.ErrorIs(wrapped, ErrSessionNotFound)
	s.Equal(Code(ErrSessionNotFound), Code(wrapped))
	s.Equal(TimeoutCode, Code(context.DeadlineExceeded))
	s.Equal(CanceledCode, Code(context.Canceled))
	s.Equal(errUnexpected.errCode, Code(errUnexpected))
	s.Equal(errUnexpected.errCode, Code(errors.New("plain")))
	s.Equal(int32(0), Code(nil))

	sameCodeErr := newHubError("new error", ErrSessionNotFound.errCode, false)
	s.True(sameCodeErr.Is(ErrSessionNotFound))
	s.False(sameCodeErr.Is(ErrSessionClosed))
}

func (s *ErrSuite) TestRetryable() {
	s.True(IsRetryableErr(WrapErrSendQueueFull(7, 16)))
	s.True(IsRetryableErr(errors.Wrap(WrapErrPersistence("users.json", os.ErrPermission), "save")))
	s.False(IsRetryableErr(WrapErrProtocolViolation("bad latitude")))
	s.False(IsRetryableErr(errors.New("plain")))
}

func (s *ErrSuite) TestCanceledOrTimeout() {
	s.True(IsCanceledOrTimeout(errors.Wrap(context.Canceled, "shutdown")))
	s.True(IsCanceledOrTimeout(context.DeadlineExceeded))
	s.False(IsCanceledOrTimeout(ErrTransport))
}

func (s *ErrSuite) TestErrorType() {
	inputErr := newHubError("bad input", 9999, false, WithErrorType(InputError), WithDetail("detail"))
	s.Equal(InputError, GetErrorType(errors.Wrap(inputErr, "ctx")))
	s.Equal(SystemError, GetErrorType(ErrTransport))
	s.Equal("detail", inputErr.Detail())
	s.Equal("input_error", InputError.String())
}

func (s *ErrSuite) TestWrap() {
	// Service 相关错误。
	s.ErrorIs(WrapErrServiceNotReady("hub", "Initializing"), ErrServiceNotReady)
	s.ErrorIs(WrapErrServiceUnavailable("draining", "shutdown"), ErrServiceUnavailable)
	s.ErrorIs(WrapErrServiceInternal("never throw out"), ErrServiceInternal)
	s.ErrorIs(WrapErrServerFull(64), ErrServerFull)

	// Session 相关错误。
	s.ErrorIs(WrapErrSessionNotFound(3, "lookup"), ErrSessionNotFound)
	s.ErrorIs(WrapErrDuplicateIdentity(3), ErrDuplicateIdentity)
	s.ErrorIs(WrapErrSessionClosed(3, "send"), ErrSessionClosed)
	s.ErrorIs(WrapErrSendQueueFull(3, 1024), ErrSendQueueFull)
	s.ErrorIs(WrapErrHandshakeIncomplete(3, "latitude"), ErrHandshakeIncomplete)

	// Transport/Protocol 相关错误。
	s.ErrorIs(WrapErrTransport(os.ErrClosed), ErrTransport)
	s.Nil(WrapErrTransport(nil))
	s.ErrorIs(WrapErrBind(":5000", os.ErrPermission), ErrBind)
	s.ErrorIs(WrapErrProtocolViolation("latitude is not a number"), ErrProtocolViolation)
	s.ErrorIs(WrapErrLineTooLong(65536), ErrLineTooLong)

	// Handler 相关错误。
	s.ErrorIs(WrapErrHandler("eval", errors.New("boom")), ErrHandler)
	s.ErrorIs(WrapErrEvaluation("1/", "unexpected end"), ErrEvaluation)
	s.ErrorIs(WrapErrPersistence("users.json", os.ErrPermission), ErrPersistence)
	s.ErrorIs(WrapErrRouteNotFound("chat"), ErrRouteNotFound)

	// IO 相关错误。
	s.ErrorIs(WrapErrIoFailed("users.json", os.ErrClosed), ErrIoFailed)
	s.Nil(WrapErrIoFailed("users.json", nil))
	s.ErrorIs(WrapErrIoFailedReason("disk full"), ErrIoFailed)

	// 参数相关错误。
	s.ErrorIs(WrapErrParameterInvalid("basic|calculator", "unknown", "variant"), ErrParameterInvalid)
	s.ErrorIs(WrapErrParameterInvalidRange(1, 65535, 0, "port should be in range"), ErrParameterInvalid)
	s.ErrorIs(WrapErrParameterInvalidMsg("bad value %d", 3), ErrParameterInvalid)
	s.ErrorIs(WrapErrParameterMissing("server.port"), ErrParameterMissing)
	s.ErrorIs(WrapErrParameterTooLarge("line"), ErrParameterTooLarge)
	s.ErrorIs(WrapErrOperationNotSupported("etcd sink"), ErrOperationNotSupported)
}

func (s *ErrSuite) TestWrapMessage() {
	err := WrapErrSendQueueFull(7, 16)
	s.Equal("session send queue is full[session=7][capacity=16]", err.Error())

	err = WrapErrEvaluation("1/", "unexpected end")
	s.Equal("expression evaluation failed[expr=1/]: unexpected end", err.Error())
}

func (s *ErrSuite) TestCombine() {
	var (
		errFirst  = errors.New("first")
		errSecond = errors.New("second")
		errThird  = errors.New("third")
	)

	err := Combine(errFirst, errSecond)
	s.True(errors.Is(err, errFirst))
	s.True(errors.Is(err, errSecond))
	s.False(errors.Is(err, errThird))

	s.Equal("first: second", err.Error())
}

func (s *ErrSuite) TestCombineWithNil() {
	err := errors.New("non-nil")

	err = Combine(nil, err)
	s.NotNil(err)
}

func (s *ErrSuite) TestCombineOnlyNil() {
	err := Combine(nil, nil)
	s.Nil(err)
}

func (s *ErrSuite) TestCombineCode() {
	err := Combine(WrapErrSessionNotFound(10), WrapErrPersistence("etcd", os.ErrClosed))
	s.Equal(Code(ErrPersistence), Code(err))
}

func TestErrors(t *testing.T) {
	suite.Run(t, new(ErrSuite))
}
