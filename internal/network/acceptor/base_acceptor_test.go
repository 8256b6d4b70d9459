package acceptor

import (
	"context"
	"net"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/atomic"

	network "github.com/lk2023060901/lanchat-go/internal/network"
	"github.com/lk2023060901/lanchat-go/internal/network/connector"
	"github.com/lk2023060901/lanchat-go/internal/network/session"
	"github.com/lk2023060901/lanchat-go/pkg/log"
	"github.com/lk2023060901/lanchat-go/pkg/util/merr"
)

// echoHandler 把每一行原样回写给发送方，"bye" 使会话结束，
// "evict" 模拟广播时因发送队列已满被剔除，"slow" 让回调停留一段时间。
type echoHandler struct {
	ids session.Uint64IDGenerator

	mu     sync.Mutex
	closed []error
	errs   []error

	// inMessage 为 true 表示 OnMessage 正在执行，overlapped 记录 OnError 是否与其重叠。
	inMessage  atomic.Bool
	overlapped atomic.Bool
}

func (h *echoHandler) OnAccept(ctx context.Context, conn net.Conn) (session.Session, error) {
	return session.NewBaseSession(ctx, h.ids.Next(), conn, session.Options{}), nil
}

func (h *echoHandler) OnConnected(sess session.Session) error {
	return sess.Send("hello")
}

func (h *echoHandler) OnMessage(sess session.Session, line string) error {
	h.inMessage.Store(true)
	defer h.inMessage.Store(false)

	switch line {
	case "bye":
		_ = sess.Send("Goodbye.")
		return merr.ErrSessionClosed
	case "evict":
		go sess.Abort(merr.WrapErrSendQueueFull(sess.ID(), 1))
		return nil
	case "slow":
		time.Sleep(200 * time.Millisecond)
	}
	return sess.Send("echo:" + line)
}

func (h *echoHandler) OnClosed(_ session.Session, cause error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = append(h.closed, cause)
}

func (h *echoHandler) OnError(sess session.Session, _ network.Stage, err error) {
	if sess != nil && h.inMessage.Load() {
		h.overlapped.Store(true)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errs = append(h.errs, err)
}

func (h *echoHandler) closedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.closed)
}

func (h *echoHandler) errors() []error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]error(nil), h.errs...)
}

type AcceptorSuite struct {
	suite.Suite

	ctx     context.Context
	cancel  context.CancelFunc
	handler *echoHandler
	acc     *BaseAcceptor
	served  chan error

	restoreLog func()
}

func (s *AcceptorSuite) SetupSuite() {
	restore, err := log.ReplaceGlobalsWithTestLogger(s.T(), &log.Config{Level: "debug"})
	s.Require().NoError(err)
	s.restoreLog = restore
}

func (s *AcceptorSuite) TearDownSuite() {
	s.restoreLog()
}

func (s *AcceptorSuite) start(cfg Config) {
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.handler = &echoHandler{}
	s.acc = NewBaseAcceptor(cfg, s.handler, nil)
	s.Require().NoError(s.acc.Listen(s.ctx, "127.0.0.1:0"))
	s.served = make(chan error, 1)
	go func() {
		s.served <- s.acc.Serve(s.ctx)
	}()
}

func (s *AcceptorSuite) TearDownTest() {
	if s.acc == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = s.acc.Shutdown(ctx)
	s.cancel()
	select {
	case err := <-s.served:
		s.NoError(err)
	case <-time.After(2 * time.Second):
		s.Fail("serve did not return")
	}
	s.acc = nil
}

func (s *AcceptorSuite) dial(addr string) *connector.ClientConn {
	cc, err := connector.Dial(context.Background(), addr, connector.Config{})
	s.Require().NoError(err)
	return cc
}

func (s *AcceptorSuite) recv(cc *connector.ClientConn) string {
	select {
	case line, ok := <-cc.Recv():
		s.Require().True(ok, "connection closed")
		return line
	case <-time.After(2 * time.Second):
		s.FailNow("no line received")
		return ""
	}
}

func (s *AcceptorSuite) waitClosed(cc *connector.ClientConn) {
	select {
	case <-cc.Done():
	case <-time.After(2 * time.Second):
		s.FailNow("connection not closed")
	}
}

func (s *AcceptorSuite) TestEchoAndQuit() {
	s.start(Config{})
	cc := s.dial(s.acc.Addr().String())
	defer cc.Abort(nil)

	s.Equal("hello", s.recv(cc))
	s.Require().NoError(cc.Send("ping"))
	s.Require().NoError(cc.Send("pong\r"))
	s.Equal("echo:ping", s.recv(cc))
	s.Equal("echo:pong", s.recv(cc))

	s.Require().NoError(cc.Send("bye"))
	s.Equal("Goodbye.", s.recv(cc))
	s.waitClosed(cc)

	s.Eventually(func() bool { return s.handler.closedCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	s.Eventually(func() bool { return len(s.acc.Sessions()) == 0 }, 2*time.Second, 10*time.Millisecond)
	s.Equal(0, s.acc.Active())
}

func (s *AcceptorSuite) TestPeerDisconnect() {
	s.start(Config{})
	cc := s.dial(s.acc.Addr().String())
	s.Equal("hello", s.recv(cc))
	s.Len(s.acc.Sessions(), 1)

	cc.Abort(nil)
	s.Eventually(func() bool { return s.handler.closedCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	s.handler.mu.Lock()
	s.NoError(s.handler.closed[0])
	s.handler.mu.Unlock()
}

func (s *AcceptorSuite) TestMaxSessions() {
	s.start(Config{MaxSessions: 1})
	first := s.dial(s.acc.Addr().String())
	defer first.Abort(nil)
	s.Equal("hello", s.recv(first))

	second := s.dial(s.acc.Addr().String())
	s.Equal(DefaultRejectNotice, s.recv(second))
	s.waitClosed(second)

	s.Eventually(func() bool {
		for _, err := range s.handler.errors() {
			if merr.Code(err) == merr.Code(merr.ErrServerFull) {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	// 释放名额后可以重新接入。
	first.Abort(nil)
	s.Eventually(func() bool { return s.acc.Active() == 0 }, 2*time.Second, 10*time.Millisecond)
	third := s.dial(s.acc.Addr().String())
	defer third.Abort(nil)
	s.Equal("hello", s.recv(third))
}

func (s *AcceptorSuite) TestLineTooLong() {
	s.start(Config{MaxLineBytes: 8})
	cc := s.dial(s.acc.Addr().String())
	s.Equal("hello", s.recv(cc))

	s.Require().NoError(cc.Send(strings.Repeat("x", 64)))
	s.waitClosed(cc)

	s.Eventually(func() bool { return s.handler.closedCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	s.handler.mu.Lock()
	cause := s.handler.closed[0]
	s.handler.mu.Unlock()
	s.ErrorIs(cause, merr.ErrLineTooLong)
}

func (s *AcceptorSuite) TestReadErrorAfterPipelinedLine() {
	s.start(Config{MaxLineBytes: 8})
	conn, err := net.Dial("tcp", s.acc.Addr().String())
	s.Require().NoError(err)
	defer conn.Close()

	// 同一次写出中紧跟一行超长内容，读协程在回调执行期间就会遇到读错误。
	_, err = conn.Write([]byte("slow\n" + strings.Repeat("z", 100) + "\n"))
	s.Require().NoError(err)

	s.Eventually(func() bool { return s.handler.closedCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	s.handler.mu.Lock()
	cause := s.handler.closed[0]
	s.handler.mu.Unlock()
	s.ErrorIs(cause, merr.ErrLineTooLong)
	s.Require().Len(s.handler.errors(), 1)
	s.ErrorIs(s.handler.errors()[0], merr.ErrLineTooLong)
	s.False(s.handler.overlapped.Load(), "OnError ran concurrently with OnMessage")
}

func (s *AcceptorSuite) TestAbortedSessionCause() {
	s.start(Config{})
	cc := s.dial(s.acc.Addr().String())
	s.Equal("hello", s.recv(cc))

	s.Require().NoError(cc.Send("evict"))
	s.waitClosed(cc)

	s.Eventually(func() bool { return s.handler.closedCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	s.handler.mu.Lock()
	cause := s.handler.closed[0]
	s.handler.mu.Unlock()
	s.ErrorIs(cause, merr.ErrSendQueueFull)
}

func (s *AcceptorSuite) TestShutdownClosesSessions() {
	s.start(Config{})
	cc := s.dial(s.acc.Addr().String())
	s.Equal("hello", s.recv(cc))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Require().NoError(s.acc.Shutdown(ctx))
	s.waitClosed(cc)
	s.Equal(1, s.handler.closedCount())

	_, err := connector.Dial(context.Background(), s.acc.Addr().String(), connector.Config{DialTimeout: 200 * time.Millisecond})
	s.Error(err)
}

func (s *AcceptorSuite) TestWebSocket() {
	s.start(Config{})
	srv := httptest.NewServer(s.acc.WebSocketHandler(nil))
	defer srv.Close()

	cc := s.dial("ws" + strings.TrimPrefix(srv.URL, "http"))
	s.Equal("hello", s.recv(cc))
	s.Require().NoError(cc.Send("over ws"))
	s.Equal("echo:over ws", s.recv(cc))

	s.Require().NoError(cc.Send("bye"))
	s.Equal("Goodbye.", s.recv(cc))
	s.waitClosed(cc)
}

func (s *AcceptorSuite) TestServeBeforeListen() {
	acc := NewBaseAcceptor(Config{}, &echoHandler{}, nil)
	err := acc.Serve(context.Background())
	s.ErrorIs(err, merr.ErrServiceNotReady)
	s.Nil(acc.Addr())
}

func (s *AcceptorSuite) TestListenBindError() {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	s.Require().NoError(err)
	defer ln.Close()

	acc := NewBaseAcceptor(Config{BindAttempts: 1}, &echoHandler{}, nil)
	err = acc.Listen(context.Background(), ln.Addr().String())
	s.ErrorIs(err, merr.ErrBind)
}

func TestAcceptor(t *testing.T) {
	suite.Run(t, new(AcceptorSuite))
}
