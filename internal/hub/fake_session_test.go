package hub

import (
	"context"
	"net"
	"sync"

	"github.com/lk2023060901/lanchat-go/internal/network/session"
	"github.com/lk2023060901/lanchat-go/pkg/util/merr"
)

// fakeSession 记录所有投递的行，可以配置 Send 的返回错误。
type fakeSession struct {
	id     uint64
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	lines   []string
	sendErr error
	cause   error

	once sync.Once
	done chan struct{}
}

var _ session.Session = (*fakeSession)(nil)

func newFakeSession(id uint64) *fakeSession {
	ctx, cancel := context.WithCancel(context.Background())
	return &fakeSession{id: id, ctx: ctx, cancel: cancel, done: make(chan struct{})}
}

func newFakeMember(id uint64, name string, loc *Location) (*Member, *fakeSession) {
	fs := newFakeSession(id)
	m := newMember(fs)
	m.setName(name)
	m.location = loc
	return m, fs
}

func (s *fakeSession) ID() uint64               { return s.id }
func (s *fakeSession) Context() context.Context { return s.ctx }
func (s *fakeSession) RemoteAddr() net.Addr     { return nil }
func (s *fakeSession) LocalAddr() net.Addr      { return nil }
func (s *fakeSession) Done() <-chan struct{}    { return s.done }

func (s *fakeSession) Send(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	select {
	case <-s.done:
		return merr.WrapErrSessionClosed(s.id)
	default:
	}
	s.lines = append(s.lines, line)
	return nil
}

func (s *fakeSession) Close() error {
	s.Abort(nil)
	return nil
}

func (s *fakeSession) Abort(cause error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.cause = cause
		s.mu.Unlock()
		s.cancel()
		close(s.done)
	})
}

func (s *fakeSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

func (s *fakeSession) setSendErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendErr = err
}

func (s *fakeSession) received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

func (s *fakeSession) aborted() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
