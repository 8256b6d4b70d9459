package session

import (
	"bufio"
	"context"
	"net"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/lk2023060901/lanchat-go/pkg/log"
	"github.com/lk2023060901/lanchat-go/pkg/util/merr"
)

const (
	// DefaultSendQueueSize 为每个会话发送队列的缺省容量（按行计）。
	DefaultSendQueueSize = 1024

	writeBufferSize = 4096
)

// Options 为 BaseSession 的可调参数。
type Options struct {
	// SendQueueSize 为发送队列容量，<= 0 时使用 DefaultSendQueueSize。
	SendQueueSize int
	// WriteTimeout 为单次写出的超时时间，0 表示不设置写超时。
	WriteTimeout time.Duration
}

// BaseSession 提供了 Session 接口的基础实现。
//
// 设计目标：
//   - Send 只把行投递到 sendQueue，由 sendLoop 这个唯一的写协程写出，避免多协程并发写 conn；
//   - 队列有界，写不动的慢连接在队列满时直接报错，由上层决定是否驱逐；
//   - 底层连接只在 release 中关闭一次，所有退出路径都会经过 release。
type BaseSession struct {
	id uint64

	ctx    context.Context
	cancel context.CancelFunc

	conn net.Conn
	opts Options

	remoteAddr net.Addr
	localAddr  net.Addr

	// mu 保护 closing 与 sendQueue 的关闭，保证不会向已关闭的通道投递。
	mu        sync.Mutex
	closing   bool
	sendQueue chan string

	releaseOnce sync.Once
	done        chan struct{}
	cause       atomic.Error
}

// 确保 BaseSession 实现了 Session 接口。
var _ Session = (*BaseSession)(nil)

// NewBaseSession 创建一个基于 net.Conn 的会话并启动发送协程。
//
// 参数：
//   - parent：会话所属的上层上下文（例如 Acceptor 的 Serve ctx）；若为 nil，则使用 context.Background()；
//   - id    ：会话 ID，由调用侧保证进程内唯一；
//   - conn  ：底层网络连接，之后由会话独占。
func NewBaseSession(parent context.Context, id uint64, conn net.Conn, opts Options) *BaseSession {
	if parent == nil {
		parent = context.Background()
	}
	if opts.SendQueueSize <= 0 {
		opts.SendQueueSize = DefaultSendQueueSize
	}
	ctx := log.WithFields(parent, log.FieldSession(id), log.FieldRemote(addrString(conn.RemoteAddr())))
	ctx, cancel := context.WithCancel(ctx)

	s := &BaseSession{
		id:         id,
		ctx:        ctx,
		cancel:     cancel,
		conn:       conn,
		opts:       opts,
		remoteAddr: conn.RemoteAddr(),
		localAddr:  conn.LocalAddr(),
		sendQueue:  make(chan string, opts.SendQueueSize),
		done:       make(chan struct{}),
	}

	go s.sendLoop()

	return s
}

// ID 实现 Session.ID。
func (s *BaseSession) ID() uint64 {
	return s.id
}

// Context 实现 Session.Context。
func (s *BaseSession) Context() context.Context {
	return s.ctx
}

// RemoteAddr 实现 Session.RemoteAddr。
func (s *BaseSession) RemoteAddr() net.Addr {
	return s.remoteAddr
}

// LocalAddr 实现 Session.LocalAddr。
func (s *BaseSession) LocalAddr() net.Addr {
	return s.localAddr
}

// Send 实现 Session.Send。
func (s *BaseSession) Send(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closing || s.ctx.Err() != nil {
		return merr.WrapErrSessionClosed(s.id)
	}
	select {
	case s.sendQueue <- line:
		return nil
	default:
		return merr.WrapErrSendQueueFull(s.id, cap(s.sendQueue))
	}
}

// Close 实现 Session.Close。
func (s *BaseSession) Close() error {
	s.markClosing()
	return nil
}

// Abort 实现 Session.Abort。
func (s *BaseSession) Abort(cause error) {
	s.markClosing()
	s.release(cause)
}

// Done 实现 Session.Done。
func (s *BaseSession) Done() <-chan struct{} {
	return s.done
}

// Err 实现 Session.Err。
func (s *BaseSession) Err() error {
	return s.cause.Load()
}

// Closing 表示会话是否已进入关闭流程。
func (s *BaseSession) Closing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

func (s *BaseSession) markClosing() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return
	}
	s.closing = true
	// 关闭队列后 sendLoop 会在写完剩余的行后退出并释放连接。
	close(s.sendQueue)
}

// release 关闭底层连接、取消上下文，只执行一次。
func (s *BaseSession) release(cause error) {
	s.releaseOnce.Do(func() {
		if cause != nil {
			s.cause.Store(cause)
		}
		s.cancel()
		if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			log.Ctx(s.ctx).Debug("close connection failed", zap.Error(err))
		}
		close(s.done)
	})
}

// sendLoop 为每个会话启动的专职发送协程。
//
// 行为：
//   - 从 sendQueue 中按顺序取出待发送的行，追加换行符写入缓冲；
//   - 队列暂时为空时刷出缓冲，多行合并为一次系统调用；
//   - 写出失败视为会话异常，立即释放连接，由读协程感知并触发上层清理。
func (s *BaseSession) sendLoop() {
	w := bufio.NewWriterSize(s.conn, writeBufferSize)
	for {
		select {
		case <-s.ctx.Done():
			s.release(s.ctx.Err())
			return
		case line, ok := <-s.sendQueue:
			if !ok {
				s.release(s.flush(w))
				return
			}
			if err := s.write(w, line); err != nil {
				s.release(merr.WrapErrTransport(err, "write line"))
				return
			}
			if len(s.sendQueue) > 0 {
				continue
			}
			if err := s.flush(w); err != nil {
				s.release(err)
				return
			}
		}
	}
}

func (s *BaseSession) write(w *bufio.Writer, line string) error {
	s.armWriteDeadline()
	if _, err := w.WriteString(line); err != nil {
		return err
	}
	return w.WriteByte('\n')
}

func (s *BaseSession) flush(w *bufio.Writer) error {
	if w.Buffered() == 0 {
		return nil
	}
	s.armWriteDeadline()
	return merr.WrapErrTransport(w.Flush(), "flush")
}

func (s *BaseSession) armWriteDeadline() {
	if s.opts.WriteTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	}
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}

// Uint64IDGenerator 从 1 开始递增分配会话 ID。
type Uint64IDGenerator struct {
	next atomic.Uint64
}

// Next 实现 IDGenerator.Next。
func (g *Uint64IDGenerator) Next() uint64 {
	return g.next.Inc()
}
