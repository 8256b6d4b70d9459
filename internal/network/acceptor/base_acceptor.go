package acceptor

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	network "github.com/lk2023060901/lanchat-go/internal/network"
	"github.com/lk2023060901/lanchat-go/internal/network/session"
	"github.com/lk2023060901/lanchat-go/pkg/log"
	"github.com/lk2023060901/lanchat-go/pkg/metrics"
	"github.com/lk2023060901/lanchat-go/pkg/util/merr"
	"github.com/lk2023060901/lanchat-go/pkg/util/retry"
)

const initialReadBufferSize = 4096

// BaseAcceptor 是 Acceptor 接口的基础实现。
//
// 设计目标：
//   - 对外只暴露 Acceptor 接口和 Handler 回调，不绑定具体业务逻辑；
//   - 内部负责：监听端口、接受连接、准入控制、按行读取并回调 Handler；
//   - 每个连接使用独立的 goroutine 串行处理消息，保证同一 Session 上 Handler 串行执行；
//   - TCP 与 WebSocket 连接共用同一套会话表与连接上限。
type BaseAcceptor struct {
	cfg      Config
	handler  Handler
	sessions session.SessionManager

	ln net.Listener

	// connCtx 为所有会话的父上下文，只在 Shutdown 结束时取消。
	connCtx    context.Context
	connCancel context.CancelFunc

	// mu 保护 closing 与 wg.Add，避免 Shutdown 等待期间再登记新连接。
	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup

	active atomic.Int64
}

// 确保 BaseAcceptor 实现了 Acceptor 接口。
var _ Acceptor = (*BaseAcceptor)(nil)

// NewBaseAcceptor 创建一个接入器。
//
// 参数：
//   - cfg：连接层配置，零值字段使用缺省值；
//   - h  ：业务回调，不能为 nil；
//   - sm ：SessionManager，为 nil 时使用内存实现。
func NewBaseAcceptor(cfg Config, h Handler, sm session.SessionManager) *BaseAcceptor {
	if h == nil {
		panic("acceptor: handler is nil")
	}
	if sm == nil {
		sm = session.NewBaseSessionManager()
	}
	ctx, cancel := context.WithCancel(log.WithModule(context.Background(), "acceptor"))
	return &BaseAcceptor{
		cfg:        cfg.withDefaults(),
		handler:    h,
		sessions:   sm,
		connCtx:    ctx,
		connCancel: cancel,
	}
}

// Listen 实现 Acceptor.Listen。
//
// 端口被占用等错误会按 retry 的退避策略重试 BindAttempts 次。
func (a *BaseAcceptor) Listen(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	err := retry.Do(ctx, func() error {
		ln, err := lc.Listen(ctx, "tcp", addr)
		if err != nil {
			return err
		}
		a.ln = ln
		return nil
	}, retry.Attempts(a.cfg.BindAttempts), retry.Sleep(200*time.Millisecond))
	if err != nil {
		return merr.WrapErrBind(addr, err)
	}
	log.Ctx(ctx).Info("acceptor listening", zap.String("addr", a.ln.Addr().String()))
	return nil
}

// Addr 实现 Acceptor.Addr。
func (a *BaseAcceptor) Addr() net.Addr {
	if a.ln == nil {
		return nil
	}
	return a.ln.Addr()
}

// Serve 实现 Acceptor.Serve。
//
// Accept 的临时性错误（如文件描述符耗尽）按指数退避重试，不会结束接入循环。
func (a *BaseAcceptor) Serve(ctx context.Context) error {
	if a.ln == nil {
		return merr.WrapErrServiceNotReady("acceptor", "Unbound")
	}
	stop := context.AfterFunc(ctx, func() {
		_ = a.ln.Close()
	})
	defer stop()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 5 * time.Millisecond
	bo.MaxInterval = time.Second
	bo.MaxElapsedTime = 0

	for {
		conn, err := a.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || a.isClosing() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			delay := bo.NextBackOff()
			log.Ctx(ctx).RatedWarn(1, "accept failed, retry later", zap.Duration("delay", delay), zap.Error(err))
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil
			}
			continue
		}
		bo.Reset()

		go a.ServeConn(conn, metrics.TransportTCP)
	}
}

// ServeConn 处理单个连接的完整生命周期，直到连接释放才返回。
//
// 流程：
//  1. 准入控制：超过 MaxSessions 时回写拒绝提示并断开；
//  2. 调用 Handler.OnAccept 创建 Session，并登记到 SessionManager；
//  3. 调用 Handler.OnConnected；
//  4. 读协程按行读取并投递到无缓冲通道，当前协程顺序回调 Handler.OnMessage；
//  5. 读到 EOF、读写失败或回调返回错误后，调用 Handler.OnClosed，
//     再优雅关闭会话，超过 CloseTimeout 仍未写完则强制断开。
func (a *BaseAcceptor) ServeConn(conn net.Conn, transport string) {
	if !a.track() {
		_ = conn.Close()
		return
	}
	defer a.wg.Done()

	if !a.admit() {
		metrics.ConnectionsRejected.WithLabelValues(transport).Inc()
		a.reject(conn)
		return
	}
	defer a.active.Dec()
	metrics.ConnectionsAccepted.WithLabelValues(transport).Inc()

	sess, err := a.handler.OnAccept(a.connCtx, conn)
	if err != nil {
		_ = conn.Close()
		a.handler.OnError(nil, network.StageAccept, err)
		return
	}
	if err := a.sessions.Register(sess); err != nil {
		a.handler.OnError(sess, network.StageAccept, err)
		sess.Abort(err)
		return
	}
	defer func() {
		_ = a.sessions.Unregister(sess.ID())
	}()

	lines := make(chan string)
	var readErr error
	go func() {
		readErr = a.readLoop(sess, conn, lines)
		close(lines)
	}()

	cause := a.handler.OnConnected(sess)
	if cause == nil {
		drained := true
		for line := range lines {
			if cause = a.handler.OnMessage(sess, line); cause != nil {
				drained = false
				break
			}
		}
		// lines 关闭之后 readErr 才可读；读错误在本协程上报，与回调保持串行。
		if drained && readErr != nil {
			a.handler.OnError(sess, network.StageRead, readErr)
			cause = readErr
		}
	}
	if cause == nil {
		// 会话被本端释放（例如广播时被剔除）时沿用释放原因。
		cause = sess.Err()
	}

	a.handler.OnClosed(sess, cause)
	a.closeSession(sess)
}

// readLoop 持续从连接中按行读取，将结果写入 lines 通道。
//
// 返回值：
//   - nil 表示正常结束（对端关闭连接，或会话已由本端释放）；
//   - 非 nil 表示协议违规（行过长）或传输错误（包括读超时）。
func (a *BaseAcceptor) readLoop(sess session.Session, conn net.Conn, lines chan<- string) error {
	scanner := bufio.NewScanner(conn)
	// 额外的 2 字节留给行尾的 "\r\n"。
	scanner.Buffer(make([]byte, 0, min(initialReadBufferSize, a.cfg.MaxLineBytes+2)), a.cfg.MaxLineBytes+2)

	for {
		if a.cfg.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(a.cfg.ReadTimeout))
		}
		if !scanner.Scan() {
			err := scanner.Err()
			switch {
			case err == nil:
				return nil
			case sess.Context().Err() != nil || errors.Is(err, net.ErrClosed):
				return nil
			case errors.Is(err, bufio.ErrTooLong):
				err = merr.WrapErrLineTooLong(a.cfg.MaxLineBytes)
			default:
				err = merr.WrapErrTransport(err, "read line")
			}
			return err
		}

		line := strings.TrimSuffix(scanner.Text(), "\r")
		select {
		case lines <- line:
		case <-sess.Context().Done():
			return nil
		}
	}
}

func (a *BaseAcceptor) closeSession(sess session.Session) {
	_ = sess.Close()
	timer := time.NewTimer(a.cfg.CloseTimeout)
	defer timer.Stop()
	select {
	case <-sess.Done():
	case <-timer.C:
		log.Ctx(sess.Context()).Warn("session did not drain in time, abort it",
			zap.Duration("timeout", a.cfg.CloseTimeout))
		sess.Abort(merr.WrapErrTransport(context.DeadlineExceeded, "drain send queue"))
		<-sess.Done()
	}
}

func (a *BaseAcceptor) reject(conn net.Conn) {
	_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
	_, _ = conn.Write([]byte(a.cfg.RejectNotice + "\n"))
	_ = conn.Close()
	a.handler.OnError(nil, network.StageAccept, merr.WrapErrServerFull(a.cfg.MaxSessions, conn.RemoteAddr().String()))
}

// track 在未进入停机流程时登记一个连接处理协程。
func (a *BaseAcceptor) track() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closing {
		return false
	}
	a.wg.Add(1)
	return true
}

func (a *BaseAcceptor) admit() bool {
	n := a.active.Inc()
	if a.cfg.MaxSessions > 0 && n > int64(a.cfg.MaxSessions) {
		a.active.Dec()
		return false
	}
	return true
}

func (a *BaseAcceptor) isClosing() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closing
}

// Shutdown 实现 Acceptor.Shutdown。
func (a *BaseAcceptor) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	a.closing = true
	a.mu.Unlock()

	if a.ln != nil {
		if err := a.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			log.Ctx(ctx).Warn("close listener failed", zap.Error(err))
		}
	}

	a.sessions.Range(func(sess session.Session) bool {
		_ = sess.Close()
		return true
	})

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		a.connCancel()
		return nil
	case <-ctx.Done():
		// 取消父上下文会让所有会话立即释放连接。
		a.connCancel()
		<-done
		return ctx.Err()
	}
}

// Sessions 实现 Acceptor.Sessions。
func (a *BaseAcceptor) Sessions() []session.Session {
	result := make([]session.Session, 0, a.sessions.Count())
	a.sessions.Range(func(sess session.Session) bool {
		result = append(result, sess)
		return true
	})
	return result
}

// Active 返回当前占用准入名额的连接数。
func (a *BaseAcceptor) Active() int {
	return int(a.active.Load())
}
