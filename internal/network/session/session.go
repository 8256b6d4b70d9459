package session

import (
	"context"
	"net"
)

// Session 抽象了一条面向行的网络会话。
//
// 约定：
//   - 每个 Session 对应一条底层连接（TCP 连接或 WebSocket 会话），由 Session 独占；
//   - Session ID 使用 64 位无符号整型，在进程生命周期内唯一；
//   - 框架层只关心行的收发与连接的释放，不关心“用户”等业务概念。
type Session interface {
	// ID 返回该会话在进程内的唯一标识，由接入层在 accept 时分配。
	ID() uint64

	// Context 返回与该会话关联的上下文。
	//
	// 说明：
	//   - 底层连接释放时 Context 被取消；
	//   - 上下文中携带 sessionID、remote 等日志字段，可直接用于 log.Ctx。
	Context() context.Context

	// RemoteAddr 返回远端地址（客户端地址）。
	RemoteAddr() net.Addr

	// LocalAddr 返回本端地址（服务器监听地址）。
	LocalAddr() net.Addr

	// Send 将一行文本投递到会话的发送队列，不包含行尾换行符。
	//
	// 行为：
	//   - 只做非阻塞入队，真正的写出由会话的专职发送协程完成；
	//   - 队列已满返回 merr.ErrSendQueueFull，会话已关闭返回 merr.ErrSessionClosed；
	//   - 同一个调用方先后投递的两行，对端按相同顺序收到。
	Send(line string) error

	// Close 优雅关闭：不再接受新的 Send，已入队的行写完后释放底层连接。
	// 多次调用是幂等的。
	Close() error

	// Abort 立即释放底层连接并取消 Context，未写出的行被丢弃。
	// 多次调用是幂等的，只有第一次的 cause 被记录。
	Abort(cause error)

	// Done 返回一个在底层连接释放后关闭的通道。
	Done() <-chan struct{}

	// Err 返回导致连接释放的原因，正常关闭时为 nil。
	Err() error
}

// IDGenerator 为新接入的连接分配会话 ID。
type IDGenerator interface {
	Next() uint64
}
