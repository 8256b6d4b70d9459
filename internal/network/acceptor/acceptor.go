package acceptor

import (
	"context"
	"net"
	"time"

	network "github.com/lk2023060901/lanchat-go/internal/network"
	"github.com/lk2023060901/lanchat-go/internal/network/session"
)

// Config 描述 Acceptor 在连接层面的配置。
//
// 说明：
//   - MaxSessions 为同时持有的连接上限，0 表示不限制；超出时回写 RejectNotice 后立即断开；
//   - MaxLineBytes 为单行最大字节数，超出视为协议违规；
//   - ReadTimeout 为两行之间允许的最长空闲时间，0 表示不设置 deadline；
//   - CloseTimeout 为优雅关闭时等待发送队列写完的时间，超时后强制断开。
type Config struct {
	MaxSessions  int
	MaxLineBytes int

	ReadTimeout  time.Duration
	CloseTimeout time.Duration

	RejectNotice string

	// BindAttempts 为监听端口失败时的最大尝试次数。
	BindAttempts uint
}

const (
	DefaultMaxLineBytes = 64 * 1024
	DefaultCloseTimeout = 5 * time.Second
	DefaultRejectNotice = "Server is full, try again later."
)

// 默认配置。
func defaultConfig() Config {
	return Config{
		MaxLineBytes: DefaultMaxLineBytes,
		CloseTimeout: DefaultCloseTimeout,
		RejectNotice: DefaultRejectNotice,
		BindAttempts: 3,
	}
}

func (c Config) withDefaults() Config {
	def := defaultConfig()
	if c.MaxLineBytes <= 0 {
		c.MaxLineBytes = def.MaxLineBytes
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = def.CloseTimeout
	}
	if c.RejectNotice == "" {
		c.RejectNotice = def.RejectNotice
	}
	if c.BindAttempts == 0 {
		c.BindAttempts = def.BindAttempts
	}
	return c
}

// Handler 由上层（hub）实现，用于在连接生命周期的各个阶段插入业务逻辑。
//
// 说明：
//   - 同一会话上的回调（包括读错误触发的 OnError）都在该连接的处理协程中串行调用；
//   - sess 为 nil 的 OnError 来自接入循环，可能与其他回调并发；
//   - OnConnected/OnMessage 返回非 nil 错误时，连接进入关闭流程。
type Handler interface {
	// OnAccept 为新连接创建会话，会话随后独占 conn。
	OnAccept(ctx context.Context, conn net.Conn) (session.Session, error)

	// OnConnected 在会话创建并登记后被调用一次，可在此发送问候与提示。
	OnConnected(sess session.Session) error

	// OnMessage 在读到一行（已去除行尾换行符）后被调用。
	OnMessage(sess session.Session, line string) error

	// OnClosed 在会话生命周期结束时被调用一次。
	// cause 为关闭原因：对端正常断开时为 nil，会话被本端释放时为 Session.Err()。
	OnClosed(sess session.Session, cause error)

	// OnError 在处理的各个阶段发生错误时被调用。sess 在会话创建前为 nil。
	OnError(sess session.Session, stage network.Stage, err error)
}

// Acceptor 抽象了服务器侧的接入层。
//
// 职责：
//   - 在监听地址上接受 TCP 连接，或接管 WebSocket 升级后的连接；
//   - 为每个连接驱动 Handler 的各阶段回调，按行读取并串行分发；
//   - 维护当前持有的连接，支持准入控制与优雅停机。
type Acceptor interface {
	// Listen 绑定监听地址，失败时返回 merr.ErrBind。
	Listen(ctx context.Context, addr string) error

	// Addr 返回实际监听地址，未绑定时为 nil。
	Addr() net.Addr

	// Serve 运行接入循环，阻塞直至 ctx 取消或 Shutdown 被调用。
	Serve(ctx context.Context) error

	// Shutdown 停止接受新连接，优雅关闭所有会话，最长等待到 ctx 结束。
	Shutdown(ctx context.Context) error

	// Sessions 返回当前持有会话的快照。
	Sessions() []session.Session
}
