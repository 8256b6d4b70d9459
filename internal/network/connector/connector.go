package connector

import (
	"bufio"
	"context"
	"net"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"

	network "github.com/lk2023060901/lanchat-go/internal/network"
	"github.com/lk2023060901/lanchat-go/internal/network/session"
	"github.com/lk2023060901/lanchat-go/pkg/log"
	"github.com/lk2023060901/lanchat-go/pkg/util/merr"
)

// Config 描述客户端连接的基础配置。
type Config struct {
	SendQueueSize int
	RecvQueueSize int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// MaxLineBytes 为单行最大字节数。
	MaxLineBytes int
}

func defaultConfig() Config {
	return Config{
		SendQueueSize: 1024,
		RecvQueueSize: 1024,
		DialTimeout:   5 * time.Second,
		MaxLineBytes:  64 * 1024,
	}
}

func (c Config) withDefaults() Config {
	def := defaultConfig()
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = def.SendQueueSize
	}
	if c.RecvQueueSize <= 0 {
		c.RecvQueueSize = def.RecvQueueSize
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = def.DialTimeout
	}
	if c.MaxLineBytes <= 0 {
		c.MaxLineBytes = def.MaxLineBytes
	}
	return c
}

// ClientConn 是客户端侧的一条面向行的连接。
//
// 写侧复用 session.BaseSession 的发送队列与发送协程，
// 读侧由 recvLoop 按行读出并投递到 Recv 通道。
type ClientConn struct {
	*session.BaseSession

	cfg  Config
	recv chan string
}

// Dial 连接到 hub。
//
// addr 为 "host:port" 时使用 TCP；以 "ws://" 或 "wss://" 开头时使用 WebSocket，
// 每个文本帧对应一行。
func Dial(ctx context.Context, addr string, cfg Config) (*ClientConn, error) {
	cfg = cfg.withDefaults()

	dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()

	var conn net.Conn
	if strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://") {
		ws, _, err := websocket.DefaultDialer.DialContext(dialCtx, addr, nil)
		if err != nil {
			return nil, merr.WrapErrTransport(err, "dial "+addr)
		}
		conn = network.NewWSConn(ws)
	} else {
		var d net.Dialer
		c, err := d.DialContext(dialCtx, "tcp", addr)
		if err != nil {
			return nil, merr.WrapErrTransport(err, "dial "+addr)
		}
		conn = c
	}

	cc := &ClientConn{
		BaseSession: session.NewBaseSession(log.WithModule(ctx, "connector"), 0, conn, session.Options{
			SendQueueSize: cfg.SendQueueSize,
			WriteTimeout:  cfg.WriteTimeout,
		}),
		cfg:  cfg,
		recv: make(chan string, cfg.RecvQueueSize),
	}
	go cc.recvLoop(conn)
	return cc, nil
}

// Recv 返回收到的行（不含换行符）。连接释放后通道被关闭。
func (c *ClientConn) Recv() <-chan string {
	return c.recv
}

// recvLoop 按行读取服务器的输出，读到 EOF 或出错时释放连接。
func (c *ClientConn) recvLoop(conn net.Conn) {
	defer close(c.recv)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), c.cfg.MaxLineBytes+2)
	for {
		if c.cfg.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		}
		if !scanner.Scan() {
			err := scanner.Err()
			if err != nil && !errors.Is(err, net.ErrClosed) {
				err = merr.WrapErrTransport(err, "read line")
			} else {
				err = nil
			}
			c.Abort(err)
			return
		}
		line := strings.TrimSuffix(scanner.Text(), "\r")
		select {
		case c.recv <- line:
			continue
		default:
		}
		select {
		case c.recv <- line:
		case <-c.Context().Done():
			return
		}
	}
}
