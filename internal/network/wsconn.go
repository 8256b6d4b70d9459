package network

import (
	"bytes"
	"io"
	"net"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	"go.uber.org/atomic"
)

const wsCloseGracePeriod = time.Second

// wsConn 把 gorilla/websocket 连接适配为面向行的 net.Conn。
//
// 约束：
//   - Read 只能由一个协程调用（读协程）；
//   - Write 只能由一个协程调用（发送协程）；
//   - Close 可以在任意协程调用。
type wsConn struct {
	ws *websocket.Conn

	reader  io.Reader
	pending []byte

	closed atomic.Bool
}

var _ net.Conn = (*wsConn)(nil)

// NewWSConn 包装一个已完成升级的 WebSocket 连接。
func NewWSConn(ws *websocket.Conn) net.Conn {
	return &wsConn{ws: ws}
}

// Read 依次读出每个帧的内容，并在每个帧末尾补一个换行符。
func (c *wsConn) Read(p []byte) (int, error) {
	for {
		if c.reader == nil {
			_, r, err := c.ws.NextReader()
			if err != nil {
				if c.closed.Load() {
					return 0, net.ErrClosed
				}
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
					return 0, io.EOF
				}
				return 0, err
			}
			c.reader = io.MultiReader(r, bytes.NewReader([]byte{'\n'}))
		}
		n, err := c.reader.Read(p)
		if errors.Is(err, io.EOF) {
			c.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

// Write 按换行符切分数据，每个完整行写成一个文本帧；不完整的尾部留到下次写入。
func (c *wsConn) Write(p []byte) (int, error) {
	c.pending = append(c.pending, p...)
	for {
		i := bytes.IndexByte(c.pending, '\n')
		if i < 0 {
			break
		}
		if err := c.ws.WriteMessage(websocket.TextMessage, c.pending[:i]); err != nil {
			return 0, err
		}
		c.pending = c.pending[i+1:]
	}
	if len(c.pending) == 0 {
		c.pending = nil
	}
	return len(p), nil
}

// Close 发送关闭帧后关闭底层连接，多次调用是幂等的。
func (c *wsConn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return net.ErrClosed
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsCloseGracePeriod))
	return c.ws.Close()
}

func (c *wsConn) LocalAddr() net.Addr {
	return c.ws.LocalAddr()
}

func (c *wsConn) RemoteAddr() net.Addr {
	return c.ws.RemoteAddr()
}

func (c *wsConn) SetDeadline(t time.Time) error {
	if err := c.ws.SetReadDeadline(t); err != nil {
		return err
	}
	return c.ws.SetWriteDeadline(t)
}

func (c *wsConn) SetReadDeadline(t time.Time) error {
	return c.ws.SetReadDeadline(t)
}

func (c *wsConn) SetWriteDeadline(t time.Time) error {
	return c.ws.SetWriteDeadline(t)
}
