package acceptor

import (
	"net/http"

	"github.com/gorilla/websocket"

	network "github.com/lk2023060901/lanchat-go/internal/network"
	"github.com/lk2023060901/lanchat-go/pkg/metrics"
	"github.com/lk2023060901/lanchat-go/pkg/util/merr"
)

// NewUpgrader 返回接入层默认使用的 Upgrader。
// 局域网场景下不校验 Origin。
func NewUpgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
}

// WebSocketHandler 返回一个 http.Handler：完成升级后把连接交给 ServeConn，
// 与 TCP 连接共享同一个会话表和连接上限。
//
// 每个文本（或二进制）帧视为一行，服务器写出的每一行对应一个文本帧。
func (a *BaseAcceptor) WebSocketHandler(upgrader *websocket.Upgrader) http.Handler {
	if upgrader == nil {
		upgrader = NewUpgrader()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade 失败时已经回写了 HTTP 错误响应。
			a.handler.OnError(nil, network.StageHandshake, merr.WrapErrProtocolViolation(err.Error(), "websocket upgrade"))
			return
		}
		a.ServeConn(network.NewWSConn(ws), metrics.TransportWebSocket)
	})
}
