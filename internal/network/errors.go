package network

// Stage 表示连接处理链路中的阶段。
//
// 主要用于在 OnError 回调中标记错误发生的位置，便于监控与排查。
type Stage string

const (
	StageAccept    Stage = "accept"    // 接受连接、创建会话
	StageHandshake Stage = "handshake" // 协议握手（WebSocket 升级、用户名/坐标输入）
	StageRead      Stage = "read"      // 从底层连接读出一行
	StageDispatch  Stage = "dispatch"  // 行 -> 命令处理
	StageSend      Stage = "send"      // 投递到其他会话
)

func (s Stage) String() string {
	return string(s)
}
