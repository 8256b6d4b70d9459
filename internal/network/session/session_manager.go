package session

// SessionManager 维护接入层当前持有的所有连接，包括尚未完成握手的连接。
//
// 职责说明：
//   - 只负责会话的注册、查询和移除，不直接创建或关闭底层连接；
//   - 接入层依据它做准入控制（连接数上限）和停机时的批量关闭；
//   - 面向业务的在线用户表由 hub.Registry 维护，两者互不替代。
type SessionManager interface {
	// Register 将一个已创建好的 Session 注册到管理器中。
	// 存在相同 ID 的会话时返回 merr.ErrDuplicateIdentity，不覆盖旧会话。
	Register(sess Session) error

	// Get 根据 session id 查找会话。
	Get(id uint64) (sess Session, ok bool)

	// Unregister 从管理器中移除指定 id 的会话，不存在时返回 merr.ErrSessionNotFound。
	// 仅删除索引，不负责关闭会话。
	Unregister(id uint64) error

	// Range 遍历当前所有会话，fn 返回 false 时中断遍历。
	// 回调在不持锁的快照上执行。
	Range(fn func(sess Session) bool)

	// Count 返回当前已注册的会话数量。
	Count() int
}
