package hub

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/lk2023060901/lanchat-go/pkg/log"
	"github.com/lk2023060901/lanchat-go/pkg/metrics"
	"github.com/lk2023060901/lanchat-go/pkg/util/merr"
	"github.com/lk2023060901/lanchat-go/pkg/util/typeutil"
)

const (
	userListPrefix = "USER_LIST:"

	deliveryFailureRateGroup = "hub.broadcast.delivery_failure"
)

// Broadcaster 把一行消息投递给 Registry 中的成员。
//
// 行为：
//   - 在快照上遍历，持有 Registry 锁期间不做 IO；
//   - 某个接收方投递失败不影响其他接收方，也不返回给调用方；
//   - 投递失败（发送队列已满）的接收方会被异步断开，由它自己的连接协程完成清理，
//     Broadcaster 从不修改 Registry。
type Broadcaster struct {
	log.Binder

	registry *Registry

	// userListMu 串行化用户列表通知，保证最后一次收到的列表不早于最后一次变更。
	userListMu sync.Mutex
}

func NewBroadcaster(registry *Registry) *Broadcaster {
	b := &Broadcaster{registry: registry}
	b.SetLogger(log.With(log.FieldComponent("broadcaster")).
		WithRateGroup(deliveryFailureRateGroup, 1, 10))
	return b
}

// Broadcast 把 line 投递给除 exclude 之外的所有成员，返回成功入队的接收方数量。
func (b *Broadcaster) Broadcast(line string, exclude ...uint64) int {
	start := time.Now()
	defer func() {
		metrics.BroadcastLatency.Observe(float64(time.Since(start).Microseconds()) / 1000)
	}()

	skip := typeutil.NewSet(exclude...)
	delivered := 0
	for _, m := range b.registry.Snapshot() {
		if skip.Contain(m.ID()) {
			continue
		}
		if b.deliver(m, line) {
			delivered++
		}
	}
	return delivered
}

// NotifyUserListChanged 把当前的用户列表发给所有成员。
func (b *Broadcaster) NotifyUserListChanged() {
	b.userListMu.Lock()
	defer b.userListMu.Unlock()

	members := b.registry.Snapshot()
	names := make([]string, 0, len(members))
	for _, m := range members {
		names = append(names, m.Name())
	}
	line := userListPrefix + RenderUserList(names)
	for _, m := range members {
		b.deliver(m, line)
	}
}

// SendTo 只投递给一个成员，失败时与广播相同地处理。
func (b *Broadcaster) SendTo(m *Member, line string) bool {
	return b.deliver(m, line)
}

func (b *Broadcaster) deliver(m *Member, line string) bool {
	err := m.Send(line)
	if err == nil {
		return true
	}
	// 正在离开的成员，静默跳过。
	if errors.Is(err, merr.ErrSessionClosed) {
		return false
	}

	metrics.DeliveryFailures.Inc()
	b.Logger().RatedWarn(1, "deliver failed, evict recipient",
		log.FieldSession(m.ID()),
		log.FieldUser(m.Name()),
		zap.Error(err))
	go m.Abort(err)
	return false
}
