package hub

import (
	"slices"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"

	"github.com/lk2023060901/lanchat-go/internal/snapshot"
	"github.com/lk2023060901/lanchat-go/pkg/util/merr"
)

// Registry 维护所有已完成握手、可以接收广播的成员。
//
// 约束：
//   - byID、members 与 byName 三个索引始终引用同一组成员；
//   - 一个成员在 Registry 中当且仅当它可以成为广播目标；
//   - 持锁期间只做内存拷贝，不做任何网络 IO。
type Registry struct {
	mu sync.RWMutex

	byID map[uint64]*Member
	// members 按加入顺序排列。
	members []*Member
	// byName 为小写显示名到成员 ID 的索引，同名成员按加入顺序排列。
	byName map[string][]uint64

	seq uint64
}

func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[uint64]*Member),
		byName: make(map[string][]uint64),
	}
}

// Register 登记一个成员，ID 重复时返回 merr.ErrDuplicateIdentity。
func (r *Registry) Register(m *Member) error {
	if m == nil {
		return merr.WrapErrParameterMissing("member")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[m.ID()]; ok {
		return merr.WrapErrDuplicateIdentity(m.ID())
	}
	r.seq++
	m.joinedOrder = r.seq
	r.byID[m.ID()] = m
	r.members = append(r.members, m)
	key := nameKey(m.Name())
	r.byName[key] = append(r.byName[key], m.ID())
	return nil
}

// Unregister 移除成员，返回是否确实移除了。重复调用是安全的。
func (r *Registry) Unregister(id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.byID[id]
	if !ok {
		return false
	}
	delete(r.byID, id)
	r.members = slices.DeleteFunc(r.members, func(x *Member) bool { return x.ID() == id })

	key := nameKey(m.Name())
	ids := slices.DeleteFunc(r.byName[key], func(x uint64) bool { return x == id })
	if len(ids) == 0 {
		delete(r.byName, key)
	} else {
		r.byName[key] = ids
	}
	return true
}

// Get 按 ID 查找成员。
func (r *Registry) Get(id uint64) (*Member, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byID[id]
	return m, ok
}

// Snapshot 返回按加入顺序排列的成员快照。
func (r *Registry) Snapshot() []*Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.members)
}

// FindByName 按显示名查找（不区分大小写），同名时返回最早加入的成员。
func (r *Registry) FindByName(name string) (*Member, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.byName[nameKey(strings.TrimSpace(name))]
	if len(ids) == 0 {
		return nil, false
	}
	return r.byID[ids[0]], true
}

// Count 返回当前成员数。
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// DisplayNames 返回按加入顺序排列的显示名。
func (r *Registry) DisplayNames() []string {
	return lo.Map(r.Snapshot(), func(m *Member, _ int) string { return m.Name() })
}

// Users 返回所有上报了坐标的成员，按加入顺序排列。
func (r *Registry) Users() []snapshot.User {
	return lo.FilterMap(r.Snapshot(), func(m *Member, _ int) (snapshot.User, bool) {
		return m.User()
	})
}

// Check 校验各索引是否一致。
func (r *Registry) Check() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.members) != len(r.byID) {
		return errors.Newf("registry: %d ordered members, %d indexed by id", len(r.members), len(r.byID))
	}
	named := 0
	for key, ids := range r.byName {
		named += len(ids)
		for _, id := range ids {
			m, ok := r.byID[id]
			if !ok {
				return errors.Newf("registry: name %q references missing member %d", key, id)
			}
			if nameKey(m.Name()) != key {
				return errors.Newf("registry: member %d indexed under %q", id, key)
			}
		}
	}
	if named != len(r.byID) {
		return errors.Newf("registry: %d named entries, %d members", named, len(r.byID))
	}
	for i, m := range r.members {
		if r.byID[m.ID()] != m {
			return errors.Newf("registry: ordered member %d not indexed", m.ID())
		}
		if i > 0 && r.members[i-1].joinedOrder >= m.joinedOrder {
			return errors.Newf("registry: members out of join order at %d", i)
		}
	}
	return nil
}

// RenderUserList 把显示名渲染为 USER_LIST 的内容：逗号分隔，没有结尾分隔符。
func RenderUserList(names []string) string {
	return strings.Join(names, ",")
}

func nameKey(name string) string {
	return strings.ToLower(name)
}
