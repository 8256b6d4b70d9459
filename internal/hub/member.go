package hub

import (
	"go.uber.org/atomic"

	"github.com/lk2023060901/lanchat-go/internal/network/session"
	"github.com/lk2023060901/lanchat-go/internal/snapshot"
	"github.com/lk2023060901/lanchat-go/pkg/log"
)

// State 为成员的生命周期状态，只能单向推进。
type State int32

const (
	StateConnecting State = iota
	StateHandshaking
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateHandshaking:
		return "Handshaking"
	case StateActive:
		return "Active"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

type handshakeStep int

const (
	stepName handshakeStep = iota
	stepLatitude
	stepLongitude
)

// Location 为握手时上报的坐标。
type Location struct {
	Latitude  float64
	Longitude float64
}

// Member 是 hub 视角下的一个会话：底层 Session 加上显示名、坐标与生命周期状态。
//
// name 与 location 只在握手阶段由连接协程写入，之后只读；
// 其他协程通过 Registry 拿到 Member 时，登记时的加锁保证了可见性。
type Member struct {
	session.Session

	state atomic.Int32

	step        handshakeStep
	pendingLat  string
	name        string
	location    *Location
	logger      *log.MLogger
	joinedOrder uint64
}

func newMember(sess session.Session) *Member {
	m := &Member{Session: sess}
	m.logger = log.Ctx(sess.Context())
	return m
}

// Name 返回握手时确定的显示名，握手完成前为空。
func (m *Member) Name() string {
	return m.name
}

// Location 返回坐标，未上报坐标时第二个返回值为 false。
func (m *Member) Location() (Location, bool) {
	if m.location == nil {
		return Location{}, false
	}
	return *m.location, true
}

// User 返回用户列表中的对应项。
func (m *Member) User() (snapshot.User, bool) {
	loc, ok := m.Location()
	if !ok {
		return snapshot.User{}, false
	}
	return snapshot.User{
		UserName:  m.name,
		Latitude:  snapshot.Degrees(loc.Latitude),
		Longitude: snapshot.Degrees(loc.Longitude),
	}, true
}

// State 返回当前状态。进入 Closing 且底层连接已释放时视为 Closed。
func (m *Member) State() State {
	st := State(m.state.Load())
	if st == StateClosing {
		select {
		case <-m.Done():
			return StateClosed
		default:
		}
	}
	return st
}

// Logger 返回携带会话字段的 Logger，握手后还带有 user 字段。
func (m *Member) Logger() *log.MLogger {
	return m.logger
}

func (m *Member) setName(name string) {
	m.name = name
	m.logger = m.logger.With(log.FieldUser(name))
}

// transition 仅在当前状态为 from 时切换到 to。
func (m *Member) transition(from, to State) bool {
	return m.state.CompareAndSwap(int32(from), int32(to))
}

// advance 把状态推进到 to，已经处于 to 之后的状态时不做任何事。
func (m *Member) advance(to State) {
	for {
		cur := m.state.Load()
		if cur >= int32(to) {
			return
		}
		if m.state.CompareAndSwap(cur, int32(to)) {
			return
		}
	}
}
