package hub

import (
	"context"
	"math"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/lk2023060901/lanchat-go/internal/eval"
	"github.com/lk2023060901/lanchat-go/internal/json"
	network "github.com/lk2023060901/lanchat-go/internal/network"
	"github.com/lk2023060901/lanchat-go/internal/network/acceptor"
	"github.com/lk2023060901/lanchat-go/internal/network/session"
	"github.com/lk2023060901/lanchat-go/internal/snapshot"
	"github.com/lk2023060901/lanchat-go/pkg/log"
	"github.com/lk2023060901/lanchat-go/pkg/metrics"
	"github.com/lk2023060901/lanchat-go/pkg/util/conc"
	"github.com/lk2023060901/lanchat-go/pkg/util/merr"
)

// 发给客户端的固定文本。
const (
	PromptUsername  = "Enter your username:"
	PromptLatitude  = "Enter your latitude:"
	PromptLongitude = "Enter your longitude:"

	DefaultName = "Anonymous"

	EvalUsage   = "You can send messages or mathematical expressions prefixed with 'EVAL:'. For example:"
	EvalExample = "EVAL: 5 * (3 + 2)"

	NoticeInvalidCoordinates = "Invalid coordinates. Connection will be closed."
	NoticeLineTooLong        = "Line too long. Connection will be closed."
	NoticeUserNotFound       = "User not found."
	NoticeSaved              = "User data has been saved."
	NoticeSaveFailed         = "Error saving user data."
	NoticeGoodbye            = "Goodbye."

	resultPrefix      = "RESULT:"
	resultEvalFailed  = "Error evaluating expression."
	coordinatesPrefix = "USER_COORDINATES:"
)

// errQuit 表示客户端主动发送了 /quit。
var errQuit = errors.New("client quit")

// Hub 把接入层的连接事件转换为聊天室语义：握手、命令分发、加入与离开通知。
//
// Hub 实现了 acceptor.Handler，同一会话上的回调由接入层串行调用，
// 因此握手状态只在该会话的连接协程中读写。
type Hub struct {
	log.Binder

	cfg Config

	ids         session.Uint64IDGenerator
	registry    *Registry
	broadcaster *Broadcaster
	dispatcher  *Dispatcher

	evaluator eval.Evaluator
	sink      snapshot.Sink
	workers   *conc.Pool[string]
}

var _ acceptor.Handler = (*Hub)(nil)

// New 创建一个 Hub。evaluator 与 sink 只在对应功能开启时使用，可以为 nil。
func New(cfg Config, evaluator eval.Evaluator, sink snapshot.Sink) *Hub {
	cfg = cfg.withDefaults()
	if evaluator == nil {
		evaluator = eval.NewArithmetic(0)
	}
	if sink == nil {
		sink = snapshot.Discard{}
	}

	registry := NewRegistry()
	h := &Hub{
		cfg:         cfg,
		registry:    registry,
		broadcaster: NewBroadcaster(registry),
		dispatcher:  NewDispatcher(),
		evaluator:   evaluator,
		sink:        sink,
		workers:     conc.NewPool[string](cfg.WorkerPoolSize, conc.WithNonBlocking(true), conc.WithConcealPanic(true)),
	}
	h.SetLogger(log.With(log.FieldModule("hub")))

	_ = h.dispatcher.Register(KindChat, h.handleChat)
	_ = h.dispatcher.Register(KindQuit, h.handleQuit)
	if cfg.Features.Eval {
		_ = h.dispatcher.Register(KindEval, h.handleEval)
	}
	if cfg.Features.Geo {
		_ = h.dispatcher.Register(KindGet, h.handleGet)
		_ = h.dispatcher.Register(KindSave, h.handleSave)
	}
	return h
}

// Registry 返回成员表。
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Broadcaster 返回广播器。
func (h *Hub) Broadcaster() *Broadcaster {
	return h.broadcaster
}

// Close 释放工作协程池，最多等待 timeout。
func (h *Hub) Close(timeout time.Duration) error {
	return h.workers.ReleaseTimeout(timeout)
}

// OnAccept 实现 acceptor.Handler。
func (h *Hub) OnAccept(ctx context.Context, conn net.Conn) (session.Session, error) {
	sess := session.NewBaseSession(ctx, h.ids.Next(), conn, session.Options{
		SendQueueSize: h.cfg.SendQueueSize,
		WriteTimeout:  h.cfg.WriteTimeout,
	})
	m := newMember(sess)
	m.Logger().Debug("new client connected")
	return m, nil
}

// OnConnected 实现 acceptor.Handler。
func (h *Hub) OnConnected(sess session.Session) error {
	m := sess.(*Member)
	m.advance(StateHandshaking)
	if h.cfg.Features.Geo {
		return m.Send(PromptUsername)
	}
	return nil
}

// OnMessage 实现 acceptor.Handler。
func (h *Hub) OnMessage(sess session.Session, line string) error {
	m := sess.(*Member)
	switch m.State() {
	case StateHandshaking:
		return h.handshake(m, line)
	case StateActive:
		return h.dispatcher.Dispatch(m, line)
	default:
		return merr.WrapErrSessionClosed(m.ID())
	}
}

// OnClosed 实现 acceptor.Handler。
//
// 只有进入过 Active 的成员才会注销并广播离开通知，每个成员最多一次。
func (h *Hub) OnClosed(sess session.Session, cause error) {
	m := sess.(*Member)
	if errors.Is(cause, merr.ErrLineTooLong) {
		_ = m.Send(NoticeLineTooLong)
	}

	if !m.transition(StateActive, StateClosing) {
		m.advance(StateClosing)
		m.Logger().Debug("client left before handshake completed", zap.Error(cause))
		return
	}

	h.registry.Unregister(m.ID())
	metrics.ActiveSessions.Dec()

	if errors.Is(cause, errQuit) {
		cause = nil
	}
	m.Logger().Info("user disconnected", zap.Error(cause))

	if h.cfg.Features.UserList {
		h.broadcaster.Broadcast(m.Name()+" has left the chat.", m.ID())
		h.broadcaster.NotifyUserListChanged()
	}
}

// OnError 实现 acceptor.Handler。
func (h *Hub) OnError(sess session.Session, stage network.Stage, err error) {
	logger := h.Logger()
	if m, ok := sess.(*Member); ok {
		logger = m.Logger()
	}
	if errors.Is(err, merr.ErrServerFull) {
		logger.RatedInfo(1, "connection rejected", zap.String("stage", stage.String()), zap.Error(err))
		return
	}
	logger.RatedWarn(1, "session error", zap.String("stage", stage.String()), zap.Error(err))
}

func (h *Hub) handshake(m *Member, line string) error {
	switch m.step {
	case stepName:
		name := strings.TrimSpace(line)
		if name == "" {
			name = DefaultName
		}
		m.setName(name)
		m.Logger().Info("user connected")

		lines := []string{"Welcome to the chat room, " + name + "!"}
		if h.cfg.Features.Eval {
			lines = append(lines, EvalUsage, EvalExample)
		}
		if h.cfg.Features.Geo {
			lines = append(lines, PromptLatitude)
		}
		for _, l := range lines {
			if err := m.Send(l); err != nil {
				return err
			}
		}
		if h.cfg.Features.Geo {
			m.step = stepLatitude
			return nil
		}
		return h.activate(m)

	case stepLatitude:
		m.pendingLat = line
		m.step = stepLongitude
		return m.Send(PromptLongitude)

	case stepLongitude:
		lat, latErr := parseCoordinate(m.pendingLat)
		lon, lonErr := parseCoordinate(line)
		if err := merr.Combine(latErr, lonErr); err != nil {
			metrics.HandshakeFailures.WithLabelValues("invalid_coordinates").Inc()
			_ = m.Send(NoticeInvalidCoordinates)
			return merr.WrapErrProtocolViolation(err.Error(), "coordinate handshake")
		}
		m.location = &Location{Latitude: lat, Longitude: lon}
		return h.activate(m)
	}
	return merr.WrapErrHandshakeIncomplete(m.ID(), strconv.Itoa(int(m.step)))
}

// activate 登记成员并通知其他人：先登记，再广播加入，最后推送用户列表。
func (h *Hub) activate(m *Member) error {
	if err := h.registry.Register(m); err != nil {
		return err
	}
	if !m.transition(StateHandshaking, StateActive) {
		h.registry.Unregister(m.ID())
		return merr.WrapErrSessionClosed(m.ID())
	}
	metrics.ActiveSessions.Inc()

	if h.cfg.Features.UserList {
		h.broadcaster.Broadcast(m.Name()+" has joined the chat.", m.ID())
		h.broadcaster.NotifyUserListChanged()
	}
	return nil
}

func (h *Hub) handleChat(m *Member, cmd Command) error {
	m.Logger().Info("chat message", zap.String("line", cmd.Line))
	h.broadcaster.Broadcast("["+m.Name()+"]: "+cmd.Line, m.ID())
	return nil
}

func (h *Hub) handleQuit(m *Member, _ Command) error {
	_ = m.Send(NoticeGoodbye)
	return errQuit
}

func (h *Hub) handleEval(m *Member, cmd Command) error {
	m.Logger().Info("received expression", zap.String("expression", cmd.Arg))
	result, err := h.runOnWorker(m, string(KindEval), h.cfg.EvalTimeout, func(ctx context.Context) (string, error) {
		return h.evaluator.Evaluate(ctx, cmd.Arg)
	})
	if err != nil {
		m.Logger().Warn("evaluate expression failed", zap.String("expression", cmd.Arg), zap.Error(err))
		result = resultEvalFailed
	}
	return m.Send(resultPrefix + result)
}

func (h *Hub) handleGet(m *Member, cmd Command) error {
	target, ok := h.registry.FindByName(cmd.Arg)
	if !ok {
		return m.Send(NoticeUserNotFound)
	}
	user, ok := target.User()
	if !ok {
		return m.Send(NoticeUserNotFound)
	}
	payload, err := json.MarshalToString(user)
	if err != nil {
		m.Logger().Warn("encode coordinates failed", zap.String("target", user.UserName), zap.Error(err))
		return m.Send(NoticeUserNotFound)
	}
	return m.Send(coordinatesPrefix + payload)
}

func (h *Hub) handleSave(m *Member, _ Command) error {
	users := h.registry.Users()
	_, err := h.runOnWorker(m, string(KindSave), h.cfg.SnapshotTimeout, func(ctx context.Context) (string, error) {
		return "", h.sink.Persist(ctx, users)
	})
	if err != nil {
		m.Logger().Warn("save user data failed", zap.String("sink", h.sink.Name()), zap.Error(err))
		return m.Send(NoticeSaveFailed)
	}
	return m.Send(NoticeSaved)
}

// runOnWorker 在工作协程池中执行 fn，并在 timeout 内等待结果。
// 协程池已满时立即失败，不占用调用方的等待时间；超时后不再等待，fn 通过 ctx 感知取消。
func (h *Hub) runOnWorker(m *Member, kind string, timeout time.Duration, fn func(ctx context.Context) (string, error)) (string, error) {
	ctx, cancel := context.WithTimeout(m.Context(), timeout)
	defer cancel()

	future := h.workers.Submit(func() (string, error) {
		return fn(ctx)
	})
	select {
	case <-future.Inner():
		result, err := future.Await()
		if err != nil {
			return "", merr.WrapErrHandler(kind, err)
		}
		return result, nil
	case <-ctx.Done():
		return "", merr.WrapErrHandler(kind, ctx.Err())
	}
}

// parseCoordinate 解析十进制坐标，拒绝十六进制写法、NaN 与无穷大。
func parseCoordinate(s string) (float64, error) {
	s = strings.TrimSpace(s)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || strings.ContainsAny(s, "xX_") {
		return 0, merr.WrapErrParameterInvalidMsg("coordinate %q is not a decimal number", s)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, merr.WrapErrParameterInvalidMsg("coordinate %q is not finite", s)
	}
	return v, nil
}
