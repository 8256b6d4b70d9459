package hub

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/lk2023060901/lanchat-go/pkg/metrics"
	"github.com/lk2023060901/lanchat-go/pkg/util/merr"
)

// Kind 为入站行的分类。
type Kind string

const (
	KindChat Kind = "chat"
	KindEval Kind = "eval"
	KindGet  Kind = "get"
	KindSave Kind = "save"
	KindQuit Kind = "quit"
)

// Command 是分类后的一行输入。
type Command struct {
	Kind Kind
	// Arg 为标记之后的参数，已去除首尾空白；聊天消息时为空。
	Arg string
	// Line 为原始行。
	Line string
}

// HandlerFunc 处理一条命令。返回非 nil 错误时会话进入关闭流程，
// 因此处理器自身的失败（求值、持久化）应当回复给发送方而不是返回。
type HandlerFunc func(m *Member, cmd Command) error

type marker struct {
	prefix string
	kind   Kind
	// bounded 表示标记之后必须是行尾或空白，"/getaway" 不是 /get 命令。
	bounded bool
}

// 按优先级排列。
var markers = []marker{
	{prefix: "EVAL:", kind: KindEval},
	{prefix: "/get", kind: KindGet, bounded: true},
	{prefix: "/save", kind: KindSave, bounded: true},
	{prefix: "/quit", kind: KindQuit, bounded: true},
}

// Dispatcher 维护命令类型到处理器的映射。
// 未注册处理器的标记（对应功能未开启）按普通聊天处理。
type Dispatcher struct {
	routes map[Kind]HandlerFunc
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{routes: make(map[Kind]HandlerFunc)}
}

// Register 为 kind 注册处理器，同一类型不允许重复注册。
func (d *Dispatcher) Register(kind Kind, h HandlerFunc) error {
	if kind == "" {
		return merr.WrapErrParameterMissing("kind")
	}
	if h == nil {
		return merr.WrapErrParameterMissing("handler", string(kind))
	}
	if _, ok := d.routes[kind]; ok {
		return merr.WrapErrParameterInvalidMsg("handler for %s already registered", kind)
	}
	d.routes[kind] = h
	return nil
}

// Classify 对一行输入分类。标记区分大小写，在去除首尾空白后的行首匹配。
func (d *Dispatcher) Classify(line string) Command {
	trimmed := strings.TrimSpace(line)
	for _, mk := range markers {
		if _, ok := d.routes[mk.kind]; !ok {
			continue
		}
		rest, ok := strings.CutPrefix(trimmed, mk.prefix)
		if !ok {
			continue
		}
		if mk.bounded && rest != "" {
			if r, _ := utf8.DecodeRuneInString(rest); !unicode.IsSpace(r) {
				continue
			}
		}
		return Command{Kind: mk.kind, Arg: strings.TrimSpace(rest), Line: line}
	}
	return Command{Kind: KindChat, Line: line}
}

// Dispatch 分类并调用对应的处理器。
func (d *Dispatcher) Dispatch(m *Member, line string) error {
	cmd := d.Classify(line)
	h, ok := d.routes[cmd.Kind]
	if !ok {
		return merr.WrapErrRouteNotFound(cmd.Kind)
	}
	metrics.CommandsTotal.WithLabelValues(string(cmd.Kind)).Inc()
	return h(m, cmd)
}
