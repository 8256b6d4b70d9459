package snapshot

import (
	"context"
	"math"
	"strconv"
	"strings"

	"github.com/lk2023060901/lanchat-go/pkg/util/merr"
)

// Degrees 是以度为单位的经纬度。
// JSON 中总是带小数部分，例如 1 编码为 1.0。
type Degrees float64

func (d Degrees) MarshalJSON() ([]byte, error) {
	f := float64(d)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, merr.WrapErrParameterInvalidMsg("coordinate %v is not finite", f)
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return []byte(s), nil
}

// User 是用户列表中的一项，也是 USER_COORDINATES 的载荷。
type User struct {
	UserName  string  `json:"userName"`
	Latitude  Degrees `json:"latitude"`
	Longitude Degrees `json:"longitude"`
}

// Sink 持久化当前的用户列表。
type Sink interface {
	Name() string
	Persist(ctx context.Context, users []User) error
}

type multiSink []Sink

// Multi 把多个 Sink 组合为一个，依次写入全部目标，错误合并返回。
func Multi(sinks ...Sink) Sink {
	if len(sinks) == 1 {
		return sinks[0]
	}
	return multiSink(sinks)
}

func (m multiSink) Name() string {
	names := make([]string, 0, len(m))
	for _, s := range m {
		names = append(names, s.Name())
	}
	return strings.Join(names, "+")
}

func (m multiSink) Persist(ctx context.Context, users []User) error {
	errs := make([]error, 0, len(m))
	for _, s := range m {
		errs = append(errs, s.Persist(ctx, users))
	}
	return merr.Combine(errs...)
}

// Discard 丢弃所有写入，用于未配置任何目标的情况。
type Discard struct{}

func (Discard) Name() string { return "discard" }

func (Discard) Persist(context.Context, []User) error { return nil }

func nonNil(users []User) []User {
	if users == nil {
		return []User{}
	}
	return users
}
