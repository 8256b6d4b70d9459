package hub

import (
	"time"

	"github.com/lk2023060901/lanchat-go/pkg/util/merr"
)

// 预置的功能组合。
const (
	VariantBasic      = "basic"
	VariantCalculator = "calculator"
	VariantSwing      = "swing"
	VariantGeo        = "geo"
	VariantFull       = "full"
)

// Features 控制 hub 提供的附加能力。
type Features struct {
	// Eval 开启 "EVAL:" 表达式求值。
	Eval bool
	// UserList 开启加入/离开通知与 USER_LIST 推送。
	UserList bool
	// Geo 开启用户名提示、坐标握手以及 /get、/save。
	Geo bool
}

// Preset 返回预置组合对应的功能开关。
func Preset(variant string) (Features, error) {
	switch variant {
	case VariantBasic:
		return Features{}, nil
	case VariantCalculator:
		return Features{Eval: true}, nil
	case VariantSwing:
		return Features{UserList: true}, nil
	case VariantGeo:
		return Features{UserList: true, Geo: true}, nil
	case VariantFull, "":
		return Features{Eval: true, UserList: true, Geo: true}, nil
	default:
		return Features{}, merr.WrapErrParameterInvalidMsg("unknown variant %q", variant)
	}
}

// Config 为 hub 的配置。
type Config struct {
	Features Features

	// SendQueueSize 为每个会话的发送队列容量。
	SendQueueSize int
	// WriteTimeout 为单次写出的超时时间，0 表示不限制。
	WriteTimeout time.Duration

	// WorkerPoolSize 为执行求值与持久化的协程池大小。
	WorkerPoolSize  int
	EvalTimeout     time.Duration
	SnapshotTimeout time.Duration
}

const (
	DefaultWorkerPoolSize  = 8
	DefaultEvalTimeout     = 2 * time.Second
	DefaultSnapshotTimeout = 5 * time.Second
)

// DefaultConfig 返回开启全部功能的缺省配置。
func DefaultConfig() Config {
	f, _ := Preset(VariantFull)
	return Config{
		Features:        f,
		WorkerPoolSize:  DefaultWorkerPoolSize,
		EvalTimeout:     DefaultEvalTimeout,
		SnapshotTimeout: DefaultSnapshotTimeout,
	}
}

func (c Config) withDefaults() Config {
	if c.WorkerPoolSize <= 0 {
		c.WorkerPoolSize = DefaultWorkerPoolSize
	}
	if c.EvalTimeout <= 0 {
		c.EvalTimeout = DefaultEvalTimeout
	}
	if c.SnapshotTimeout <= 0 {
		c.SnapshotTimeout = DefaultSnapshotTimeout
	}
	return c
}
