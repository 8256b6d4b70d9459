package snapshot

import (
	"context"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/lk2023060901/lanchat-go/internal/json"
	"github.com/lk2023060901/lanchat-go/pkg/log"
	"github.com/lk2023060901/lanchat-go/pkg/util/merr"
)

// DefaultEtcdKey 为用户列表在 etcd 中的缺省键。
const DefaultEtcdKey = "lanchat/users"

// Putter 是 EtcdSink 需要的最小 etcd 能力，clientv3.KV 满足该接口。
type Putter interface {
	Put(ctx context.Context, key, val string, opts ...clientv3.OpOption) (*clientv3.PutResponse, error)
}

// EtcdSink 把用户列表以 JSON 写入 etcd 的一个键。
type EtcdSink struct {
	kv  Putter
	key string
}

var _ Sink = (*EtcdSink)(nil)

func NewEtcdSink(kv Putter, key string) *EtcdSink {
	if key == "" {
		key = DefaultEtcdKey
	}
	return &EtcdSink{kv: kv, key: key}
}

func (s *EtcdSink) Name() string {
	return "etcd:" + s.key
}

func (s *EtcdSink) Persist(ctx context.Context, users []User) error {
	val, err := json.MarshalToString(nonNil(users))
	if err != nil {
		return merr.WrapErrPersistence(s.Name(), err)
	}
	resp, err := s.kv.Put(ctx, s.key, val)
	if err != nil {
		return merr.WrapErrPersistence(s.Name(), err)
	}
	fields := []zap.Field{zap.String("key", s.key), zap.Int("users", len(users))}
	if resp != nil && resp.Header != nil {
		fields = append(fields, zap.Int64("revision", resp.Header.Revision))
	}
	log.Ctx(ctx).Info("user data saved", fields...)
	return nil
}
