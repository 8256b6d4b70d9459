// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sessionutil

import (
	"context"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"go.etcd.io/etcd/api/v3/mvccpb"
	v3rpc "go.etcd.io/etcd/api/v3/v3rpc/rpctypes"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/lk2023060901/lanchat-go/internal/json"
	"github.com/lk2023060901/lanchat-go/pkg/log"
	"github.com/lk2023060901/lanchat-go/pkg/util/merr"
	"github.com/lk2023060901/lanchat-go/pkg/util/retry"
)

const (
	// DefaultServiceRoot 为实例登记使用的默认根路径。
	DefaultServiceRoot = "lanchat/instances"

	defaultSessionTTL        int64 = 30
	defaultSessionRetryTimes uint  = 10
)

// Instance 为登记在 etcd 中的 hub 实例信息。
type Instance struct {
	Address   string `json:"address"`
	Variant   string `json:"variant,omitempty"`
	AdminAddr string `json:"adminAddr,omitempty"`
	StartedAt int64  `json:"startedAt"`
}

// Session 将当前 hub 实例登记到 etcd，并以租约保活。
//
// key: root + "/" + Address，value 为 Instance 的 JSON。进程退出或租约过期后 key 自动删除。
type Session struct {
	Instance

	ctx    context.Context
	cancel context.CancelFunc
	cli    *clientv3.Client
	root   string

	ttl        int64
	retryTimes uint

	leaseID    atomic.Int64
	registered atomic.Bool
	wg         sync.WaitGroup
}

type SessionOption func(*Session)

// WithTTL 设置租约 TTL，单位秒。
func WithTTL(ttl int64) SessionOption {
	return func(s *Session) { s.ttl = ttl }
}

func WithRetryTimes(n uint) SessionOption {
	return func(s *Session) { s.retryTimes = n }
}

// NewSession 创建一个尚未登记的 Session，root 为空时使用 DefaultServiceRoot。
func NewSession(ctx context.Context, cli *clientv3.Client, root string, inst Instance, opts ...SessionOption) *Session {
	if root == "" {
		root = DefaultServiceRoot
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		Instance:   inst,
		ctx:        ctx,
		cancel:     cancel,
		cli:        cli,
		root:       strings.TrimSuffix(root, "/"),
		ttl:        defaultSessionTTL,
		retryTimes: defaultSessionRetryTimes,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.StartedAt == 0 {
		s.StartedAt = time.Now().Unix()
	}
	return s
}

func (s *Session) logger() *log.MLogger {
	return log.Ctx(s.ctx).With(zap.String("instance", s.Address), zap.Int64("leaseID", s.leaseID.Load()))
}

// Key 返回当前实例的完整 key。
func (s *Session) Key() string {
	return path.Join(s.root, s.Address)
}

// Registered 返回实例当前是否已登记。
func (s *Session) Registered() bool {
	return s.registered.Load()
}

// Register 登记实例并启动保活循环。
func (s *Session) Register() error {
	if s.Address == "" {
		return merr.WrapErrParameterMissing("instance address")
	}
	if err := s.registerService(); err != nil {
		return err
	}
	s.wg.Add(1)
	go s.processKeepAliveResponse()
	return nil
}

// registerService 申请租约并以 CAS 写入实例信息。
// key 已存在且地址相同时视为同一地址上的重启：删除旧记录后重试。
func (s *Session) registerService() error {
	key := s.Key()
	value, err := json.Marshal(s.Instance)
	if err != nil {
		return err
	}

	registerFn := func() error {
		resp, err := s.cli.Grant(s.ctx, s.ttl)
		if err != nil {
			s.logger().Warn("register instance: failed to grant lease", zap.Error(err))
			return err
		}
		s.leaseID.Store(int64(resp.ID))

		txnResp, err := s.cli.Txn(s.ctx).If(
			clientv3.Compare(clientv3.Version(key), "=", 0)).
			Then(clientv3.OpPut(key, string(value), clientv3.WithLease(resp.ID))).Commit()
		if err != nil {
			s.logger().Warn("register on etcd error, check the availability of etcd", zap.Error(err))
			return err
		}
		if !txnResp.Succeeded {
			_, _ = s.cli.Revoke(s.ctx, resp.ID)
			s.handleRestart(key)
			return merr.WrapErrDuplicateIdentity(key)
		}
		s.registered.Store(true)
		s.logger().Info("instance registered", zap.String("key", key), zap.ByteString("value", value))
		return nil
	}
	return retry.Do(s.ctx, registerFn, retry.Attempts(s.retryTimes), retry.Sleep(100*time.Millisecond))
}

// handleRestart 清理同一地址上遗留的旧记录。
func (s *Session) handleRestart(key string) {
	logger := s.logger().With(zap.String("key", key))
	resp, err := s.cli.Get(s.ctx, key)
	if err != nil {
		logger.Warn("failed to read old instance from etcd, ignore", zap.Error(err))
		return
	}
	for _, kv := range resp.Kvs {
		old := Instance{}
		if err := json.Unmarshal(kv.Value, &old); err != nil {
			logger.Warn("failed to unmarshal old instance, ignore", zap.Error(err))
			return
		}
		if old.Address == s.Address {
			logger.Warn("found stale instance with the same address, assume restart and purge it")
			if _, err := s.cli.Delete(s.ctx, key); err != nil {
				logger.Warn("failed to delete stale instance", zap.Error(err))
			}
		}
	}
}

// processKeepAliveResponse 保持租约存活，直到 Stop 被调用。
// 租约在服务端丢失时重新登记；退出前回收租约。
func (s *Session) processKeepAliveResponse() {
	defer func() {
		// s.ctx 此时已经结束，使用独立的超时上下文回收租约。
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if _, err := s.cli.Revoke(ctx, clientv3.LeaseID(s.leaseID.Load())); err != nil {
			s.logger().Warn("failed to revoke lease", zap.Error(err))
		} else {
			s.logger().Info("lease revoked")
		}
		s.registered.Store(false)
		s.wg.Done()
	}()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	bo.MaxInterval = 10 * time.Second
	bo.MaxElapsedTime = 0
	bo.Reset()

	var lastErr error
	for {
		if s.ctx.Err() != nil {
			return
		}
		if lastErr != nil {
			delay := bo.NextBackOff()
			s.logger().Warn("keep alive failed, wait for retry", zap.Error(lastErr), zap.Duration("delay", delay))
			select {
			case <-time.After(delay):
			case <-s.ctx.Done():
				return
			}
		}

		ch, err := s.cli.KeepAlive(s.ctx, clientv3.LeaseID(s.leaseID.Load()))
		if err != nil {
			if errors.Is(err, v3rpc.ErrLeaseNotFound) {
				s.registered.Store(false)
				s.logger().Warn("lease lost, register again")
				lastErr = s.registerService()
				continue
			}
			lastErr = errors.Wrap(err, "failed to keep alive")
			continue
		}
		// 阻塞直到 KeepAlive 通道关闭：ctx 结束、租约过期或网络错误。
		for range ch {
		}
		if s.ctx.Err() != nil {
			return
		}
		if !s.leaseAlive() {
			s.registered.Store(false)
			s.logger().Warn("lease expired, register again")
			lastErr = s.registerService()
			continue
		}
		lastErr = nil
		bo.Reset()
	}
}

func (s *Session) leaseAlive() bool {
	resp, err := s.cli.TimeToLive(s.ctx, clientv3.LeaseID(s.leaseID.Load()))
	return err == nil && resp.TTL > 0
}

// Stop 停止保活并回收租约，实例记录随之删除。
func (s *Session) Stop() {
	s.cancel()
	s.wg.Wait()
}

// ListInstances 返回 root 下所有已登记的实例，以及读取时的 revision。
func ListInstances(ctx context.Context, cli *clientv3.Client, root string) ([]Instance, int64, error) {
	if root == "" {
		root = DefaultServiceRoot
	}
	resp, err := cli.Get(ctx, strings.TrimSuffix(root, "/")+"/", clientv3.WithPrefix(), clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend))
	if err != nil {
		return nil, 0, merr.WrapErrTransport(err, "list instances")
	}
	out := make([]Instance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		inst := Instance{}
		if err := json.Unmarshal(kv.Value, &inst); err != nil {
			log.Ctx(ctx).Warn("skip malformed instance", zap.ByteString("key", kv.Key), zap.Error(err))
			continue
		}
		out = append(out, inst)
	}
	return out, resp.Header.Revision, nil
}

type EventType int

const (
	EventAdd EventType = iota
	EventDel
)

func (t EventType) String() string {
	switch t {
	case EventAdd:
		return "Add"
	case EventDel:
		return "Del"
	default:
		return "Unknown"
	}
}

// Event 为实例上下线事件。删除事件只有 Address 有效。
type Event struct {
	Type     EventType
	Instance Instance
}

// WatchInstances 从 revision+1 开始监听 root 下的实例变化，ctx 结束后通道关闭。
func WatchInstances(ctx context.Context, cli *clientv3.Client, root string, revision int64) <-chan Event {
	if root == "" {
		root = DefaultServiceRoot
	}
	prefix := strings.TrimSuffix(root, "/") + "/"
	out := make(chan Event, 16)
	wch := cli.Watch(ctx, prefix, clientv3.WithPrefix(), clientv3.WithRev(revision+1), clientv3.WithPrevKV())
	go func() {
		defer close(out)
		for wresp := range wch {
			if err := wresp.Err(); err != nil {
				log.Ctx(ctx).Warn("watch instances failed", zap.Error(err))
				return
			}
			for _, ev := range wresp.Events {
				e := Event{}
				switch ev.Type {
				case mvccpb.PUT:
					e.Type = EventAdd
					if err := json.Unmarshal(ev.Kv.Value, &e.Instance); err != nil {
						continue
					}
				case mvccpb.DELETE:
					e.Type = EventDel
					e.Instance.Address = strings.TrimPrefix(string(ev.Kv.Key), prefix)
				}
				select {
				case out <- e:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
