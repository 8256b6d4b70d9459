package etcd

import (
	"context"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/server/v3/embed"
	"go.etcd.io/etcd/server/v3/etcdserver/api/v3client"
	"go.uber.org/zap"

	"github.com/lk2023060901/lanchat-go/pkg/log"
	"github.com/lk2023060901/lanchat-go/pkg/util/merr"
)

const (
	defaultDialTimeout  = 5 * time.Second
	defaultReadyTimeout = 30 * time.Second
)

// GetRemoteEtcdClient 连接外部 etcd 集群。
func GetRemoteEtcdClient(endpoints []string, dialTimeout time.Duration) (*clientv3.Client, error) {
	if len(endpoints) == 0 {
		return nil, merr.WrapErrParameterMissing("etcd endpoints")
	}
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
		Logger:      log.L().Named("etcd-client"),
	})
	if err != nil {
		return nil, merr.WrapErrIoFailed("etcd", err)
	}
	return cli, nil
}

// EmbedServer 是进程内嵌的单节点 etcd，供没有外部集群的局域网部署使用。
type EmbedServer struct {
	etcd   *embed.Etcd
	client *clientv3.Client
}

// StartEmbedServer 在 dataDir 启动一个只监听回环地址的单节点 etcd。
// 客户端与对等端口均随机选取。
func StartEmbedServer(ctx context.Context, dataDir string, logLevel string) (*EmbedServer, error) {
	clientURL, err := loopbackURL()
	if err != nil {
		return nil, err
	}
	peerURL, err := loopbackURL()
	if err != nil {
		return nil, err
	}

	cfg := embed.NewConfig()
	cfg.Dir = dataDir
	cfg.LogLevel = logLevel
	cfg.LogOutputs = []string{"stderr"}
	cfg.ListenClientUrls = []url.URL{clientURL}
	cfg.AdvertiseClientUrls = []url.URL{clientURL}
	cfg.ListenPeerUrls = []url.URL{peerURL}
	cfg.AdvertisePeerUrls = []url.URL{peerURL}
	cfg.InitialCluster = cfg.InitialClusterFromName(cfg.Name)

	e, err := embed.StartEtcd(cfg)
	if err != nil {
		log.Ctx(ctx).Error("failed to start embedded etcd", zap.String("dir", dataDir), zap.Error(err))
		return nil, merr.WrapErrServiceUnavailable(err.Error(), "embedded etcd")
	}

	timer := time.NewTimer(defaultReadyTimeout)
	defer timer.Stop()
	select {
	case <-e.Server.ReadyNotify():
	case err := <-e.Err():
		e.Close()
		return nil, merr.WrapErrServiceUnavailable(err.Error(), "embedded etcd")
	case <-timer.C:
		e.Close()
		return nil, merr.WrapErrServiceNotReady("embedded-etcd", "Starting", "not ready in time")
	case <-ctx.Done():
		e.Close()
		return nil, ctx.Err()
	}

	log.Ctx(ctx).Info("embedded etcd started",
		zap.String("dir", dataDir),
		zap.String("client", clientURL.String()))
	return &EmbedServer{etcd: e, client: v3client.New(e.Server)}, nil
}

// Client 返回直连嵌入服务的客户端，不经过网络。
func (s *EmbedServer) Client() *clientv3.Client {
	return s.client
}

// Endpoint 返回对外的客户端地址。
func (s *EmbedServer) Endpoint() string {
	return s.etcd.Config().AdvertiseClientUrls[0].String()
}

// Close 关闭客户端与嵌入服务。
func (s *EmbedServer) Close() {
	if err := s.client.Close(); err != nil && !errors.Is(err, context.Canceled) {
		log.Warn("close embedded etcd client failed", zap.Error(err))
	}
	s.etcd.Close()
}

func loopbackURL() (url.URL, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return url.URL{}, merr.WrapErrBind("127.0.0.1:0", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()
	return url.URL{Scheme: "http", Host: net.JoinHostPort("127.0.0.1", strconv.Itoa(port))}, nil
}
