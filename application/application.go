package application

import (
	"context"
	"net"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lk2023060901/lanchat-go/internal/admin"
	"github.com/lk2023060901/lanchat-go/internal/config"
	"github.com/lk2023060901/lanchat-go/internal/eval"
	"github.com/lk2023060901/lanchat-go/internal/hub"
	"github.com/lk2023060901/lanchat-go/internal/network/acceptor"
	"github.com/lk2023060901/lanchat-go/internal/snapshot"
	"github.com/lk2023060901/lanchat-go/internal/util/sessionutil"
	"github.com/lk2023060901/lanchat-go/pkg/log"
	"github.com/lk2023060901/lanchat-go/pkg/metrics"
	"github.com/lk2023060901/lanchat-go/pkg/util/etcd"
	"github.com/lk2023060901/lanchat-go/pkg/util/merr"
)

const role = "lanchat"

// registry 为进程内唯一的指标注册表，管理端口的 /metrics 从这里采集。
var registry = prometheus.NewRegistry()

// Application 持有 lanchat 服务端的全部组件：hub、TCP 接入、管理端口与快照存储。
type Application struct {
	cfg *config.Config

	hub      *hub.Hub
	acceptor *acceptor.BaseAcceptor
	admin    *admin.Server

	etcdServer *etcd.EmbedServer
	etcdClient *clientv3.Client
	instance   *sessionutil.Session

	ready     chan struct{}
	readyOnce sync.Once
}

// New 创建一个 Application，cfg 应已通过 config.Load 校验。
func New(cfg *config.Config) *Application {
	metrics.Register(registry)
	return &Application{
		cfg:   cfg,
		ready: make(chan struct{}),
	}
}

// InitLogger 按配置初始化全局 Logger。
func InitLogger(cfg *log.Config) error {
	logger, props, err := log.InitLogger(cfg)
	if err != nil {
		return errors.Wrap(err, "init global logger")
	}
	log.ReplaceGlobals(logger, props)
	return nil
}

// Ready 在所有端口绑定完成后关闭。
func (a *Application) Ready() <-chan struct{} {
	return a.ready
}

// Addr 返回聊天端口的实际监听地址，Ready 之前为 nil。
func (a *Application) Addr() net.Addr {
	if a.acceptor == nil {
		return nil
	}
	return a.acceptor.Addr()
}

// AdminAddr 返回管理端口的实际监听地址，未启用时为 nil。
func (a *Application) AdminAddr() net.Addr {
	if a.admin == nil {
		return nil
	}
	return a.admin.Addr()
}

// Hub 返回运行中的 hub，Ready 之前为 nil。
func (a *Application) Hub() *hub.Hub {
	return a.hub
}

// Run 启动服务并阻塞，直至 ctx 取消或任一端口的服务循环出错。
// 返回前按 server.shutdown_timeout 关闭全部会话与端口。
func (a *Application) Run(ctx context.Context) error {
	intentCtx, span := log.NewIntentContext(role, "serve")
	defer span.End()
	runCtx, cancel := context.WithCancel(intentCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	defer a.cleanup(runCtx)
	if err := a.setup(runCtx); err != nil {
		if a.acceptor != nil {
			_ = a.shutdown(runCtx)
		}
		return err
	}
	a.readyOnce.Do(func() { close(a.ready) })
	log.Ctx(runCtx).Info("lanchat started",
		zap.Stringer("addr", a.Addr()),
		zap.String("variant", a.cfg.Hub.Variant))

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return a.acceptor.Serve(gctx)
	})
	if a.admin != nil {
		g.Go(a.admin.Serve)
	}
	g.Go(func() error {
		<-gctx.Done()
		return a.shutdown(runCtx)
	})
	err := g.Wait()
	log.Ctx(runCtx).Info("lanchat stopped", zap.Error(err))
	return err
}

func (a *Application) setup(ctx context.Context) error {
	features, err := a.cfg.Features()
	if err != nil {
		return err
	}
	sinks, err := a.buildSinks(ctx)
	if err != nil {
		return err
	}

	a.hub = hub.New(hub.Config{
		Features:        features,
		SendQueueSize:   a.cfg.Server.SendQueueSize,
		WriteTimeout:    a.cfg.Server.WriteTimeout,
		WorkerPoolSize:  a.cfg.Hub.WorkerPoolSize,
		EvalTimeout:     a.cfg.Eval.Timeout,
		SnapshotTimeout: a.cfg.Snapshot.Timeout,
	}, eval.NewArithmetic(a.cfg.Eval.MaxLength), snapshot.Multi(sinks...))

	a.acceptor = acceptor.NewBaseAcceptor(acceptor.Config{
		MaxSessions:  a.cfg.Server.MaxSessions,
		MaxLineBytes: a.cfg.Server.MaxLineBytes,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		CloseTimeout: a.cfg.Server.ShutdownTimeout,
	}, a.hub, nil)
	if err := a.acceptor.Listen(ctx, a.cfg.ListenAddr()); err != nil {
		return err
	}

	if a.cfg.Admin.Addr != "" {
		opts := admin.Options{
			Registry: a.hub.Registry(),
			Gatherer: registry,
		}
		if a.cfg.Admin.WebSocket {
			opts.WebSocket = a.acceptor.WebSocketHandler(nil)
		}
		a.admin = admin.NewServer(opts)
		if err := a.admin.Listen(ctx, a.cfg.Admin.Addr); err != nil {
			return err
		}
	}
	return a.register(ctx)
}

// register 在 etcd 中登记本实例，未启用 etcd 或未开启登记时跳过。
func (a *Application) register(ctx context.Context) error {
	ecfg := a.cfg.Snapshot.Etcd
	if a.etcdClient == nil || !ecfg.Register {
		return nil
	}
	inst := sessionutil.Instance{
		Address: a.Addr().String(),
		Variant: a.cfg.Hub.Variant,
	}
	if addr := a.AdminAddr(); addr != nil {
		inst.AdminAddr = addr.String()
	}
	a.instance = sessionutil.NewSession(ctx, a.etcdClient, ecfg.RegisterRoot, inst, sessionutil.WithTTL(ecfg.RegisterTTL))
	return a.instance.Register()
}

// buildSinks 按配置组装快照存储，文件在前、etcd 在后。
func (a *Application) buildSinks(ctx context.Context) ([]snapshot.Sink, error) {
	var sinks []snapshot.Sink
	if a.cfg.Snapshot.File != "" {
		sinks = append(sinks, snapshot.NewFileSink(a.cfg.Snapshot.File))
	}

	ecfg := a.cfg.Snapshot.Etcd
	if !ecfg.Enable {
		return sinks, nil
	}
	if ecfg.Embed {
		srv, err := etcd.StartEmbedServer(ctx, ecfg.DataDir, a.cfg.Log.Level)
		if err != nil {
			return nil, err
		}
		a.etcdServer = srv
		a.etcdClient = srv.Client()
		log.Ctx(ctx).Info("embedded etcd started", zap.String("endpoint", srv.Endpoint()))
	} else {
		cli, err := etcd.GetRemoteEtcdClient(ecfg.Endpoints, ecfg.DialTimeout)
		if err != nil {
			return nil, err
		}
		a.etcdClient = cli
	}
	return append(sinks, snapshot.NewEtcdSink(a.etcdClient, ecfg.Key)), nil
}

func (a *Application) shutdown(ctx context.Context) error {
	timeout := a.cfg.Server.ShutdownTimeout
	log.Ctx(ctx).Info("lanchat shutting down", zap.Duration("timeout", timeout))

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	if a.instance != nil {
		a.instance.Stop()
	}
	var errs []error
	if a.admin != nil {
		errs = append(errs, a.admin.Shutdown(sctx))
	}
	errs = append(errs, a.acceptor.Shutdown(sctx))
	errs = append(errs, a.hub.Close(timeout))
	return merr.Combine(errs...)
}

func (a *Application) cleanup(ctx context.Context) {
	if a.etcdServer != nil {
		// 内嵌 etcd 的客户端随服务一起关闭。
		a.etcdServer.Close()
		return
	}
	if a.etcdClient != nil {
		if err := a.etcdClient.Close(); err != nil {
			log.Ctx(ctx).Warn("close etcd client failed", zap.Error(err))
		}
	}
}
