package admin

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lk2023060901/lanchat-go/internal/hub"
	"github.com/lk2023060901/lanchat-go/internal/json"
	"github.com/lk2023060901/lanchat-go/pkg/log"
	"github.com/lk2023060901/lanchat-go/pkg/util/merr"
)

const readHeaderTimeout = 5 * time.Second

// Options 描述管理端口挂载的内容。
type Options struct {
	Registry *hub.Registry
	Gatherer prometheus.Gatherer
	// WebSocket 不为 nil 时挂载在 /ws。
	WebSocket http.Handler
}

// Server 是管理端口上的 HTTP 服务：健康检查、Prometheus 指标、在线用户以及 WebSocket 入口。
type Server struct {
	opts Options
	srv  *http.Server
	ln   net.Listener
}

func NewServer(opts Options) *Server {
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{opts: opts}
	s.srv = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s
}

// Router 返回挂载了全部路由的 handler。
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.healthz)
	r.Get("/users", s.users)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	if s.opts.WebSocket != nil {
		r.Method(http.MethodGet, "/ws", s.opts.WebSocket)
	}
	return r
}

// Listen 绑定管理端口。
func (s *Server) Listen(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return merr.WrapErrBind(addr, err, "admin")
	}
	s.ln = ln
	log.Ctx(ctx).Info("admin server listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Addr 返回实际监听地址，未绑定时为 nil。
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve 阻塞直至 Shutdown 被调用。
func (s *Server) Serve() error {
	if s.ln == nil {
		return merr.WrapErrServiceNotReady("admin", "Unbound")
	}
	if err := s.srv.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return merr.WrapErrTransport(err, "admin serve")
	}
	return nil
}

// Shutdown 停止接受新请求并等待进行中的请求结束。
// 已升级的 WebSocket 连接不由这里关闭，它们随接入层一起停机。
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

type healthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	if s.opts.Registry != nil {
		resp.Sessions = s.opts.Registry.Count()
	}
	writeJSON(w, r, resp)
}

type userEntry struct {
	ID        uint64   `json:"id"`
	UserName  string   `json:"userName"`
	Remote    string   `json:"remote,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

type usersResponse struct {
	Count int         `json:"count"`
	Users []userEntry `json:"users"`
}

func (s *Server) users(w http.ResponseWriter, r *http.Request) {
	resp := usersResponse{Users: []userEntry{}}
	if s.opts.Registry != nil {
		for _, m := range s.opts.Registry.Snapshot() {
			e := userEntry{ID: m.ID(), UserName: m.Name()}
			if addr := m.RemoteAddr(); addr != nil {
				e.Remote = addr.String()
			}
			if loc, ok := m.Location(); ok {
				e.Latitude, e.Longitude = &loc.Latitude, &loc.Longitude
			}
			resp.Users = append(resp.Users, e)
		}
	}
	resp.Count = len(resp.Users)
	writeJSON(w, r, resp)
}

func writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Ctx(r.Context()).Warn("encode admin response failed", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(append(data, '\n'))
}
