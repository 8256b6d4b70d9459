package admin

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	"github.com/lk2023060901/lanchat-go/internal/hub"
	"github.com/lk2023060901/lanchat-go/internal/json"
	"github.com/lk2023060901/lanchat-go/internal/network/acceptor"
	"github.com/lk2023060901/lanchat-go/internal/network/connector"
	"github.com/lk2023060901/lanchat-go/pkg/metrics"
)

var testRegistry = prometheus.NewRegistry()

type AdminSuite struct {
	suite.Suite

	hub    *hub.Hub
	acc    *acceptor.BaseAcceptor
	admin  *Server
	http   *httptest.Server
	cancel context.CancelFunc
}

func (s *AdminSuite) SetupSuite() {
	metrics.Register(testRegistry)
}

func (s *AdminSuite) SetupTest() {
	f, err := hub.Preset(hub.VariantGeo)
	s.Require().NoError(err)
	s.hub = hub.New(hub.Config{Features: f}, nil, nil)
	s.acc = acceptor.NewBaseAcceptor(acceptor.Config{}, s.hub, nil)

	var ctx context.Context
	ctx, s.cancel = context.WithCancel(context.Background())
	s.Require().NoError(s.acc.Listen(ctx, "127.0.0.1:0"))
	go func() { _ = s.acc.Serve(ctx) }()

	s.admin = NewServer(Options{
		Registry:  s.hub.Registry(),
		Gatherer:  testRegistry,
		WebSocket: s.acc.WebSocketHandler(nil),
	})
	s.http = httptest.NewServer(s.admin.Router())
}

func (s *AdminSuite) TearDownTest() {
	s.http.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	s.NoError(s.acc.Shutdown(ctx))
	s.cancel()
	s.NoError(s.hub.Close(time.Second))
}

func (s *AdminSuite) get(path string) (int, string) {
	resp, err := http.Get(s.http.URL + path)
	s.Require().NoError(err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	s.Require().NoError(err)
	return resp.StatusCode, string(body)
}

func (s *AdminSuite) recv(cc *connector.ClientConn) string {
	select {
	case line, ok := <-cc.Recv():
		s.Require().True(ok)
		return line
	case <-time.After(3 * time.Second):
		s.FailNow("timed out waiting for a line")
		return ""
	}
}

// join 通过 addr 完成 geo 握手。
func (s *AdminSuite) join(addr, name, lat, lon string) *connector.ClientConn {
	cc, err := connector.Dial(context.Background(), addr, connector.Config{})
	s.Require().NoError(err)
	s.T().Cleanup(func() { cc.Abort(nil) })

	s.Equal(hub.PromptUsername, s.recv(cc))
	s.Require().NoError(cc.Send(name))
	s.Equal("Welcome to the chat room, "+name+"!", s.recv(cc))
	s.Equal(hub.PromptLatitude, s.recv(cc))
	s.Require().NoError(cc.Send(lat))
	s.Equal(hub.PromptLongitude, s.recv(cc))
	s.Require().NoError(cc.Send(lon))
	s.True(strings.HasPrefix(s.recv(cc), "USER_LIST:"))
	return cc
}

func (s *AdminSuite) TestHealthz() {
	code, body := s.get("/healthz")
	s.Equal(http.StatusOK, code)
	s.JSONEq(`{"status":"ok","sessions":0}`, body)
}

func (s *AdminSuite) TestUsersAndWebSocket() {
	s.join(s.acc.Addr().String(), "alice", "1.5", "2")
	wsURL := "ws" + strings.TrimPrefix(s.http.URL, "http") + "/ws"
	bob := s.join(wsURL, "bob", "3", "4")

	code, body := s.get("/users")
	s.Equal(http.StatusOK, code)
	var resp usersResponse
	s.Require().NoError(json.Unmarshal([]byte(body), &resp))
	s.Equal(2, resp.Count)
	s.Require().Len(resp.Users, 2)
	s.Equal("alice", resp.Users[0].UserName)
	s.Equal(1.5, *resp.Users[0].Latitude)
	s.Equal("bob", resp.Users[1].UserName)
	s.NotEmpty(resp.Users[1].Remote)

	// WebSocket 会话与 TCP 会话在同一个 hub 中。
	s.Require().NoError(bob.Send("/get alice"))
	s.Equal(`USER_COORDINATES:{"userName":"alice","latitude":1.5,"longitude":2.0}`, s.recv(bob))

	_, body = s.get("/healthz")
	s.JSONEq(`{"status":"ok","sessions":2}`, body)
}

func (s *AdminSuite) TestMetrics() {
	s.join(s.acc.Addr().String(), "carol", "0", "0")
	code, body := s.get("/metrics")
	s.Equal(http.StatusOK, code)
	s.Contains(body, "lanchat_hub_connections_accepted_total")
	s.Contains(body, "lanchat_hub_active_sessions")
}

func (s *AdminSuite) TestListenAndServe() {
	srv := NewServer(Options{})
	s.Error(srv.Serve())
	s.Nil(srv.Addr())

	s.Require().NoError(srv.Listen(context.Background(), "127.0.0.1:0"))
	done := make(chan error, 1)
	go func() { done <- srv.Serve() }()

	resp, err := http.Get("http://" + srv.Addr().String() + "/healthz")
	s.Require().NoError(err)
	resp.Body.Close()
	s.Equal(http.StatusOK, resp.StatusCode)

	s.Require().NoError(srv.Shutdown(context.Background()))
	s.NoError(<-done)
}

func TestAdmin(t *testing.T) {
	suite.Run(t, new(AdminSuite))
}
