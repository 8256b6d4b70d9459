package config

import (
	"net"
	"os"
	"strconv"
	"time"

	"github.com/samber/lo"

	"github.com/lk2023060901/lanchat-go/internal/hub"
	"github.com/lk2023060901/lanchat-go/pkg/log"
	"github.com/lk2023060901/lanchat-go/pkg/util/merr"
	"github.com/lk2023060901/lanchat-go/pkg/util/viper"
)

const (
	// EnvPrefix 为环境变量前缀：server.port 对应 LANCHAT_SERVER_PORT。
	EnvPrefix = "LANCHAT"
	// EnvConfigFilePath 指定配置文件路径。
	EnvConfigFilePath = "LANCHAT_CONFIG_FILE_PATH"
	// DefaultConfigFilePath 为缺省配置文件路径，文件不存在时只使用缺省值。
	DefaultConfigFilePath = "./config.yaml"

	DefaultPort = 5000
)

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// MaxSessions 为同时在线的连接上限，0 表示不限制。
	MaxSessions     int           `mapstructure:"max_sessions"`
	MaxLineBytes    int           `mapstructure:"max_line_bytes"`
	SendQueueSize   int           `mapstructure:"send_queue_size"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// HubConfig 选择功能组合。Eval/UserList/Geo 非空时覆盖 Variant 中的对应开关。
type HubConfig struct {
	Variant        string `mapstructure:"variant"`
	Eval           *bool  `mapstructure:"eval"`
	UserList       *bool  `mapstructure:"user_list"`
	Geo            *bool  `mapstructure:"geo"`
	WorkerPoolSize int    `mapstructure:"worker_pool_size"`
}

type EvalConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	MaxLength int           `mapstructure:"max_length"`
}

type EtcdConfig struct {
	Enable bool `mapstructure:"enable"`
	// Embed 为 true 时在进程内启动单节点 etcd，忽略 Endpoints。
	Embed       bool          `mapstructure:"embed"`
	DataDir     string        `mapstructure:"data_dir"`
	Endpoints   []string      `mapstructure:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	Key         string        `mapstructure:"key"`
	// Register 为 true 时把本实例的地址以租约登记在 RegisterRoot 下。
	Register     bool   `mapstructure:"register"`
	RegisterRoot string `mapstructure:"register_root"`
	RegisterTTL  int64  `mapstructure:"register_ttl"`
}

type SnapshotConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
	// File 为 JSON 文件路径，留空表示不写文件。
	File string     `mapstructure:"file"`
	Etcd EtcdConfig `mapstructure:"etcd"`
}

type AdminConfig struct {
	// Addr 为管理端口地址，留空表示不启动。
	Addr      string `mapstructure:"addr"`
	WebSocket bool   `mapstructure:"websocket"`
}

// Config 为 lanchat 服务端的完整配置。
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Hub      HubConfig      `mapstructure:"hub"`
	Eval     EvalConfig     `mapstructure:"eval"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
	Admin    AdminConfig    `mapstructure:"admin"`
	Log      log.Config     `mapstructure:"log"`
}

var defaults = map[string]any{
	"server.host":             "",
	"server.port":             DefaultPort,
	"server.max_sessions":     0,
	"server.max_line_bytes":   64 * 1024,
	"server.send_queue_size":  1024,
	"server.read_timeout":     time.Duration(0),
	"server.write_timeout":    time.Duration(0),
	"server.shutdown_timeout": 5 * time.Second,

	"hub.variant":          hub.VariantFull,
	"hub.worker_pool_size": hub.DefaultWorkerPoolSize,

	"eval.timeout":    hub.DefaultEvalTimeout,
	"eval.max_length": 256,

	"snapshot.timeout":            hub.DefaultSnapshotTimeout,
	"snapshot.file":               "users.json",
	"snapshot.etcd.enable":        false,
	"snapshot.etcd.embed":         false,
	"snapshot.etcd.data_dir":      "lanchat.etcd",
	"snapshot.etcd.endpoints":     []string{"127.0.0.1:2379"},
	"snapshot.etcd.dial_timeout":  5 * time.Second,
	"snapshot.etcd.key":           "lanchat/users",
	"snapshot.etcd.register":      true,
	"snapshot.etcd.register_root": "lanchat/instances",
	"snapshot.etcd.register_ttl":  int64(30),

	"admin.addr":      "",
	"admin.websocket": true,

	"log.level":  "info",
	"log.format": "text",
	"log.stdout": true,

	"log.file.root_path": "",
	"log.file.filename":  "",
}

// ResolvePath 按优先级确定配置文件路径：命令行 > 环境变量 > 缺省路径。
func ResolvePath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	if p := os.Getenv(EnvConfigFilePath); p != "" {
		return p
	}
	return DefaultConfigFilePath
}

// Load 依次叠加缺省值、配置文件、环境变量与 overrides（通常来自命令行参数），并校验结果。
//
// path 为缺省路径且文件不存在时不视为错误。
func Load(path string, overrides map[string]any) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.BindEnv(EnvPrefix)

	if path == DefaultConfigFilePath {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			path = ""
		}
	}
	if path != "" {
		if err := v.LoadFile(path); err != nil {
			return nil, merr.WrapErrIoFailed(path, err)
		}
	}
	for k, val := range overrides {
		v.Set(k, val)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, merr.WrapErrParameterInvalidMsg("decode config: %s", err.Error())
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置取值。
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return merr.WrapErrParameterInvalidRange(0, 65535, c.Server.Port, "server.port")
	}
	if c.Server.MaxSessions < 0 {
		return merr.WrapErrParameterInvalidMsg("server.max_sessions must not be negative, got %d", c.Server.MaxSessions)
	}
	if c.Server.MaxLineBytes <= 0 {
		return merr.WrapErrParameterInvalidMsg("server.max_line_bytes must be positive, got %d", c.Server.MaxLineBytes)
	}
	if c.Server.SendQueueSize <= 0 {
		return merr.WrapErrParameterInvalidMsg("server.send_queue_size must be positive, got %d", c.Server.SendQueueSize)
	}
	for key, d := range map[string]time.Duration{
		"server.read_timeout":     c.Server.ReadTimeout,
		"server.write_timeout":    c.Server.WriteTimeout,
		"server.shutdown_timeout": c.Server.ShutdownTimeout,
		"eval.timeout":            c.Eval.Timeout,
		"snapshot.timeout":        c.Snapshot.Timeout,
	} {
		if d < 0 {
			return merr.WrapErrParameterInvalidMsg("%s must not be negative, got %s", key, d)
		}
	}
	if _, err := c.Features(); err != nil {
		return err
	}
	if c.Snapshot.Etcd.Register && c.Snapshot.Etcd.RegisterTTL <= 0 {
		return merr.WrapErrParameterInvalidMsg("snapshot.etcd.register_ttl must be positive, got %d", c.Snapshot.Etcd.RegisterTTL)
	}
	if c.Snapshot.Etcd.Enable && !c.Snapshot.Etcd.Embed && len(lo.Compact(c.Snapshot.Etcd.Endpoints)) == 0 {
		return merr.WrapErrParameterMissing("snapshot.etcd.endpoints")
	}
	return nil
}

// Features 返回 Variant 与单项开关合并后的功能组合。
func (c *Config) Features() (hub.Features, error) {
	f, err := hub.Preset(c.Hub.Variant)
	if err != nil {
		return f, err
	}
	if c.Hub.Eval != nil {
		f.Eval = *c.Hub.Eval
	}
	if c.Hub.UserList != nil {
		f.UserList = *c.Hub.UserList
	}
	if c.Hub.Geo != nil {
		f.Geo = *c.Hub.Geo
	}
	return f, nil
}

// ListenAddr 返回聊天端口的监听地址。
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}
