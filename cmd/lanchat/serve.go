package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lk2023060901/lanchat-go/application"
	"github.com/lk2023060901/lanchat-go/internal/config"
	"github.com/lk2023060901/lanchat-go/pkg/log"
)

// serveFlags 为可覆盖配置文件的命令行参数，只有显式指定的参数才生效。
type serveFlags struct {
	configPath  string
	host        string
	port        int
	variant     string
	maxSessions int
	adminAddr   string
	logLevel    string
}

// overrides 返回显式指定的参数对应的配置 key。
func (f *serveFlags) overrides(cmd *cobra.Command) map[string]any {
	out := make(map[string]any)
	set := func(flag, key string, val any) {
		if cmd.Flags().Changed(flag) {
			out[key] = val
		}
	}
	set("host", "server.host", f.host)
	set("port", "server.port", f.port)
	set("variant", "hub.variant", f.variant)
	set("max-sessions", "server.max_sessions", f.maxSessions)
	set("admin-addr", "admin.addr", f.adminAddr)
	set("log-level", "log.level", f.logLevel)
	return out
}

func serveCmd() *cobra.Command {
	f := &serveFlags{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat hub",
		Long: `Run the chat hub until SIGINT or SIGTERM.

Configuration is read from ./config.yaml, the file named by
LANCHAT_CONFIG_FILE_PATH, or --config (highest priority). Environment
variables such as LANCHAT_SERVER_PORT override the file, and flags
override both.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.ResolvePath(f.configPath), f.overrides(cmd))
			if err != nil {
				return err
			}
			if err := application.InitLogger(&cfg.Log); err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return application.New(cfg).Run(ctx)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&f.configPath, "config", "c", "", "Path to the config file")
	flags.StringVar(&f.host, "host", "", "Address to listen on")
	flags.IntVarP(&f.port, "port", "p", config.DefaultPort, "TCP port to listen on")
	flags.StringVar(&f.variant, "variant", "full", "Feature preset: basic, calculator, swing, geo or full")
	flags.IntVar(&f.maxSessions, "max-sessions", 0, "Maximum concurrent connections, 0 for unlimited")
	flags.StringVar(&f.adminAddr, "admin-addr", "", "Admin HTTP address for /healthz, /metrics, /users and /ws")
	flags.StringVar(&f.logLevel, "log-level", "info", "Log level")

	return cmd
}
