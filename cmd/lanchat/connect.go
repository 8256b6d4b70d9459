package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lk2023060901/lanchat-go/internal/network/connector"
	"github.com/lk2023060901/lanchat-go/pkg/log"
)

func connectCmd() *cobra.Command {
	var (
		addr        string
		dialTimeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Connect to a hub from the terminal",
		Long: `Connect to a hub and relay lines: stdin to the hub, hub to stdout.

--addr accepts host:port for TCP or a ws:// URL for the WebSocket gateway.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// 客户端不向终端输出日志。
			logger, props, err := log.InitLogger(&log.Config{Level: "error"})
			if err != nil {
				return err
			}
			log.ReplaceGlobals(logger, props)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runConnect(ctx, addr, connector.Config{DialTimeout: dialTimeout}, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "127.0.0.1:5000", "Hub address, host:port or ws://host:port/ws")
	cmd.Flags().DurationVar(&dialTimeout, "dial-timeout", 5*time.Second, "Dial timeout")

	return cmd
}

// runConnect 在 in 与 hub 之间转发行，直到 hub 断开、in 读完或 ctx 取消。
func runConnect(ctx context.Context, addr string, cfg connector.Config, in io.Reader, out io.Writer) error {
	cc, err := connector.Dial(ctx, addr, cfg)
	if err != nil {
		return err
	}

	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			if err := cc.Send(scanner.Text()); err != nil {
				return
			}
		}
		// 输入结束后发完已排队的行再断开。
		_ = cc.Close()
	}()

	for {
		select {
		case line, ok := <-cc.Recv():
			if !ok {
				return nil
			}
			if _, err := fmt.Fprintln(out, line); err != nil {
				cc.Abort(err)
				return err
			}
		case <-ctx.Done():
			cc.Abort(nil)
			return nil
		}
	}
}
