package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	_ "go.uber.org/automaxprocs"
)

// 版本信息，构建时通过 -ldflags 注入。
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "lanchat",
		Short: "A line-oriented chat hub for the local network",
		Long: `lanchat runs a TCP chat hub where every line is one message.

Clients join with a username (and optionally their coordinates), chat with
everyone else in the room, evaluate arithmetic with EVAL:, look up other
users with /get and save the roster with /save.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		connectCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
