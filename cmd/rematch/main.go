// Package main rematch 客户端命令行
//
//	rematch hash    <dump.json>
//	rematch upload  <dump.json> --file ID
//	rematch match   <dump.json> --file ID (--target-project ID | --target-file ID)
//	rematch results <task-id>
//	rematch strategies
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"rematch/internal/client"
	"rematch/internal/config"
	"rematch/pkg/logging"
)

// cli 命令共享的配置
type cli struct {
	server  string
	verbose bool
	cfg     config.ClientConfig
}

func (c *cli) api() *client.API {
	return client.NewAPI(c.server, nil)
}

func (c *cli) logger() *logging.Logger {
	level := "warn"
	if c.verbose {
		level = "debug"
	}
	return logging.New(logging.Config{Level: level, Format: "text", Output: "stderr", Component: "rematch"})
}

func main() {
	c := &cli{cfg: config.Defaults().Client}
	// 配置文件缺失时使用内置默认值
	if cfg, err := config.Load(); err == nil {
		c.cfg = cfg.Client
	}

	root := &cobra.Command{
		Use:           "rematch",
		Short:         "Match binary functions against a rematch server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&c.server, "server", c.cfg.ServerURL, "rematch API server URL")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "verbose logging")

	root.AddCommand(
		newHashCmd(),
		newUploadCmd(c),
		newMatchCmd(c),
		newResultsCmd(c),
		newStrategiesCmd(c),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
