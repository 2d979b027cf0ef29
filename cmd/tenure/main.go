package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"member-tenure/internal/app"
	"member-tenure/internal/platform/config"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "tenure",
		Short:         "Consecutive membership tenure for CRM members",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("CONFIG_PATH"), "path to config YAML")

	load := func(ctx context.Context) (*app.App, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		return app.New(ctx, cfg, app.Options{})
	}

	rootCmd.AddCommand(serveCmd(load))
	rootCmd.AddCommand(workCmd(load))
	rootCmd.AddCommand(dispatchCmd(load))
	rootCmd.AddCommand(memberCmd(load))
	rootCmd.AddCommand(previewCmd(load))
	rootCmd.AddCommand(lapsedCmd(load))
	rootCmd.AddCommand(checkSettingsCmd(load))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		cancel()
		os.Exit(1)
	}
}
