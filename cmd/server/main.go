package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	golog "github.com/ipfs/go-log/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"strzcam.com/posture/app"
	"strzcam.com/posture/config"
)

var log = golog.Logger("posture")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath, logLevel string

	root := &cobra.Command{
		Use:           "posture-server",
		Short:         "Posture monitoring stream service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := godotenv.Load(); err != nil {
				log.Warnf("no .env file loaded: %v", err)
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.Log.Level = logLevel
			}
			lvl, err := golog.LevelFromString(cfg.Log.Level)
			if err != nil {
				return err
			}
			golog.SetAllLoggers(lvl)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			a, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}
			return a.Run(ctx)
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "config file (default $POSTURE_CONFIG or "+config.DefaultPath+")")
	root.Flags().StringVar(&logLevel, "log-level", "", "override log.level")
	return root
}
