package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/router-for-me/EnterpriseAccess/internal/app"
	"github.com/router-for-me/EnterpriseAccess/internal/config"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		log.WithError(err).Error("enterprise-access exited")
		stop()
		os.Exit(1)
	}
}

// newRootCommand builds the CLI with the serve and migrate subcommands.
func newRootCommand() *cobra.Command {
	var appCfg config.AppConfig

	root := &cobra.Command{
		Use:           "enterprise-access",
		Short:         "Subsidy access policy and learner credit assignment service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&appCfg.ConfigPath, "config", "c", "", "path to config.yaml (default $ENTERPRISE_ACCESS_CONFIG or ./config.yaml)")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.RunServer(cmd.Context(), appCfg)
		},
	}
	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update database tables",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := app.Migrate(cmd.Context(), appCfg); err != nil {
				return err
			}
			log.Info("migrations applied")
			return nil
		},
	}

	root.AddCommand(serve, migrate)
	return root
}
