package commands

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/wiye1050/gestionclinica-sub004/internal/app/bootstrap"
	"github.com/wiye1050/gestionclinica-sub004/internal/application"
	"github.com/wiye1050/gestionclinica-sub004/internal/domain"
)

var configPath string

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "clinicctl",
		Short:        "Operate the clinic episode service",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "configs/default.yaml", "path to the YAML config file")

	root.AddCommand(migrateCmd(), episodeCmd(), transitionsCmd(), tokenCmd(), recallCmd())
	return root
}

// openRuntime builds the service stack without touching the schema.
func openRuntime(cmd *cobra.Command) (*bootstrap.Runtime, error) {
	cfg, err := bootstrap.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	cfg.AutoMigrate = false
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn}))
	return bootstrap.Build(commandContext(cmd), cfg, logger)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func operator() application.Actor {
	return application.Actor{SubjectID: "clinicctl", Role: domain.RoleOperator, RequestID: "clinicctl"}
}
