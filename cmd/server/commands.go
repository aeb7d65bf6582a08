package main

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/phrazzld/taskrelay/internal/config"
	"github.com/phrazzld/taskrelay/internal/domain"
	"github.com/phrazzld/taskrelay/internal/platform/logger"
	"github.com/phrazzld/taskrelay/internal/service/auth"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

// newRootCmd builds the command tree. Each call returns a fresh tree so that
// tests can execute commands independently.
func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "taskrelay",
		Short:         "Real-time task result delivery",
		Long:          "taskrelay runs submitted tasks on a worker pool and pushes their results to the submitter's websocket sessions.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"config file (default ./taskrelay.yaml when present)")

	root.AddCommand(
		newRunCmd(&configPath, "serve", "Start the websocket gateway and HTTP API", roleGateway),
		newRunCmd(&configPath, "processor", "Start the task processor and worker pool", roleProcessor),
		newRunCmd(&configPath, "standalone", "Run the gateway and the processor in one process",
			roleGateway|roleProcessor),
		newTokenCmd(&configPath),
	)
	return root
}

func newRunCmd(configPath *string, use, short string, roles role) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfigAndLogger(*configPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := newApplication(ctx, cfg, log, roles)
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}
			return app.Run(ctx)
		},
	}
}

func newTokenCmd(configPath *string) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an access token for development clients",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			jwtService, err := auth.NewJWTService(cfg.Auth)
			if err != nil {
				return fmt.Errorf("failed to initialize JWT service: %w", err)
			}

			token, err := jwtService.GenerateToken(cmd.Context(), domain.Identity(userID))
			if err != nil {
				return fmt.Errorf("failed to generate token: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "", "identity the token is issued for")
	_ = cmd.MarkFlagRequired("user-id")
	return cmd
}

// loadConfigAndLogger loads configuration and sets up the process logger.
func loadConfigAndLogger(configPath string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.Setup(cfg.Server)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up logger: %w", err)
	}

	log.Info("configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"bus_mode", cfg.Redis.Mode,
		"auth_mode", cfg.Auth.Mode)
	log.Debug("redis configuration",
		"url_present", cfg.Redis.URL != "",
		"host", cfg.Redis.Host,
		"tasks_channel", cfg.Redis.TasksChannel,
		"results_channel", cfg.Redis.ResultsChannel)

	return cfg, log, nil
}
