package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/xtream1101/docker-backup-sidecar/internal/config"
	"github.com/xtream1101/docker-backup-sidecar/internal/logger"
	"github.com/xtream1101/docker-backup-sidecar/internal/operations"
	"github.com/xtream1101/docker-backup-sidecar/internal/services"
	"github.com/xtream1101/docker-backup-sidecar/internal/vault"
)

var (
	// ConfigFile is an optional YAML file layered under the BACKUP_* environment.
	ConfigFile string
	// EnvFile is loaded into the environment before the configuration is read.
	EnvFile string

	rootCmd = &cobra.Command{
		Use:   "backup-sidecar",
		Short: "Back up and restore the data of neighbouring containers",
		Long: `backup-sidecar snapshots databases, directories and files belonging to
other containers, encrypts the result, stores it locally and/or on S3 and
prunes old snapshots under a tiered retention policy.

Configuration comes from BACKUP_* environment variables, optionally layered
over a YAML file given with --config.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if EnvFile == "" {
				return nil
			}
			if err := godotenv.Load(EnvFile); err != nil {
				return fmt.Errorf("failed to load env file %q: %w", EnvFile, err)
			}
			return nil
		},
	}
)

// Execute runs the root command. SIGINT and SIGTERM cancel the running
// operation, which still cleans up and restarts any stopped service.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().
		StringVarP(&ConfigFile, "config", "c", "", "path to an optional YAML config file")
	rootCmd.PersistentFlags().
		StringVar(&EnvFile, "env-file", "", "path to a .env file to load before reading the environment")

	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(scheduleCmd)
}

// session is what every subcommand needs: the manager and its logger.
type session struct {
	manager *operations.OperationManager
	log     logger.Logger
	cfg     config.Config
	closers []func()
}

func (s *session) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func newSession() (*session, error) {
	cfg, err := config.Load(ConfigFile)
	if err != nil {
		return nil, err
	}

	log, err := logger.Init(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	s := &session{log: log, cfg: cfg, closers: []func(){logger.Cleanup}}

	opts := []operations.Option{operations.WithLogger(log)}
	if cfg.UsesVault() {
		// resolved on every run, failures go through the run failure path
		opts = append(opts, operations.WithPassphraseSource(func(ctx context.Context) (string, error) {
			return passphraseFromVault(ctx, cfg)
		}))
	}
	if len(cfg.Services.Stop) > 0 {
		docker, err := services.NewDocker(cfg.ComposeProject)
		if err != nil {
			log.Warn("docker unavailable, services will not be stopped", "error", err)
		} else {
			opts = append(opts, operations.WithRuntime(docker))
			s.closers = append(s.closers, func() { _ = docker.Close() })
		}
	}

	s.manager = operations.NewOperationManager(cfg, opts...)
	return s, nil
}

func passphraseFromVault(ctx context.Context, cfg config.Config) (string, error) {
	client, err := vault.NewClient(ctx,
		vault.WithAddress(cfg.Vault.Address),
		vault.WithToken(cfg.Vault.Token),
		vault.WithAppRole(cfg.Vault.RoleID, cfg.Vault.RoleName),
	)
	if err != nil {
		return "", err
	}
	return client.GetPassphrase(ctx, cfg.Vault.KeyPath, cfg.Vault.KeyField)
}
