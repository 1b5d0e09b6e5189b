package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	sqliteadapter "github.com/cleeistaken/vcf-credential-manager/internal/adapter/driven/sqlite"
	vcfadapter "github.com/cleeistaken/vcf-credential-manager/internal/adapter/driven/vcf"
	httphandler "github.com/cleeistaken/vcf-credential-manager/internal/adapter/driving/http"
	"github.com/cleeistaken/vcf-credential-manager/internal/application"
	"github.com/cleeistaken/vcf-credential-manager/internal/config"
	"github.com/cleeistaken/vcf-credential-manager/internal/domain/model"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "vcfcredd",
		Short:         "Credential inventory service for VCF deployments",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")

	root.AddCommand(newServeCmd(&configPath))
	root.AddCommand(newSyncCmd(&configPath))
	root.AddCommand(newVersionCmd())

	return root
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server and sync scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(*configPath)
		},
	}
}

func newSyncCmd(configPath *string) *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:   "sync <environment-id>",
		Short: "Run one sync for an environment and exit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return syncOnce(cmd, *configPath, args[0], source)
		},
	}
	cmd.Flags().StringVar(&source, "source", "all", "sync scope: all, installer, or manager")

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version and exit",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

func serve(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	setupLogging(cfg.LogLevel)
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"vcf_timeout", cfg.VCFTimeout,
		"sync_workers", cfg.SyncWorkers,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqliteadapter.NewDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	slog.Info("database opened", "path", cfg.DBPath)

	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		return err
	}
	slog.Info("migrations complete")

	envStore := sqliteadapter.NewEnvironmentRepo(db)
	credStore := sqliteadapter.NewCredentialRepo(db)
	client := vcfadapter.NewClient(cfg.VCFTimeout)
	syncSvc := application.NewSyncService(client, envStore, credStore)
	scheduler := application.NewScheduler(syncSvc, cfg.SyncWorkers, cfg.MisfireGrace)

	scheduler.Start()
	defer scheduler.Shutdown()

	envs, err := envStore.ListSyncEnabled(ctx)
	if err != nil {
		return fmt.Errorf("load sync-enabled environments: %w", err)
	}
	for _, env := range envs {
		scheduler.ScheduleEnvironment(env)
	}
	slog.Info("scheduler primed", "environments", len(envs))

	apiHandler := httphandler.NewHandler(envStore, credStore, syncSvc, scheduler, slog.Default())
	handler := httphandler.NewServeMux(apiHandler, slog.Default())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
		}
	}()

	slog.Info("vcfcredd started", "version", version, "listen_addr", cfg.ListenAddr)

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

func syncOnce(cmd *cobra.Command, configPath, rawID, source string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	setupLogging(cfg.LogLevel)

	var envID int64
	if _, err := fmt.Sscanf(rawID, "%d", &envID); err != nil || envID <= 0 {
		return fmt.Errorf("invalid environment id %q", rawID)
	}

	scope, ok := model.ParseSyncScope(source)
	if !ok {
		return fmt.Errorf("invalid source %q: must be all, installer, or manager", source)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqliteadapter.NewDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		return err
	}

	envStore := sqliteadapter.NewEnvironmentRepo(db)
	credStore := sqliteadapter.NewCredentialRepo(db)
	client := vcfadapter.NewClient(cfg.VCFTimeout)
	syncSvc := application.NewSyncService(client, envStore, credStore)

	outcome, err := syncSvc.RunSync(ctx, envID, scope)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "status: %s\n", outcome.Status)
	fmt.Fprintf(out, "new: %d  updated: %d  removed: %d  password changes: %d\n",
		outcome.Counts.New, outcome.Counts.Updated, outcome.Counts.Removed, outcome.Counts.PasswordChanges)
	if outcome.InstallerError != "" {
		fmt.Fprintf(out, "installer error: %s\n", outcome.InstallerError)
	}
	if outcome.ManagerError != "" {
		fmt.Fprintf(out, "manager error: %s\n", outcome.ManagerError)
	}

	if outcome.Status == model.SyncStatusFailed {
		return errors.New("sync failed")
	}
	return nil
}

func setupLogging(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}
