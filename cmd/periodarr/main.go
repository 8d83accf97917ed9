// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/periodarr/periodarr/internal/api"
	"github.com/periodarr/periodarr/internal/buildinfo"
	"github.com/periodarr/periodarr/internal/config"
	"github.com/periodarr/periodarr/internal/database"
	"github.com/periodarr/periodarr/internal/domain"
	"github.com/periodarr/periodarr/internal/downloads"
	"github.com/periodarr/periodarr/internal/importer"
	"github.com/periodarr/periodarr/internal/matching"
	"github.com/periodarr/periodarr/internal/models"
	"github.com/periodarr/periodarr/internal/parsing"
	"github.com/periodarr/periodarr/internal/providers"
	"github.com/periodarr/periodarr/internal/scheduler"
	"github.com/periodarr/periodarr/internal/tracking"
)

func main() {
	config.InitDefaultLogger(buildinfo.Version)

	var rootCmd = &cobra.Command{
		Use:   "periodarr",
		Short: "A self-hosted periodical acquisition manager",
		Long: `periodarr - automated downloading, importing and organizing of
magazines and other periodicals.`,
	}

	rootCmd.Version = buildinfo.Version

	rootCmd.AddCommand(RunServeCommand())
	rootCmd.AddCommand(RunVersionCommand(buildinfo.Version))
	rootCmd.AddCommand(RunGenerateConfigCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func RunServeCommand() *cobra.Command {
	var (
		configDir string
		dataDir   string
		logPath   string
		pprofFlag bool
	)

	var command = &cobra.Command{
		Use:   "serve",
		Short: "Start the server",
	}

	command.Flags().StringVar(&configDir, "config-dir", "", "config directory path (default is OS-specific: ~/.config/periodarr/ or %APPDATA%\\periodarr\\). Can also be a direct path to a .toml file")
	command.Flags().StringVar(&dataDir, "data-dir", "", "data directory for database and other files (default is next to config file)")
	command.Flags().StringVar(&logPath, "log-path", "", "log file path (default is stdout)")
	command.Flags().BoolVar(&pprofFlag, "pprof", false, "enable pprof server on :6060")

	command.Run = func(cmd *cobra.Command, args []string) {
		app := NewApplication(configDir, dataDir, logPath, pprofFlag)
		app.runServer()
	}

	return command
}

func RunVersionCommand(version string) *cobra.Command {
	var command = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of periodarr",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	return command
}

func RunGenerateConfigCommand() *cobra.Command {
	var configDir string

	command := &cobra.Command{
		Use:   "generate-config",
		Short: "Generate a default configuration file",
		Long: `Generate a default configuration file without starting the server.

If no --config-dir is specified, uses the OS-specific default location:
- Linux/macOS: ~/.config/periodarr/config.toml
- Windows: %APPDATA%\periodarr\config.toml

You can specify either a directory path or a direct file path:
- Directory: periodarr generate-config --config-dir /path/to/config/
- File: periodarr generate-config --config-dir /path/to/myconfig.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var configPath string
			if configDir != "" {
				if strings.HasSuffix(strings.ToLower(configDir), ".toml") {
					configPath = configDir
				} else if info, err := os.Stat(configDir); err == nil && !info.IsDir() {
					configPath = configDir
				} else {
					configPath = filepath.Join(configDir, "config.toml")
				}
			} else {
				defaultDir := config.GetDefaultConfigDir()
				configPath = filepath.Join(defaultDir, "config.toml")
			}

			if _, err := os.Stat(configPath); err == nil {
				cmd.Printf("Configuration file already exists at: %s\n", configPath)
				cmd.Println("Skipping generation to avoid overwriting existing configuration.")
				return nil
			}

			if err := config.WriteDefaultConfig(configPath); err != nil {
				return fmt.Errorf("failed to create configuration file: %w", err)
			}

			cmd.Printf("Configuration file created successfully at: %s\n", configPath)
			return nil
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "",
		"config directory or file path (defaults to OS-specific location)")

	return command
}

type Application struct {
	configDir string
	dataDir   string
	logPath   string
	pprofFlag bool
}

func NewApplication(configDir, dataDir, logPath string, pprofFlag bool) *Application {
	return &Application{
		configDir: configDir,
		dataDir:   dataDir,
		logPath:   logPath,
		pprofFlag: pprofFlag,
	}
}

func (app *Application) runServer() {
	cfg, err := config.New(app.configDir, buildinfo.Version)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize configuration")
	}

	// Override with CLI flags if provided
	if app.dataDir != "" {
		os.Setenv("PERIODARR__DATA_DIR", app.dataDir)
		cfg.SetDataDir(app.dataDir)
	}
	if app.logPath != "" {
		os.Setenv("PERIODARR__LOG_PATH", app.logPath)
		cfg.Config.LogPath = app.logPath
	}

	cfg.ApplyLogConfig()

	log.Info().Str("version", buildinfo.Version).Msg("Starting periodarr")

	db, err := database.New(cfg.GetDatabasePath())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	conn := db.Conn()
	submissionStore := models.NewSubmissionStore(conn, cfg.Config.MaxDownloadRetries)
	periodicalStore := models.NewPeriodicalStore(conn)
	trackingStore := models.NewTrackingStore(conn)
	taskStatsStore := models.NewTaskStatsStore(conn)

	matcher := matching.New(cfg.Config.FuzzyThreshold, cfg.Config.AmbiguousThreshold)
	parser := parsing.NewParser()

	providerTimeout := time.Duration(cfg.Config.ProviderTimeoutSeconds) * time.Second
	searchProviders := make([]providers.SearchProvider, 0, len(cfg.Config.SearchProviders))
	for _, pc := range cfg.Config.SearchProviders {
		searchProviders = append(searchProviders, providers.NewHTTPProvider(pc.Name, pc.URL, pc.APIKey, providerTimeout))
		log.Info().Str("provider", pc.Name).Str("url", pc.URL).Msg("Search provider configured")
	}
	if len(searchProviders) == 0 {
		log.Warn().Msg("No search providers configured - issue discovery will be idle")
	}
	searchGateway := providers.NewGateway(searchProviders, matcher, providerTimeout, log.Logger)

	clientTimeout := time.Duration(cfg.Config.ClientTimeoutSeconds) * time.Second
	clientCfg := cfg.Config.DownloadClient
	if clientCfg.URL == "" {
		log.Warn().Msg("No download client configured - submissions will stay pending")
	}
	downloadClient := downloads.NewHTTPClient(clientCfg.Name, clientCfg.URL, clientCfg.APIKey, clientTimeout)
	downloadGateway := downloads.NewGateway(downloadClient, clientTimeout, 3, log.Logger)

	imp := importer.New(periodicalStore, parser, matcher, importer.Config{
		OrganizeDir: cfg.Config.OrganizeDir,
		Pattern:     cfg.Config.OrganizationPattern,
	}, log.Logger)

	engine := tracking.NewEngine(
		trackingStore,
		periodicalStore,
		submissionStore,
		searchGateway,
		parser,
		matcher,
		cfg.Config.MaxDownloadsPerBatch,
		log.Logger,
	)

	sched := scheduler.New(taskStatsStore, log.Logger)
	scheduler.RegisterBuiltinTasks(sched, scheduler.TaskDeps{
		Submissions:  submissionStore,
		TrackingRecs: trackingStore,
		Downloads:    downloadGateway,
		Importer:     imp,
		Engine:       engine,
		Matcher:      matcher,
		DownloadsDir: cfg.Config.DownloadsDir,
		Logger:       log.Logger,
	}, scheduler.Intervals{
		ClientPoll:     time.Duration(cfg.Config.ClientPollIntervalSeconds) * time.Second,
		FolderScan:     time.Duration(cfg.Config.FolderScanIntervalSeconds) * time.Second,
		IssueDiscovery: time.Duration(cfg.Config.IssueDiscoveryIntervalSeconds) * time.Second,
	})

	// Interval edits in config.toml take effect without a restart.
	cfg.RegisterReloadListener(func(newCfg *domain.Config) {
		_ = sched.SetInterval(scheduler.TaskClientPoll, time.Duration(newCfg.ClientPollIntervalSeconds)*time.Second)
		_ = sched.SetInterval(scheduler.TaskFolderScan, time.Duration(newCfg.FolderScanIntervalSeconds)*time.Second)
		_ = sched.SetInterval(scheduler.TaskIssueDiscovery, time.Duration(newCfg.IssueDiscoveryIntervalSeconds)*time.Second)
	})

	schedulerCtx, schedulerCancel := context.WithCancel(context.Background())
	defer schedulerCancel()
	sched.Start(schedulerCtx)
	defer sched.Stop()

	httpServer := api.NewServer(&api.Dependencies{
		Config:          cfg,
		Version:         buildinfo.Version,
		Scheduler:       sched,
		SubmissionStore: submissionStore,
		PeriodicalStore: periodicalStore,
		TrackingStore:   trackingStore,
		Engine:          engine,
		Search:          searchGateway,
		Downloads:       downloadGateway,
		Importer:        imp,
		Matcher:         matcher,
	})

	errorChannel := make(chan error)
	serverReady := make(chan struct{}, 1)
	go func() {
		if err := httpServer.ListenAndServeReady(serverReady); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errorChannel <- err
		}
	}()

	select {
	case <-serverReady:
	case err := <-errorChannel:
		log.Fatal().Err(err).Msg("failed to start HTTP server")
	}

	if app.pprofFlag {
		go func() {
			log.Info().Msg("Starting pprof server on :6060")
			log.Info().Msg("Access profiling at: http://localhost:6060/debug/pprof/")
			if err := http.ListenAndServe(":6060", nil); err != nil {
				log.Error().Err(err).Msg("Profiling server failed")
			}
		}()
	}

	// Wait for interrupt signal to gracefully shutdown the server
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Msgf("got signal %v, shutting down server", sig.String())
	case err := <-errorChannel:
		log.Error().Err(err).Msg("got unexpected error from server")
	}

	schedulerCancel()
	sched.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("got error during graceful http shutdown")
		os.Exit(1)
	}
}
