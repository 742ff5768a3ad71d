// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/arrmate/arrmate/internal/arr"
	"github.com/arrmate/arrmate/internal/buildinfo"
	"github.com/arrmate/arrmate/internal/cleanup"
	"github.com/arrmate/arrmate/internal/config"
	"github.com/arrmate/arrmate/internal/domain"
	"github.com/arrmate/arrmate/internal/qbittorrent"
	"github.com/arrmate/arrmate/internal/retry"
)

func main() {
	config.InitDefaultLogger(buildinfo.Version)

	var rootCmd = &cobra.Command{
		Use:   "arrmate",
		Short: "Torrent cleanup and stuck-download recovery for Sonarr and Radarr",
		Long: `arrmate - keeps a qBittorrent instance tidy by deleting torrents that
have met their seeding obligations and by clearing out Sonarr/Radarr queue
entries whose downloads have stalled or failed import.`,
	}

	rootCmd.Version = buildinfo.Version

	rootCmd.AddCommand(RunServeCommand())
	rootCmd.AddCommand(RunVersionCommand())
	rootCmd.AddCommand(RunGenerateConfigCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func RunServeCommand() *cobra.Command {
	var (
		configDir string
		logPath   string
	)

	var command = &cobra.Command{
		Use:   "serve",
		Short: "Start the polling loop",
	}

	command.Flags().StringVar(&configDir, "config-dir", "", "config directory path (default is OS-specific: ~/.config/arrmate/ or %APPDATA%\\arrmate\\). For backward compatibility, can also be a direct path to a .toml file")
	command.Flags().StringVar(&logPath, "log-path", "", "log file path (default is stdout)")

	command.Run = func(cmd *cobra.Command, args []string) {
		app := NewApplication(configDir, logPath)
		app.runServe()
	}

	return command
}

func RunVersionCommand() *cobra.Command {
	var outputJSON bool

	var command = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of arrmate",
		Run: func(cmd *cobra.Command, args []string) {
			if outputJSON {
				out, err := buildinfo.JSON()
				if err != nil {
					fmt.Fprintln(os.Stderr, err)
					os.Exit(1)
				}
				fmt.Println(string(out))
				return
			}
			fmt.Println(buildinfo.String())
		},
	}

	command.Flags().BoolVar(&outputJSON, "json", false, "print version information as JSON")

	return command
}

func RunGenerateConfigCommand() *cobra.Command {
	var configDir string

	command := &cobra.Command{
		Use:   "generate-config",
		Short: "Generate a default configuration file",
		Long: `Generate a default configuration file without starting the polling loop.

If no --config-dir is specified, uses the OS-specific default location:
- Linux/macOS: ~/.config/arrmate/config.toml
- Windows: %APPDATA%\arrmate\config.toml

You can specify either a directory path or a direct file path:
- Directory: arrmate generate-config --config-dir /path/to/config/
- File: arrmate generate-config --config-dir /path/to/myconfig.toml`,
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
	logPath   string
}

func NewApplication(configDir, logPath string) *Application {
	return &Application{
		configDir: configDir,
		logPath:   logPath,
	}
}

// controllers holds the per-configuration cycle runners. Either field may be
// nil when its feature is unconfigured or its rules were rejected.
type controllers struct {
	cleanup *cleanup.Controller
	retry   *retry.Controller
}

func (app *Application) runServe() {
	cfg, err := config.New(app.configDir, buildinfo.Version)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize configuration")
	}

	if app.logPath != "" {
		os.Setenv("ARRMATE__LOG_PATH", app.logPath)
		cfg.Config.LogPath = app.logPath
	}

	cfg.ApplyLogConfig()

	log.Info().Str("version", buildinfo.Version).Msg("Starting arrmate")

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	client, err := qbittorrent.NewClient(startupCtx, cfg.Config.QBittorrent)
	startupCancel()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to qBittorrent")
	}

	reloadCh := make(chan *domain.Config, 1)
	cfg.RegisterReloadListener(func(conf *domain.Config) {
		// Coalesce bursts of file-change events; the loop picks up the
		// latest config at its next iteration.
		select {
		case reloadCh <- conf:
		default:
		}
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conf := cfg.Config
	ctrl := buildControllers(conf, client)

	interval := time.Duration(conf.RefreshInterval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info().Dur("interval", interval).Msg("Polling loop started")

	runCycles(ctx, ctrl)

	for {
		select {
		case sig := <-sigCh:
			log.Info().Msgf("got signal %v, shutting down", sig.String())
			return

		case newConf := <-reloadCh:
			// Controllers are replaced wholesale; accumulated retry
			// strikes do not survive a reload.
			conf = newConf
			ctrl = buildControllers(conf, client)

			newInterval := time.Duration(conf.RefreshInterval) * time.Second
			if newInterval != interval {
				interval = newInterval
				ticker.Reset(interval)
				log.Info().Dur("interval", interval).Msg("Refresh interval updated")
			}
			log.Info().Msg("Configuration reloaded, controllers rebuilt")

		case <-ticker.C:
			runCycles(ctx, ctrl)
		}
	}
}

// buildControllers constructs both cycle runners from one configuration
// snapshot. A rejected rule set disables that feature for this configuration
// rather than terminating the process.
func buildControllers(conf *domain.Config, client *qbittorrent.Client) controllers {
	var sonarr, radarr *arr.Client
	if conf.Sonarr != nil {
		sonarr = arr.NewClient("sonarr", *conf.Sonarr)
	}
	if conf.Radarr != nil {
		radarr = arr.NewClient("radarr", *conf.Radarr)
	}

	var ctrl controllers

	// The concrete clients must be converted individually so a nil pointer
	// does not end up inside a non-nil interface.
	var sonarrQueue, radarrQueue cleanup.QueueClient
	if sonarr != nil {
		sonarrQueue = sonarr
	}
	if radarr != nil {
		radarrQueue = radarr
	}

	cleanupCtrl, err := cleanup.NewController(conf.Cleanup, client, sonarrQueue, radarrQueue)
	if err != nil {
		log.Error().Err(err).Msg("Cleanup disabled due to invalid configuration")
	} else {
		ctrl.cleanup = cleanupCtrl
	}

	if conf.Retry != nil {
		var managers []retry.QueueManager
		if sonarr != nil {
			managers = append(managers, sonarr)
		}
		if radarr != nil {
			managers = append(managers, radarr)
		}
		if len(managers) == 0 {
			log.Warn().Msg("Retry configured without any manager, disabling")
		} else {
			ctrl.retry = retry.NewController(*conf.Retry, managers...)
		}
	}

	return ctrl
}

// runCycles runs one cleanup cycle and one retry cycle back to back. A
// failed cycle is logged and retried from scratch on the next tick.
func runCycles(ctx context.Context, ctrl controllers) {
	if ctrl.cleanup != nil {
		if err := ctrl.cleanup.Execute(ctx); err != nil {
			log.Error().Err(err).Msg("Cleanup cycle failed")
		}
	}

	if ctrl.retry != nil {
		if err := ctrl.retry.Execute(ctx); err != nil {
			log.Error().Err(err).Msg("Retry cycle failed")
		}
	}
}
