// Copyright 2025 The adwd Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// adwd is the agentic-development-workflow orchestrator daemon.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/warmonger0/adwd/internal/config"
	"github.com/warmonger0/adwd/internal/daemon"
	"github.com/warmonger0/adwd/internal/log"
)

// Version information (injected via ldflags at build time)
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		configPath   string
		port         int
		stateRoot    string
		worktreeRoot string
		dbPath       string
		scriptsDir   string
	)

	serve := func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		applyFlags(cmd.Flags(), cfg, port, stateRoot, worktreeRoot, dbPath, scriptsDir)

		d, err := daemon.New(cfg, daemon.Options{
			Version: version,
			Commit:  commit,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize daemon: %w", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := d.Start(ctx); err != nil {
			return fmt.Errorf("daemon failed: %w", err)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return d.Shutdown(shutdownCtx)
	}

	root := &cobra.Command{
		Use:           "adwd",
		Short:         "Agentic development workflow orchestrator",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve,
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	root.PersistentFlags().IntVar(&port, "port", 0, "HTTP listen port")
	root.PersistentFlags().StringVar(&stateRoot, "state-root", "", "workflow state root directory")
	root.PersistentFlags().StringVar(&worktreeRoot, "worktree-root", "", "worktree root directory")
	root.PersistentFlags().StringVar(&dbPath, "db-path", "", "history database file")
	root.PersistentFlags().StringVar(&scriptsDir, "scripts-dir", "", "workflow executables directory")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator daemon (default)",
		RunE:  serve,
	})

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("adwd %s (commit: %s)\n", version, commit)
		},
	})

	// Install the structured default logger before any command runs.
	// Errors returned by a command are printed plainly by main.
	cobra.OnInitialize(func() {
		slog.SetDefault(log.New(log.FromEnv()))
	})

	return root
}

// applyFlags overlays explicitly set flags on the loaded config.
func applyFlags(flags *pflag.FlagSet, cfg *config.Config, port int, stateRoot, worktreeRoot, dbPath, scriptsDir string) {
	if flags.Changed("port") {
		cfg.Listen.Port = port
	}
	if flags.Changed("state-root") {
		cfg.Paths.StateRoot = stateRoot
	}
	if flags.Changed("worktree-root") {
		cfg.Paths.WorktreeRoot = worktreeRoot
	}
	if flags.Changed("db-path") {
		cfg.Paths.DBPath = dbPath
	}
	if flags.Changed("scripts-dir") {
		cfg.Paths.ScriptsDir = scriptsDir
	}
}
