package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Nadiam75/snappify/internal/config"
	"github.com/Nadiam75/snappify/internal/engines"
	"github.com/Nadiam75/snappify/internal/modelserver"
)

var enginesCmd = &cobra.Command{
	Use:   "engines",
	Short: "Manage engine model servers",
	Long: `Manage the model server containers behind each OCR engine.

Each engine runs in its own model server. Containers are created from
the image in engines.<name>.container and keep downloaded weights in
~/.snappify/models/<engine>/.

Commands take engine names as arguments; without any they act on every
enabled engine.

Examples:
  snappify engines start             # Start every enabled engine's container
  snappify engines stop easyocr      # Stop one container (weights preserved)
  snappify engines status            # Container state and model server health
  snappify engines logs trocr        # View container logs`,
}

var enginesStartCmd = &cobra.Command{
	Use:   "start [engine]...",
	Short: "Start model server containers",
	Long: `Start model server containers.

If a container doesn't exist, it will be created and started.
If it exists but is stopped, it will be started.
If it's already running, this is a no-op.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return forEachContainer(cmd.Context(), args, func(ctx context.Context, name engines.Name, _ config.EngineCfg, mgr *modelserver.DockerManager) error {
			fmt.Printf("Starting %s...\n", name)
			if err := mgr.Start(ctx); err != nil {
				return fmt.Errorf("failed to start %s: %w", name, err)
			}
			fmt.Printf("%s is running at %s\n", name, mgr.URL())
			return nil
		})
	},
}

var enginesStopCmd = &cobra.Command{
	Use:   "stop [engine]...",
	Short: "Stop model server containers",
	Long: `Stop model server containers.

This stops the containers but preserves downloaded weights. Use
'snappify engines start' to restart them later.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return forEachContainer(cmd.Context(), args, func(ctx context.Context, name engines.Name, _ config.EngineCfg, mgr *modelserver.DockerManager) error {
			fmt.Printf("Stopping %s...\n", name)
			if err := mgr.Stop(ctx); err != nil {
				return fmt.Errorf("failed to stop %s: %w", name, err)
			}
			fmt.Printf("%s stopped\n", name)
			return nil
		})
	},
}

var enginesStatusCmd = &cobra.Command{
	Use:   "status [engine]...",
	Short: "Show container status and model server health",
	RunE: func(cmd *cobra.Command, args []string) error {
		return forEachContainer(cmd.Context(), args, func(ctx context.Context, name engines.Name, ec config.EngineCfg, mgr *modelserver.DockerManager) error {
			status, err := mgr.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get status of %s: %w", name, err)
			}

			fmt.Printf("%s:\n", name)
			switch status {
			case modelserver.StatusStopped:
				fmt.Printf("  Container: %s (use 'snappify engines start %s' to start)\n", status, name)
			case modelserver.StatusNotFound:
				fmt.Printf("  Container: %s (use 'snappify engines start %s' to create)\n", status, name)
			default:
				fmt.Printf("  Container: %s\n", status)
			}

			// The endpoint may point at a server outside Docker.
			fmt.Printf("  Endpoint:  %s\n", ec.Endpoint)
			info, err := modelserver.NewClient(ec.Endpoint, 5*time.Second).Health(ctx)
			switch {
			case err != nil:
				fmt.Printf("  Health:    unreachable (%v)\n", err)
			case !info.Installed:
				fmt.Printf("  Health:    %s not installed\n", info.Library)
			default:
				fmt.Printf("  Health:    healthy (%s %s, accelerators: %v)\n", info.Library, info.Version, info.Accelerators)
			}
			return nil
		})
	},
}

var logsTail string

var enginesLogsCmd = &cobra.Command{
	Use:   "logs <engine>",
	Short: "Show model server container logs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return forEachContainer(cmd.Context(), args, func(ctx context.Context, name engines.Name, _ config.EngineCfg, mgr *modelserver.DockerManager) error {
			logs, err := mgr.Logs(ctx, logsTail)
			if err != nil {
				return fmt.Errorf("failed to get logs: %w", err)
			}
			fmt.Print(logs)
			return nil
		})
	},
}

var enginesRemoveCmd = &cobra.Command{
	Use:   "remove [engine]...",
	Short: "Remove model server containers",
	Long: `Remove model server containers.

This stops and removes the containers. Weights in ~/.snappify/models/
are NOT deleted - only the containers are removed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return forEachContainer(cmd.Context(), args, func(ctx context.Context, name engines.Name, _ config.EngineCfg, mgr *modelserver.DockerManager) error {
			fmt.Printf("Removing %s container...\n", name)
			if err := mgr.Remove(ctx); err != nil {
				return fmt.Errorf("failed to remove %s: %w", name, err)
			}
			fmt.Printf("%s container removed (weights preserved)\n", name)
			return nil
		})
	},
}

func init() {
	enginesCmd.AddCommand(enginesStartCmd)
	enginesCmd.AddCommand(enginesStopCmd)
	enginesCmd.AddCommand(enginesStatusCmd)
	enginesCmd.AddCommand(enginesLogsCmd)
	enginesCmd.AddCommand(enginesRemoveCmd)

	enginesLogsCmd.Flags().StringVar(&logsTail, "tail", "100", "Number of lines to show from the end")

	rootCmd.AddCommand(enginesCmd)
}

// containerFunc acts on one engine's container.
type containerFunc func(ctx context.Context, name engines.Name, ec config.EngineCfg, mgr *modelserver.DockerManager) error

// forEachContainer resolves args (every enabled engine when empty) and runs
// fn with a Docker manager for each.
func forEachContainer(ctx context.Context, args []string, fn containerFunc) error {
	h, err := getHome()
	if err != nil {
		return err
	}
	cfgMgr, err := loadConfig(h)
	if err != nil {
		return err
	}
	cfg := cfgMgr.Get()

	names := cfg.EnabledEngines()
	if len(args) > 0 {
		names = names[:0]
		for _, arg := range args {
			name, err := engines.ParseName(arg)
			if err != nil {
				return err
			}
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return fmt.Errorf("no engines enabled in config")
	}

	for _, name := range names {
		ec, ok := cfg.GetEngine(name)
		if !ok {
			return fmt.Errorf("%s is not configured", name)
		}
		mgr, err := newEngineContainer(h, name, ec)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		err = fn(ctx, name, ec, mgr)
		_ = mgr.Close()
		if err != nil {
			return err
		}
	}
	return nil
}
