package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/switchyard/pkg/config"
	"github.com/cuemby/switchyard/pkg/events"
	"github.com/cuemby/switchyard/pkg/lifecycle"
	"github.com/cuemby/switchyard/pkg/log"
	"github.com/cuemby/switchyard/pkg/manifest"
	"github.com/cuemby/switchyard/pkg/registry"
	"github.com/cuemby/switchyard/pkg/security"
	"github.com/cuemby/switchyard/pkg/storage"
	"github.com/cuemby/switchyard/pkg/watcher"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "switchyard",
	Short: "Switchyard - component resolution and lifecycle control plane",
	Long: `Switchyard selects which implementation backs each plug point of a
running system and hot-swaps implementations without a restart.

Candidates arrive from local registration, signed remote manifests,
and plugin entry points; a deterministic precedence ladder picks the
active one, and the lifecycle manager performs atomic health-checked
swaps with rollback.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Switchyard version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(explainCmd)
	rootCmd.AddCommand(candidatesCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(swapCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(drainCmd)
	rootCmd.AddCommand(undrainCmd)
	rootCmd.AddCommand(cleanupCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control plane",
	Long: `Run the Switchyard control plane: load candidates from the configured
manifest sources, watch override files, execute swap requests, and
expose the admin API and Prometheus metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		listenAddr, _ := cmd.Flags().GetString("listen")
		dataDir, _ := cmd.Flags().GetString("data-dir")
		overrideFiles, _ := cmd.Flags().GetStringSlice("overrides")
		manifestSources, _ := cmd.Flags().GetStringSlice("manifest")
		pollInterval, _ := cmd.Flags().GetDuration("poll-interval")
		workers, _ := cmd.Flags().GetInt("workers")
		logLevel, _ := cmd.Flags().GetString("log-level")
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")

		log.Init(log.Config{Level: logLevel, JSONOutput: jsonLogs})
		cfg := config.FromEnv()

		if err := os.MkdirAll(dataDir, 0750); err != nil {
			return fmt.Errorf("failed to create data dir: %v", err)
		}
		store, err := storage.NewBoltStore(dataDir)
		if err != nil {
			return fmt.Errorf("failed to open state store: %v", err)
		}
		defer store.Close()

		broker := events.NewBroker(!cfg.SuppressEvents)
		broker.Start()
		defer broker.Stop()

		policy := security.NewFactoryPolicy(cfg.FactoryAllowlist, cfg.HasAllowlist)
		trust, err := security.NewTrustSet(cfg.TrustedSigners)
		if err != nil {
			return fmt.Errorf("invalid trusted signers: %v", err)
		}

		reg := registry.New(policy, broker)
		mgr, err := lifecycle.NewManager(lifecycle.Options{
			Registry:  reg,
			Factories: registry.DefaultTable(),
			Policy:    policy,
			Store:     store,
			Broker:    broker,
		})
		if err != nil {
			return fmt.Errorf("failed to create lifecycle manager: %v", err)
		}

		cacheDir := cfg.CacheDir
		if cacheDir == "" {
			cacheDir = filepath.Join(dataDir, "artifacts")
		}
		cache, err := manifest.NewArtifactCache(cacheDir)
		if err != nil {
			return fmt.Errorf("failed to create artifact cache: %v", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		queue := watcher.NewQueue(0)

		// Seed candidates from every manifest source, then start a remote
		// watcher per source unless its profile opts out.
		for _, source := range manifestSources {
			loader, err := manifest.NewLoader(manifest.LoaderOptions{
				Source:   source,
				Registry: reg,
				Cache:    cache,
				Trust:    trust,
				Policy:   policy,
				Store:    store,
				Broker:   broker,
			})
			if err != nil {
				return fmt.Errorf("failed to create manifest loader: %v", err)
			}
			if _, err := loader.Load(ctx); err != nil {
				log.Errorf("initial manifest load failed for "+source, err)
			}
			if loader.Profile().DisableWatchers {
				fmt.Printf("✓ Loaded manifest %s (watching disabled by profile)\n", source)
				continue
			}
			rw := watcher.NewRemoteWatcher(loader, queue, pollInterval)
			if err := rw.Start(ctx); err != nil {
				return fmt.Errorf("failed to start remote watcher: %v", err)
			}
			defer rw.Stop()
			fmt.Printf("✓ Watching manifest %s\n", source)
		}

		if len(overrideFiles) > 0 {
			lw := watcher.NewLocalWatcher(overrideFiles, reg, queue, 0)
			if err := lw.Start(ctx); err != nil {
				return fmt.Errorf("failed to start override watcher: %v", err)
			}
			defer lw.Stop()
			fmt.Printf("✓ Watching override files %v\n", overrideFiles)
		}

		orch := watcher.NewOrchestrator(watcher.OrchestratorOptions{
			Manager: mgr,
			Queue:   queue,
			Workers: workers,
		})
		orchDone := make(chan struct{})
		go func() {
			orch.Run(ctx)
			close(orchDone)
		}()
		fmt.Println("✓ Orchestrator started")

		admin := newAdminServer(listenAddr, reg, mgr)
		errCh := make(chan error, 1)
		go func() {
			if err := admin.Start(); err != nil {
				errCh <- fmt.Errorf("admin server error: %v", err)
			}
		}()
		fmt.Printf("✓ Admin API listening on %s\n", listenAddr)

		fmt.Println()
		fmt.Println("Control plane is running. Press Ctrl+C to stop.")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
		case err := <-errCh:
			fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
		}

		// Orchestrator shutdown settles in-flight swaps and cleans every
		// live instance before the admin API goes away.
		cancel()
		select {
		case <-orchDone:
		case <-time.After(60 * time.Second):
			fmt.Fprintln(os.Stderr, "orchestrator shutdown timed out")
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := admin.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("failed to stop admin server: %v", err)
		}

		fmt.Println("✓ Shutdown complete")
		return nil
	},
}

func init() {
	serveCmd.Flags().String("listen", "127.0.0.1:8440", "Address for the admin API and metrics")
	serveCmd.Flags().String("data-dir", "./switchyard-data", "Data directory for durable state")
	serveCmd.Flags().StringSlice("overrides", nil, "Override files to watch")
	serveCmd.Flags().StringSlice("manifest", nil, "Remote manifest sources to load and watch")
	serveCmd.Flags().Duration("poll-interval", 5*time.Minute, "Remote manifest poll interval")
	serveCmd.Flags().Int("workers", 4, "Concurrent swap workers")
	serveCmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
	serveCmd.Flags().Bool("json-logs", false, "Emit JSON logs instead of console output")
}
