// The module's go line is 1.21, which would run net/http's ServeMux in its
// legacy mode; pkg/api registers method+wildcard patterns that need the
// Go 1.22 mux.
//go:debug httpmuxgo121=0

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/orbitctl/orbit/pkg/api"
	"github.com/orbitctl/orbit/pkg/cluster"
	"github.com/orbitctl/orbit/pkg/log"
	"github.com/orbitctl/orbit/pkg/metrics"
	"github.com/orbitctl/orbit/pkg/reconciler"
	"github.com/orbitctl/orbit/pkg/scheduler"
	"github.com/spf13/cobra"
)

var (
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
	Use:     "orbitd",
	Short:   "orbitd runs one manager node of an orbit cluster",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("orbitd version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("node-id", "manager-1", "Unique node ID")
	runCmd.Flags().String("bind-addr", "127.0.0.1:7946", "Address for raft communication")
	runCmd.Flags().String("api-addr", "127.0.0.1:8080", "Address for the Intent API")
	runCmd.Flags().String("health-addr", "", "Address for a standalone health/readiness/metrics server (optional)")
	runCmd.Flags().String("data-dir", "./orbit-data", "Data directory for cluster state")
	runCmd.Flags().Bool("bootstrap", true, "Bootstrap a new single-node cluster instead of joining one")
	runCmd.Flags().String("join-addr", "", "API address of an existing manager to join (requires --join-token, implies --bootstrap=false)")
	runCmd.Flags().String("join-token", "", "Join token issued by the manager at --join-addr")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a manager node",
	RunE: func(cmd *cobra.Command, args []string) error {
		nodeID, _ := cmd.Flags().GetString("node-id")
		bindAddr, _ := cmd.Flags().GetString("bind-addr")
		apiAddr, _ := cmd.Flags().GetString("api-addr")
		healthAddr, _ := cmd.Flags().GetString("health-addr")
		dataDir, _ := cmd.Flags().GetString("data-dir")
		bootstrap, _ := cmd.Flags().GetBool("bootstrap")
		joinAddr, _ := cmd.Flags().GetString("join-addr")
		joinToken, _ := cmd.Flags().GetString("join-token")

		log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
		logger := log.WithComponent("orbitd")

		sched := scheduler.NewScheduler(scheduler.DefaultSchedulerConfig(), scheduler.QuotaConfig{})

		c, err := cluster.New(cluster.Config{NodeID: nodeID, BindAddr: bindAddr, DataDir: dataDir}, sched)
		if err != nil {
			return fmt.Errorf("create cluster: %w", err)
		}
		sched.Start()

		if joinAddr != "" {
			if joinToken == "" {
				return fmt.Errorf("--join-token is required with --join-addr")
			}
			if err := c.Join(joinAddr, joinToken); err != nil {
				return fmt.Errorf("join cluster: %w", err)
			}
			logger.Info().Str("leader", joinAddr).Msg("joined existing cluster")
		} else if bootstrap {
			if err := c.Bootstrap(); err != nil {
				return fmt.Errorf("bootstrap cluster: %w", err)
			}
			logger.Info().Msg("bootstrapped new cluster")
		}

		recon := reconciler.New(sched, reconciler.DefaultInterval, reconciler.DefaultHeartbeatTimeout)
		recon.Start()

		collector := cluster.NewCollector(c)
		collector.Start()

		apiServer := api.NewServer(c)
		errCh := make(chan error, 1)
		go func() {
			if err := apiServer.Start(apiAddr); err != nil {
				errCh <- fmt.Errorf("api server: %w", err)
			}
		}()
		logger.Info().Str("addr", apiAddr).Msg("intent api listening")

		var healthServer *api.HealthServer
		if healthAddr != "" {
			healthServer = api.NewHealthServer(c)
			go func() {
				if err := healthServer.Start(healthAddr); err != nil {
					errCh <- fmt.Errorf("health server: %w", err)
				}
			}()
			logger.Info().Str("addr", healthAddr).Msg("standalone health server listening")
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			logger.Info().Msg("shutting down")
		case err := <-errCh:
			logger.Error().Err(err).Msg("server error, shutting down")
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		_ = apiServer.Stop(ctx)
		collector.Stop()
		recon.Stop()
		sched.Stop()
		if err := c.Shutdown(); err != nil {
			logger.Error().Err(err).Msg("cluster shutdown error")
		}

		logger.Info().Msg("shutdown complete")
		return nil
	},
}
