// Command otbx is the engine's CLI: open a database file and summarize
// its WAL setup, force a checkpoint, or serve its Prometheus metrics. There is
// no SQL frontend here (out of scope per spec.md §1) — otbx is meant to
// be embedded, and this binary exists for operational tasks against a
// database file rather than for issuing statements.
//
// Grounded on AKJUS-bsc-erigon's cmd/utils + root-command style: one
// cobra root command, each subcommand binding internal/config's flags
// before calling into the engine.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/otbx/otbx/internal/config"
	"github.com/otbx/otbx/internal/engine"
	"github.com/otbx/otbx/internal/otlog"
)

var log = otlog.New("cmd")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := config.Default()
	root := &cobra.Command{
		Use:           "otbx",
		Short:         "Operate an otbx embedded database file",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	for _, sub := range []*cobra.Command{newInfoCmd(&cfg), newCheckpointCmd(&cfg), newServeMetricsCmd(&cfg)} {
		config.BindFlags(sub, &cfg)
		root.AddCommand(sub)
	}
	return root
}

// newInfoCmd opens the database, prints its path, WAL shard count and
// directory, and read-only/read-write mode, then closes it.
func newInfoCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Print the database path, WAL shard layout and open mode",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := engine.Open(*cfg)
			if err != nil {
				return err
			}
			defer e.Close()

			fmt.Printf("database: %s\n", cfg.Path)
			fmt.Printf("wal shards: %d (dir %s)\n", cfg.WALShards, cfg.WALDir)
			if cfg.ReadOnly {
				fmt.Println("mode: read-only")
			} else {
				fmt.Println("mode: read-write")
			}
			return nil
		},
	}
}

// newCheckpointCmd opens the database, forces one checkpoint, and closes.
func newCheckpointCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "checkpoint",
		Short: "Flush in-memory table state and advance the WAL watermark",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := engine.Open(*cfg)
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.Checkpoint(); err != nil {
				return err
			}
			log.Infow("checkpoint complete", "path", cfg.Path)
			return nil
		},
	}
}

// newServeMetricsCmd opens the database (so its collectors observe real
// activity if a caller is embedding otbx in-process alongside this CLI)
// and blocks serving Prometheus metrics on --metrics-addr.
func newServeMetricsCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve-metrics",
		Short: "Open the database and serve its Prometheus metrics until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.MetricsAddr == "" {
				return fmt.Errorf("otbx: --metrics-addr is required for serve-metrics")
			}
			e, err := engine.Open(*cfg)
			if err != nil {
				return err
			}
			defer e.Close()

			reg := e.Metrics()
			if reg == nil {
				return fmt.Errorf("otbx: engine has no metrics registry")
			}
			log.Infow("serving metrics", "addr", cfg.MetricsAddr)
			return http.ListenAndServe(cfg.MetricsAddr, reg.Handler())
		},
	}
}
