// Command gownqueue runs the offline gown operation queue: an HTTP service for
// staff devices plus local commands that operate on the same queue store.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"gownqueue/internal/blob"
	"gownqueue/internal/config"
	"gownqueue/internal/core"
	"gownqueue/internal/observability"
)

// app carries state shared by every command once the root pre-run has loaded
// configuration.
type app struct {
	configPath string
	verbose    bool
	cfg        config.Config
	logger     *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{logger: zap.NewNop()}
	root := &cobra.Command{
		Use:   "gownqueue",
		Short: "Offline gown check-in/check-out queue",
		Long: `gownqueue records gown check-outs, check-ins, undos and gown changes
while the device is offline and replays them against the booking system once
connectivity returns.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			level := cfg.Log.Level
			if a.verbose {
				level = "debug"
			}
			logger, err := observability.NewLogger(level, cfg.Log.Development)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			a.cfg, a.logger = cfg, logger
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = a.logger.Sync()
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "YAML config file (or set GOWNQUEUE_CONFIG)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable verbose logging")

	root.AddCommand(
		a.serveCmd(),
		a.enqueueCmd(),
		a.statusCmd(),
		a.listCmd(),
		a.replayCmd(),
		a.retryCmd(),
		a.discardCmd(),
		a.exportCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openService wires a service from configuration. The returned close
// function releases the queue, remote and blob resources.
func (a *app) openService(ctx context.Context, opts ...core.Option) (*core.Service, func(), error) {
	store, err := core.OpenQueueStore(ctx, a.cfg.Storage)
	if err != nil {
		return nil, nil, err
	}
	remote, closeRemote, err := core.OpenRemote(ctx, a.cfg.Remote)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	blobs, err := blob.Open(ctx, a.cfg.Blob)
	if err != nil {
		_ = store.Close()
		_ = closeRemote()
		return nil, nil, fmt.Errorf("open blob store: %w", err)
	}

	base := []core.Option{
		core.WithLogger(a.logger),
		core.WithBlobStore(blobs),
		core.WithExportRetention(a.cfg.Export.Keep),
		core.WithReplay(a.cfg.Replay.Concurrency, a.cfg.Replay.OptimisticTimeout),
		core.WithGraceWindow(a.cfg.Network.GraceWindow),
		core.WithCache(a.cfg.Cache.TTL, a.cfg.Cache.Size),
		core.WithInitialOnline(a.cfg.Network.StartOnline),
	}
	svc, err := core.New(ctx, store, remote, append(base, opts...)...)
	if err != nil {
		_ = store.Close()
		_ = closeRemote()
		return nil, nil, err
	}
	closeAll := func() {
		if err := svc.Close(); err != nil {
			a.logger.Warn("close queue", zap.Error(err))
		}
		if err := closeRemote(); err != nil {
			a.logger.Warn("close remote", zap.Error(err))
		}
	}
	return svc, closeAll, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
