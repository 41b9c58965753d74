// Klingnet staking node daemon.
//
// Usage:
//
//	klingstaked [--pool=pool.yaml | --pool-admin=kst1...] Run node
//	klingstaked --help                                    Show help
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Klingon-tech/klingnet-staking/config"
	klog "github.com/Klingon-tech/klingnet-staking/internal/log"
	"github.com/Klingon-tech/klingnet-staking/internal/node"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, _, err := config.Load(os.Args[1:])
	if err != nil {
		return err
	}

	logFile, err := node.LogFile(cfg)
	if err != nil {
		return err
	}
	if err := klog.Init(cfg.Log.Level, cfg.Log.JSON, logFile); err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}

	n, err := node.New(cfg)
	if err != nil {
		return err
	}
	if err := n.Start(); err != nil {
		n.Stop(context.Background())
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case err := <-n.Err():
			return fmt.Errorf("rpc server: %w", err)
		case <-ctx.Done():
			return nil
		}
	})
	g.Go(func() error {
		<-ctx.Done()
		klog.Node.Info().Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return n.Stop(shutdownCtx)
	})
	return g.Wait()
}
