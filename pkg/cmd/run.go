package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Run starts every module and blocks until they all return. SIGTERM or
// SIGINT cancels the shared context.
func Run(logger *zap.Logger, modules []Module) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	return RunContext(ctx, logger, modules)
}

func RunContext(ctx context.Context, logger *zap.Logger, modules []Module) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	logger.Info("starting...", zap.Int("modules", len(modules)))
	for _, m := range modules {
		if err := m.Start(ctx, g); err != nil {
			cancel()
			_ = g.Wait()
			return fmt.Errorf("error while starting: %w", err)
		}
	}

	go func() {
		<-ctx.Done()
		logger.Info("exiting...")
	}()

	return g.Wait()
}
