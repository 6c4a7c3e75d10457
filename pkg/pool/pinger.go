package pool

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Pinger runs reconciliation on a fixed interval for configured clusters,
// for deployments where no host drives the ticks.
type Pinger struct {
	logger   *zap.Logger
	manager  *Manager
	clusters []ClusterConfig
	interval time.Duration
}

func NewPinger(logger *zap.Logger, config *Config, manager *Manager, clusters []ClusterConfig) *Pinger {
	return &Pinger{
		logger:   logger.Named("pinger"),
		manager:  manager,
		clusters: clusters,
		interval: config.GetPingInterval(),
	}
}

func (p *Pinger) Start(ctx context.Context, g *errgroup.Group) error {
	if len(p.clusters) == 0 {
		p.logger.Info("no clusters configured, waiting for host pings")
		return nil
	}

	g.Go(func() error {
		p.run(ctx)
		return nil
	})
	return nil
}

func (p *Pinger) run(ctx context.Context) {
	for {
		if err := p.manager.Ping(ctx, p.clusters...); err != nil {
			p.logger.Warn("ping failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(p.interval):
		}
	}
}
