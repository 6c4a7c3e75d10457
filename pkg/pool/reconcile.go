package pool

import (
	"context"
	"errors"
	"fmt"

	"github.com/oursky/kube-agent-pool/pkg/ci"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Ping runs one reconciliation tick: every known cluster (including the
// ones passed in) is reconciled, then agents without an instance in any
// cluster are removed. A failing cluster holds back the sweep until it has
// failed MaxRefreshFailures refreshes in a row; after that its last known
// instances stand, and it is untracked unless it was passed in.
func (m *Manager) Ping(ctx context.Context, clusters ...ClusterConfig) error {
	for _, c := range clusters {
		m.pool(c)
	}

	pools := m.knownPools()
	errs := make([]error, len(pools))
	g := new(errgroup.Group)
	for i, p := range pools {
		g.Go(func() error {
			errs[i] = m.reconcilePool(ctx, p)
			return errs[i]
		})
	}
	if err := g.Wait(); err == nil {
		return m.terminateMissingAgents(ctx)
	}

	err := errors.Join(errs...)
	if m.settleFailures(pools, errs, clusters) {
		m.logger.Warn("skipping missing agent check", zap.Error(err))
		return err
	}
	return errors.Join(err, m.terminateMissingAgents(ctx))
}

// settleFailures reports whether any failed cluster still blocks the missing
// agent sweep, and untracks clusters that keep failing.
func (m *Manager) settleFailures(pools []*clusterPool, errs []error, pinged []ClusterConfig) bool {
	blocked := false
	for i, p := range pools {
		if errs[i] == nil {
			continue
		}
		failures := p.refreshFailures()
		if failures < m.config.GetMaxRefreshFailures() {
			blocked = true
			continue
		}
		if lo.Contains(pinged, p.cluster) {
			continue
		}
		m.logger.Warn("untracking unreachable cluster",
			zap.String("endpoint", p.cluster.Endpoint),
			zap.String("namespace", p.cluster.Namespace),
			zap.Int("failures", failures),
		)
		m.forget(p)
	}
	return blocked
}

// Reconcile converges one cluster's instances with the CI server's agents.
// Concurrent calls for the same cluster share a single run.
func (m *Manager) Reconcile(ctx context.Context, cluster ClusterConfig) error {
	return m.reconcilePool(ctx, m.pool(cluster))
}

func (m *Manager) reconcilePool(ctx context.Context, p *clusterPool) error {
	_, err, _ := m.reconciles.Do(p.key, func() (any, error) {
		return nil, m.reconcile(ctx, p)
	})
	return err
}

func (m *Manager) reconcile(ctx context.Context, p *clusterPool) error {
	logger := m.logger.With(
		zap.String("endpoint", p.cluster.Endpoint),
		zap.String("namespace", p.cluster.Namespace),
	)

	p.lock.Lock()
	err := m.refresh(ctx, p)
	p.lock.Unlock()
	if err != nil {
		logger.Warn("failed to refresh instances", zap.Error(err))
		return err
	}

	agents, err := m.ci.ListAgents(ctx)
	if err != nil {
		logger.Warn("failed to list agents", zap.Error(err))
		return fmt.Errorf("list agents: %w", err)
	}
	m.disableIdleAgents(ctx, logger, p, agents)

	agents, err = m.ci.ListAgents(ctx)
	if err != nil {
		logger.Warn("failed to list agents", zap.Error(err))
		return fmt.Errorf("list agents: %w", err)
	}
	m.terminateDisabledAgents(ctx, logger, p, agents)
	m.terminateUnregisteredInstances(ctx, logger, p, agents)
	return nil
}

func (m *Manager) disableIdleAgents(ctx context.Context, logger *zap.Logger, p *clusterPool, agents ci.Agents) {
	idle := ci.Agents(lo.Filter(agents, func(a ci.Agent, _ int) bool {
		return a.ConfigState == ci.ConfigStateEnabled && a.IsIdleOrGone() && p.registry.Has(a.ID)
	}))
	if len(idle) == 0 {
		return
	}

	logger.Info("disabling idle agents", zap.Strings("ids", idle.IDs()))
	if err := m.ci.DisableAgents(ctx, idle); err != nil {
		logger.Warn("failed to disable agents", zap.Error(err))
	}
}

func (m *Manager) terminateDisabledAgents(ctx context.Context, logger *zap.Logger, p *clusterPool, agents ci.Agents) {
	disabled := lo.Filter(agents, func(a ci.Agent, _ int) bool {
		return a.ConfigState == ci.ConfigStateDisabled && a.IsIdleOrGone() && p.registry.Has(a.ID)
	})

	var terminated ci.Agents
	for _, a := range disabled {
		if err := m.terminate(ctx, p, a.ID); err != nil {
			logger.Warn("failed to terminate instance", zap.String("id", a.ID), zap.Error(err))
			continue
		}
		terminated = append(terminated, a)
	}
	if len(terminated) == 0 {
		return
	}

	logger.Info("deleting agents", zap.Strings("ids", terminated.IDs()))
	if err := m.ci.DeleteAgents(ctx, terminated); err != nil {
		logger.Warn("failed to delete agents", zap.Error(err))
	}
}

func (m *Manager) terminateUnregisteredInstances(ctx context.Context, logger *zap.Logger, p *clusterPool, agents ci.Agents) {
	now := m.clock.Now()
	var reaped []Instance
	for _, instance := range p.registry.All() {
		if agents.Has(instance.ID) {
			continue
		}
		if !instance.CreatedAt.Add(p.cluster.AutoRegisterTimeout).Before(now) {
			continue
		}

		logger.Info("instance did not register in time",
			zap.String("id", instance.ID),
			zap.Time("createdAt", instance.CreatedAt),
		)
		if err := m.terminate(ctx, p, instance.ID); err != nil {
			logger.Warn("failed to terminate instance", zap.String("id", instance.ID), zap.Error(err))
			continue
		}
		reaped = append(reaped, instance)
	}
	if len(reaped) > 0 {
		m.notifier.InstancesReaped(ctx, p.cluster, reaped)
	}
}

func (m *Manager) terminateMissingAgents(ctx context.Context) error {
	agents, err := m.ci.ListAgents(ctx)
	if err != nil {
		m.logger.Warn("failed to list agents", zap.Error(err))
		return fmt.Errorf("list agents: %w", err)
	}

	missing := ci.Agents(lo.Filter(agents, func(a ci.Agent, _ int) bool {
		return !m.hasInstance(a.ID)
	}))
	if len(missing) == 0 {
		return nil
	}

	m.logger.Warn("agents have no instance in any cluster", zap.Strings("ids", missing.IDs()))
	if err := m.ci.DisableAgents(ctx, missing); err != nil {
		return fmt.Errorf("disable missing agents: %w", err)
	}
	if err := m.ci.DeleteAgents(ctx, missing); err != nil {
		return fmt.Errorf("delete missing agents: %w", err)
	}
	m.notifier.AgentsReaped(ctx, missing)
	return nil
}
