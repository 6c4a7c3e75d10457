package pool

import (
	"context"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Create admits and submits a new instance for the job in req. A rejected
// request returns false with a nil error.
func (m *Manager) Create(ctx context.Context, req CreateRequest, cluster ClusterConfig) (Instance, bool, error) {
	logger := m.logger.With(
		zap.Int64("jobID", req.Job.JobID),
		zap.String("job", req.Job.Representation()),
		zap.String("namespace", cluster.Namespace),
	)

	if _, err := ParseCreationMode(req.Properties); err != nil {
		logger.Warn("invalid creation request", zap.Error(err))
		m.console(ctx, req.Job, "Cannot create agent instance: %s", err)
		return Instance{}, false, err
	}

	p := m.pool(cluster)
	p.lock.Lock()
	defer p.lock.Unlock()

	m.console(ctx, req.Job, "Checking instances in namespace %s", cluster.Namespace)
	if err := m.refresh(ctx, p); err != nil {
		logger.Warn("failed to refresh instances", zap.Error(err))
		m.console(ctx, req.Job, "Failed to list instances: %s", err)
		return Instance{}, false, err
	}

	live := lo.Filter(p.registry.All(), func(i Instance, _ int) bool { return i.IsLive() })

	if existing, ok := lo.Find(live, func(i Instance) bool { return i.JobID == req.Job.JobID }); ok {
		logger.Info("instance already exists for job", zap.String("id", existing.ID))
		m.console(ctx, req.Job, "Instance %s is already running for this job, not creating another", existing.ID)
		m.metrics.rejectedDuplicate.Add(1)
		return Instance{}, false, nil
	}

	permits := max(0, cluster.MaxPendingInstances-len(live))
	if permits == 0 {
		logger.Info("instance limit reached",
			zap.Int("live", len(live)),
			zap.Int("max", cluster.MaxPendingInstances),
		)
		m.console(ctx, req.Job, "The number of live instances (%d) has reached the limit (%d), not creating more", len(live), cluster.MaxPendingInstances)
		m.metrics.rejectedCapacity.Add(1)
		return Instance{}, false, nil
	}

	pod, err := m.factory.Build(ctx, req, cluster)
	if err != nil {
		logger.Warn("failed to build instance", zap.Error(err))
		m.console(ctx, req.Job, "Failed to build instance: %s", err)
		return Instance{}, false, err
	}

	m.console(ctx, req.Job, "Creating instance %s", pod.Name)
	created, err := m.cluster.CreateInstance(ctx, cluster, pod)
	if err != nil {
		logger.Warn("failed to create instance", zap.String("id", pod.Name), zap.Error(err))
		m.console(ctx, req.Job, "Failed to create instance %s: %s", pod.Name, err)
		return Instance{}, false, err
	}

	instance, err := FromPod(created)
	if err != nil {
		logger.Warn("failed to read created instance", zap.String("id", created.Name), zap.Error(err))
		return Instance{}, false, err
	}
	p.registry.Upsert(instance)
	m.metrics.created.Add(1)

	logger.Info("created instance", zap.String("id", instance.ID))
	m.console(ctx, req.Job, "Created instance %s, waiting for the agent to register", instance.ID)
	return instance, true, nil
}
