package pool

import (
	"context"
	"fmt"
	"maps"
	"strings"

	"github.com/oursky/kube-agent-pool/pkg/ci"

	"go.uber.org/zap"
)

type WorkRequest struct {
	Environment string            `json:"environment"`
	Properties  map[string]string `json:"properties"`
}

// IsAssignable reports whether the instance may take the work: environments
// match ignoring case and surrounding space, and properties are identical.
func (m *Manager) IsAssignable(cluster ClusterConfig, id string, work WorkRequest) bool {
	instance, ok := m.Find(cluster, id)
	if !ok {
		return false
	}
	if !strings.EqualFold(strings.TrimSpace(instance.Environment), strings.TrimSpace(work.Environment)) {
		return false
	}
	return maps.Equal(instance.Properties, work.Properties)
}

func (m *Manager) JobAssigned(cluster ClusterConfig, id string) {
	if !m.transition(cluster, id, AgentStateBuilding) {
		m.logger.Warn("assigned instance not found", zap.String("id", id))
	}
}

func (m *Manager) transition(cluster ClusterConfig, id string, state AgentState) bool {
	p, ok := m.lookup(cluster)
	if !ok {
		return false
	}
	_, ok = p.registry.Update(id, func(i Instance) Instance {
		return i.WithAgentState(state)
	})
	return ok
}

// JobCompleted either retires the instance, or keeps it idle for the next
// job when the cluster allows reuse.
func (m *Manager) JobCompleted(ctx context.Context, cluster ClusterConfig, id string) error {
	if cluster.ReuseEnabled {
		if !m.transition(cluster, id, AgentStateIdle) {
			m.logger.Warn("completed instance not found", zap.String("id", id))
		}
		return nil
	}

	agents := ci.Agents{{ID: id}}
	if err := m.ci.DisableAgents(ctx, agents); err != nil {
		return fmt.Errorf("disable agent: %w", err)
	}
	if err := m.Terminate(ctx, cluster, id); err != nil {
		return err
	}
	if err := m.ci.DeleteAgents(ctx, agents); err != nil {
		return fmt.Errorf("delete agent: %w", err)
	}
	return nil
}

// Terminate deletes the instance from the cluster and the registry. Unknown
// ids are treated as already terminated.
func (m *Manager) Terminate(ctx context.Context, cluster ClusterConfig, id string) error {
	p, ok := m.lookup(cluster)
	if !ok || !p.registry.Has(id) {
		m.logger.Warn("instance to terminate not found", zap.String("id", id))
		return nil
	}
	return m.terminate(ctx, p, id)
}

func (m *Manager) terminate(ctx context.Context, p *clusterPool, id string) error {
	if err := m.cluster.DeleteInstance(ctx, p.cluster, id); err != nil {
		return fmt.Errorf("terminate instance %s: %w", id, err)
	}
	p.registry.Remove(id)
	m.metrics.terminated.Add(1)
	m.logger.Info("terminated instance", zap.String("id", id))
	return nil
}
