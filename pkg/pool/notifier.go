package pool

import (
	"context"

	"github.com/oursky/kube-agent-pool/pkg/ci"
)

// Notifier is told about drift repaired by reconciliation.
type Notifier interface {
	InstancesReaped(ctx context.Context, cluster ClusterConfig, instances []Instance)
	AgentsReaped(ctx context.Context, agents ci.Agents)
}

type nopNotifier struct{}

func (nopNotifier) InstancesReaped(context.Context, ClusterConfig, []Instance) {}
func (nopNotifier) AgentsReaped(context.Context, ci.Agents)                  {}
