package pool

import (
	"context"

	"github.com/oursky/kube-agent-pool/pkg/ci"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/labels"
)

type ClusterAPI interface {
	ListInstances(ctx context.Context, cluster ClusterConfig, selector labels.Selector) ([]corev1.Pod, error)
	CreateInstance(ctx context.Context, cluster ClusterConfig, pod *corev1.Pod) (*corev1.Pod, error)
	// DeleteInstance succeeds when the pod is already gone.
	DeleteInstance(ctx context.Context, cluster ClusterConfig, id string) error
}

type CIServer interface {
	ListAgents(ctx context.Context) (ci.Agents, error)
	DisableAgents(ctx context.Context, agents ci.Agents) error
	DeleteAgents(ctx context.Context, agents ci.Agents) error
	AppendConsoleLog(ctx context.Context, job ci.JobIdentifier, text string) error
}
