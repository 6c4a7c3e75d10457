package kube

import (
	"context"
	"fmt"
	"time"

	"github.com/oursky/kube-agent-pool/pkg/pool"

	"go.uber.org/zap"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/client-go/kubernetes"
)

var _ pool.ClusterAPI = (*ClusterAPI)(nil)

type ClusterAPI struct {
	logger  *zap.Logger
	clients *ClientCache
	timeout time.Duration
}

func NewClusterAPI(logger *zap.Logger, config *Config, clients *ClientCache) *ClusterAPI {
	return &ClusterAPI{
		logger:  logger.Named("kube"),
		clients: clients,
		timeout: config.GetRequestTimeout(),
	}
}

func (a *ClusterAPI) Client(cluster pool.ClusterConfig) (kubernetes.Interface, error) {
	return a.clients.Get(cluster)
}

// ListInstances lists pods matching selector. A stale client is recycled
// and the listing retried once.
func (a *ClusterAPI) ListInstances(ctx context.Context, cluster pool.ClusterConfig, selector labels.Selector) ([]corev1.Pod, error) {
	pods, err := a.list(ctx, cluster, selector)
	if isStaleConnection(err) {
		a.logger.Info("retrying with new client",
			zap.String("endpoint", cluster.Endpoint),
			zap.Error(err),
		)
		a.clients.Recycle(cluster)
		pods, err = a.list(ctx, cluster, selector)
	}
	if err != nil {
		return nil, fmt.Errorf("list pods: %w", err)
	}
	return pods, nil
}

func (a *ClusterAPI) list(ctx context.Context, cluster pool.ClusterConfig, selector labels.Selector) ([]corev1.Pod, error) {
	client, err := a.clients.Get(cluster)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	list, err := client.CoreV1().Pods(cluster.Namespace).List(ctx, metav1.ListOptions{
		LabelSelector: selector.String(),
	})
	if err != nil {
		return nil, err
	}
	return list.Items, nil
}

func (a *ClusterAPI) CreateInstance(ctx context.Context, cluster pool.ClusterConfig, pod *corev1.Pod) (*corev1.Pod, error) {
	client, err := a.clients.Get(cluster)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	a.logger.Info("creating pod",
		zap.String("namespace", cluster.Namespace),
		zap.String("name", pod.Name),
	)
	created, err := client.CoreV1().Pods(cluster.Namespace).Create(ctx, pod, metav1.CreateOptions{})
	if err != nil {
		if isStaleConnection(err) {
			a.clients.Recycle(cluster)
		}
		return nil, fmt.Errorf("create pod: %w", err)
	}
	return created, nil
}

func (a *ClusterAPI) DeleteInstance(ctx context.Context, cluster pool.ClusterConfig, id string) error {
	client, err := a.clients.Get(cluster)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	a.logger.Info("deleting pod",
		zap.String("namespace", cluster.Namespace),
		zap.String("name", id),
	)
	err = client.CoreV1().Pods(cluster.Namespace).Delete(ctx, id, metav1.DeleteOptions{})
	if apierrors.IsNotFound(err) {
		return nil
	} else if err != nil {
		if isStaleConnection(err) {
			a.clients.Recycle(cluster)
		}
		return fmt.Errorf("delete pod: %w", err)
	}
	return nil
}
