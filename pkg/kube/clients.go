package kube

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/oursky/kube-agent-pool/pkg/pool"

	"go.uber.org/zap"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

type ClientFactory func(cluster pool.ClusterConfig) (kubernetes.Interface, error)

// NewClientFactory builds clientsets for a cluster endpoint. An empty
// endpoint means the cluster the process runs in, or the local kubeconfig.
func NewClientFactory(config *Config) ClientFactory {
	return func(cluster pool.ClusterConfig) (kubernetes.Interface, error) {
		restConfig, err := restConfigFor(cluster)
		if err != nil {
			return nil, err
		}
		restConfig.QPS = config.GetQPS()
		restConfig.Burst = config.GetBurst()
		return kubernetes.NewForConfig(restConfig)
	}
}

func restConfigFor(cluster pool.ClusterConfig) (*rest.Config, error) {
	if cluster.Endpoint != "" {
		return &rest.Config{
			Host:        cluster.Endpoint,
			BearerToken: cluster.Credentials,
			TLSClientConfig: rest.TLSClientConfig{
				CAData: []byte(cluster.CACertData),
			},
		}, nil
	}

	config, err := rest.InClusterConfig()
	if err != nil {
		loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
		kubeConfig := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, nil)
		config, err = kubeConfig.ClientConfig()

		if err != nil {
			return nil, fmt.Errorf("load kube config: %w", err)
		}
	}
	return config, nil
}

type cachedClient struct {
	client    kubernetes.Interface
	createdAt time.Time
}

// ClientCache hands out one clientset per cluster configuration, rebuilding
// it once it is older than the recycle interval or has been recycled.
type ClientCache struct {
	logger          *zap.Logger
	factory         ClientFactory
	recycleInterval time.Duration
	now             func() time.Time

	lock    *sync.Mutex
	clients map[pool.ClusterConfig]cachedClient
}

func NewClientCache(logger *zap.Logger, config *Config, factory ClientFactory) *ClientCache {
	return &ClientCache{
		logger:          logger.Named("clients"),
		factory:         factory,
		recycleInterval: config.GetRecycleInterval(),
		now:             time.Now,

		lock:    new(sync.Mutex),
		clients: make(map[pool.ClusterConfig]cachedClient),
	}
}

func (c *ClientCache) Get(cluster pool.ClusterConfig) (kubernetes.Interface, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	now := c.now()
	if cached, ok := c.clients[cluster]; ok {
		if now.Sub(cached.createdAt) < c.recycleInterval {
			return cached.client, nil
		}
		c.logger.Debug("recycling expired client", zap.String("endpoint", cluster.Endpoint))
	}

	client, err := c.factory(cluster)
	if err != nil {
		return nil, fmt.Errorf("create kube client: %w", err)
	}
	c.clients[cluster] = cachedClient{client: client, createdAt: now}
	return client, nil
}

func (c *ClientCache) Recycle(cluster pool.ClusterConfig) {
	c.lock.Lock()
	defer c.lock.Unlock()

	delete(c.clients, cluster)
}

func isStaleConnection(err error) bool {
	if err == nil {
		return false
	}
	if apierrors.IsUnauthorized(err) {
		return true
	}
	if errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, net.ErrClosed) {
		return true
	}

	msg := err.Error()
	return strings.Contains(msg, "http2: client connection lost") ||
		strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "connection reset by peer")
}
