package main

import (
	"fmt"

	"github.com/oursky/kube-agent-pool/pkg/api"
	"github.com/oursky/kube-agent-pool/pkg/ci"
	"github.com/oursky/kube-agent-pool/pkg/cmd"
	"github.com/oursky/kube-agent-pool/pkg/dashboard"
	"github.com/oursky/kube-agent-pool/pkg/kube"
	"github.com/oursky/kube-agent-pool/pkg/pool"
	"github.com/oursky/kube-agent-pool/pkg/slack"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

func initModules(logger *zap.Logger, config *Config) ([]cmd.Module, error) {
	registry := prometheus.NewPedanticRegistry()
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(collectors.NewGoCollector())

	ciClient, err := ci.NewClient(logger, &config.CI)
	if err != nil {
		return nil, fmt.Errorf("cannot setup CI client: %w", err)
	}

	clients := kube.NewClientCache(logger, &config.Kube, kube.NewClientFactory(&config.Kube))
	clusterAPI := kube.NewClusterAPI(logger, &config.Kube, clients)

	clock := pool.RealClock{}
	factory := pool.NewFactory(&config.Pool, nil, clock)
	manager := pool.NewManager(logger, &config.Pool, factory, clusterAPI, ciClient, clock, registry)

	var modules []cmd.Module

	if !config.Slack.Disabled {
		notifier := slack.NewNotifier(logger, &config.Slack)
		manager.SetNotifier(notifier)
		modules = append(modules, notifier)
	}

	clusters := make([]pool.ClusterConfig, len(config.Clusters))
	for i, c := range config.Clusters {
		clusters[i] = c.Resolve()
	}
	pinger := pool.NewPinger(logger, &config.Pool, manager, clusters)
	modules = append(modules, pinger)

	dashboard := dashboard.NewServer(logger, &config.Dashboard, manager)
	modules = append(modules, dashboard)

	api := api.NewServer(logger, &config.API, manager, registry)
	modules = append(modules, api)

	return modules, nil
}
