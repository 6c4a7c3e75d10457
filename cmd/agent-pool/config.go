package main

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/oursky/kube-agent-pool/pkg/api"
	"github.com/oursky/kube-agent-pool/pkg/ci"
	"github.com/oursky/kube-agent-pool/pkg/dashboard"
	"github.com/oursky/kube-agent-pool/pkg/kube"
	"github.com/oursky/kube-agent-pool/pkg/pool"
	"github.com/oursky/kube-agent-pool/pkg/slack"
	"github.com/oursky/kube-agent-pool/pkg/utils/defaults"
	"github.com/oursky/kube-agent-pool/pkg/utils/tomltypes"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	Pool      pool.Config      `toml:"pool"`
	Kube      kube.Config      `toml:"kube"`
	CI        ci.Config        `toml:"ci"`
	API       api.Config       `toml:"api"`
	Dashboard dashboard.Config `toml:"dashboard"`
	Slack     slack.Config     `toml:"slack"`
	Clusters  []ClusterConfig  `toml:"clusters" validate:"dive"`
}

// ClusterConfig describes a cluster reconciled on a fixed interval without
// waiting for host pings.
type ClusterConfig struct {
	Endpoint            string              `toml:"endpoint,omitempty" validate:"omitempty,url"`
	Credentials         string              `toml:"credentials,omitempty"`
	CACertData          string              `toml:"caCertData,omitempty"`
	Namespace           string              `toml:"namespace" validate:"required"`
	MaxPendingInstances *int                `toml:"maxPendingInstances,omitempty" validate:"omitempty,min=0"`
	AutoRegisterTimeout *tomltypes.Duration `toml:"autoRegisterTimeout,omitempty"`
	ReuseEnabled        bool                `toml:"reuseEnabled"`
}

func (c *ClusterConfig) Resolve() pool.ClusterConfig {
	return pool.ClusterConfig{
		Endpoint:            c.Endpoint,
		Credentials:         c.Credentials,
		CACertData:          c.CACertData,
		Namespace:           c.Namespace,
		MaxPendingInstances: defaults.Value(c.MaxPendingInstances, 10),
		AutoRegisterTimeout: defaults.Value(c.AutoRegisterTimeout.Value(), 10*time.Minute),
		ReuseEnabled:        c.ReuseEnabled,
	}
}

func NewConfig(path string) (*Config, error) {
	var config Config
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	validate := validator.New()
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("toml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}
