package pool

import (
	"time"

	"github.com/oursky/kube-agent-pool/pkg/utils/defaults"
	"github.com/oursky/kube-agent-pool/pkg/utils/tomltypes"
)

type Config struct {
	PluginID             *string             `toml:"pluginID,omitempty" validate:"omitempty,max=63"`
	ServerURL            string              `toml:"serverURL" validate:"required,url"`
	DefaultAgentImage    *string             `toml:"defaultAgentImage,omitempty"`
	DefaultAgentVersion  *string             `toml:"defaultAgentVersion,omitempty"`
	PodNamePrefix        *string             `toml:"podNamePrefix,omitempty" validate:"omitempty,max=20"`
	TemplateFetchTimeout *tomltypes.Duration `toml:"templateFetchTimeout,omitempty"`
	PingInterval         *tomltypes.Duration `toml:"pingInterval,omitempty"`
	MaxRefreshFailures   *int                `toml:"maxRefreshFailures,omitempty" validate:"omitempty,min=1"`
}

func (c *Config) GetPluginID() string {
	return defaults.Value(c.PluginID, "kube-agent-pool")
}

func (c *Config) GetDefaultAgentVersion() string {
	return defaults.Value(c.DefaultAgentVersion, "v24.3.0")
}

func (c *Config) GetDefaultAgentImage() string {
	return defaults.Value(c.DefaultAgentImage, "gocd/gocd-agent-wolfi:"+c.GetDefaultAgentVersion())
}

func (c *Config) GetPodNamePrefix() string {
	return defaults.Value(c.PodNamePrefix, "agent")
}

func (c *Config) GetTemplateFetchTimeout() time.Duration {
	return defaults.Value(c.TemplateFetchTimeout.Value(), 10*time.Second)
}

func (c *Config) GetPingInterval() time.Duration {
	return defaults.Value(c.PingInterval.Value(), time.Minute)
}

func (c *Config) GetMaxRefreshFailures() int {
	return defaults.Value(c.MaxRefreshFailures, 3)
}
