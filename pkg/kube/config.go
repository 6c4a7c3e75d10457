package kube

import (
	"time"

	"github.com/oursky/kube-agent-pool/pkg/utils/defaults"
	"github.com/oursky/kube-agent-pool/pkg/utils/tomltypes"
)

type Config struct {
	RequestTimeout  *tomltypes.Duration `toml:"requestTimeout,omitempty"`
	RecycleInterval *tomltypes.Duration `toml:"recycleInterval,omitempty"`
	QPS             *float32            `toml:"qps,omitempty" validate:"omitempty,gt=0"`
	Burst           *int                `toml:"burst,omitempty" validate:"omitempty,min=1"`
}

func (c *Config) GetRequestTimeout() time.Duration {
	return defaults.Value(c.RequestTimeout.Value(), 30*time.Second)
}

func (c *Config) GetRecycleInterval() time.Duration {
	return defaults.Value(c.RecycleInterval.Value(), 10*time.Minute)
}

func (c *Config) GetQPS() float32 {
	return defaults.Value(c.QPS, 20)
}

func (c *Config) GetBurst() int {
	return defaults.Value(c.Burst, 40)
}
