package ci

import (
	"time"

	"github.com/oursky/kube-agent-pool/pkg/utils/defaults"
	"github.com/oursky/kube-agent-pool/pkg/utils/tomltypes"
)

type Config struct {
	URL         string              `toml:"url" validate:"required,url"`
	Token       string              `toml:"token" validate:"required"`
	RPS         *float64            `toml:"rps,omitempty" validate:"omitempty,gt=0"`
	Burst       *int                `toml:"burst,omitempty" validate:"omitempty,min=1"`
	HTTPTimeout *tomltypes.Duration `toml:"httpTimeout,omitempty"`
}

func (c *Config) GetRPS() float64 {
	return defaults.Value(c.RPS, 10)
}

func (c *Config) GetBurst() int {
	return defaults.Value(c.Burst, 20)
}

func (c *Config) GetHTTPTimeout() time.Duration {
	return defaults.Value(c.HTTPTimeout.Value(), 10*time.Second)
}
