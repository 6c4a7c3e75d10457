package api

import "github.com/oursky/kube-agent-pool/pkg/utils/defaults"

type Config struct {
	Disabled bool     `toml:"disabled"`
	Addr     *string  `toml:"addr,omitempty" validate:"omitempty,tcp_addr"`
	AuthKeys []string `toml:"authKeys" validate:"required_if=Disabled false"`
}

func (c *Config) GetAddr() string {
	return defaults.Value(c.Addr, "127.0.0.1:8002")
}
