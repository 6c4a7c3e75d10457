package slack

import "github.com/oursky/kube-agent-pool/pkg/utils/defaults"

type Config struct {
	Disabled   bool   `toml:"disabled"`
	BotToken   string `toml:"botToken" validate:"required_if=Disabled false"`
	ChannelID  string `toml:"channelID" validate:"required_if=Disabled false"`
	BufferSize *int   `toml:"bufferSize,omitempty" validate:"omitempty,min=1"`
}

func (c *Config) GetBufferSize() int {
	return defaults.Value(c.BufferSize, 64)
}
