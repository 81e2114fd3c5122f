package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Channel pairs one source channel with its destination webhook.
type Channel struct {
	ID      string `yaml:"id"`
	Webhook string `yaml:"webhook"`
	Name    string `yaml:"name"`
}

type channelsFile struct {
	Channels []Channel `yaml:"channels"`
}

// LoadChannels reads the channels YAML file:
//
//	channels:
//	  - id: "123456789"
//	    webhook: https://…
//	    name: general
func LoadChannels(path string) ([]Channel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read channels file: %w", err)
	}

	var f channelsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse channels file: %w", err)
	}

	for i, ch := range f.Channels {
		if ch.ID == "" {
			return nil, fmt.Errorf("channels[%d]: id is required", i)
		}
		if ch.Webhook == "" {
			return nil, fmt.Errorf("channels[%d] (%s): webhook is required", i, ch.ID)
		}
	}
	return f.Channels, nil
}

// Resolve returns the channel set: the channels file when configured,
// otherwise the single channel from the environment.
func (c *Config) Resolve() ([]Channel, error) {
	if c.ChannelsFile != "" {
		return LoadChannels(c.ChannelsFile)
	}
	return []Channel{{ID: c.ChannelID, Webhook: c.WebhookURL}}, nil
}
