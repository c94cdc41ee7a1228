package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig is the on-disk shape of --config. Every field is optional;
// zero values fall through to lento's own defaults.
type fileConfig struct {
	Hostname      string        `yaml:"hostname"`
	Port          int           `yaml:"port"`
	Protocol      string        `yaml:"protocol"`
	User          string        `yaml:"user"`
	Catalog       string        `yaml:"catalog"`
	Schema        string        `yaml:"schema"`
	Timezone      string        `yaml:"timezone"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	SocketTimeout time.Duration `yaml:"socket_timeout"`
	MaxRetries    *int          `yaml:"max_retries"`
	LogLevel      string        `yaml:"log_level"`
}

func loadFileConfig(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &fc, nil
}
