// Package config loads the application configuration: the reusable core
// settings plus the access wiring for the admin and private groups.
package config

import (
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	coreconfig "github.com/rrader/po2bot/core/config"
	coredatabase "github.com/rrader/po2bot/core/database"
)

// AccessConfig points the bot at its admin review group and the private
// group it gates access to.
type AccessConfig struct {
	AdminGroupID   int64 `yaml:"admin_group_id" envconfig:"ADMIN_GROUP_ID"`
	PrivateGroupID int64 `yaml:"private_group_id" envconfig:"PRIVATE_GROUP_ID"`
}

// Config aggregates core and application configuration.
type Config struct {
	Core     coreconfig.Config   `yaml:",inline"`
	Access   AccessConfig        `yaml:"access"`
	Database coredatabase.Config `yaml:"database"`
}

// CoreConfig exposes the embedded core configuration.
func (c *Config) CoreConfig() *coreconfig.Config {
	return &c.Core
}

// Load reads configuration from a YAML file and environment variables.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}

	if err := coreconfig.Normalize(&cfg.Core); err != nil {
		return nil, err
	}
	if cfg.Access.AdminGroupID == 0 {
		return nil, fmt.Errorf("access.admin_group_id is required")
	}
	if cfg.Access.PrivateGroupID == 0 {
		return nil, fmt.Errorf("access.private_group_id is required")
	}
	return &cfg, nil
}
