package server

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/cyclopcam/dbh"
)

type Config struct {
	DB dbh.DBConfig `json:"db"`
	// HTTP listen port. Default 8080.
	HTTPPort int `json:"httpPort"`
	// Seconds between simulated blocks on the "blocks" channel. Default 10.
	BlockIntervalSeconds int `json:"blockIntervalSeconds"`
}

func LoadConfig(filename string) (Config, error) {
	cfg := Config{}
	raw, err := os.ReadFile(filename)
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("Error parsing config file %v: %w", filename, err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.HTTPPort == 0 {
		c.HTTPPort = 8080
	}
	if c.BlockIntervalSeconds == 0 {
		c.BlockIntervalSeconds = 10
	}
}
