package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

type DBConfig struct {
	URI        string `json:"uri"`
	Name       string `json:"name"`
	Collection string `json:"collection"`
}

type Config struct {
	LogLevel       string   `json:"log_level"`
	RegistryHost   string   `json:"registry_host"`
	RegistryPort   int      `json:"registry_port"`
	DrainTimeoutMs int      `json:"drain_timeout_ms"`
	MetricsAddr    string   `json:"metrics_addr"`
	LastCheckFile  string   `json:"last_check_file"`
	DB             DBConfig `json:"db"`
}

var AppConfig Config

// LoadConfig reads a JSON config file into AppConfig. Missing fields keep
// their zero values; callers apply defaults.
func LoadConfig(configFile string) error {
	file, err := os.Open(configFile)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	bytes, err := io.ReadAll(file)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err = json.Unmarshal(bytes, &AppConfig); err != nil {
		return fmt.Errorf("failed to unmarshal config file: %w", err)
	}
	return nil
}
