package hybrid

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the service configuration loaded from YAML
type Config struct {
	MQTT   MQTTConfig    `yaml:"mqtt"`
	Robots []RobotConfig `yaml:"robots"`
	Engine EngineConfig  `yaml:"engine"`
}

// MQTTConfig holds broker connection settings
type MQTTConfig struct {
	Broker        string `yaml:"broker"`
	ClientID      string `yaml:"client_id"`
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
	PublishPrefix string `yaml:"publish_prefix"`
}

// RobotConfig describes one robot feeding measurement batches
type RobotConfig struct {
	ID    string `yaml:"id"`
	Topic string `yaml:"topic"`
}

// EngineConfig tunes the inference engine
type EngineConfig struct {
	// MaxHypotheses caps the retained discrete hypotheses per robot
	MaxHypotheses int `yaml:"max_hypotheses"`
	// PruneEvery prunes after this many updates; 0 disables pruning
	PruneEvery int `yaml:"prune_every"`
	// ParallelBranches eliminates mixture branches on separate goroutines
	ParallelBranches bool `yaml:"parallel_branches"`
	// SnapshotPath persists the solved tree as JSON; empty disables persistence
	SnapshotPath string `yaml:"snapshot_path"`
}

// LoadConfig loads the service configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	// Validate required fields
	if config.MQTT.Broker == "" {
		return nil, fmt.Errorf("mqtt.broker is required")
	}
	if len(config.Robots) == 0 {
		return nil, fmt.Errorf("at least one robot must be defined")
	}

	for i, rc := range config.Robots {
		if rc.ID == "" {
			return nil, fmt.Errorf("robot[%d].id is required", i)
		}
		if rc.Topic == "" {
			return nil, fmt.Errorf("robot[%d].topic is required for %s", i, rc.ID)
		}
	}

	if config.Engine.MaxHypotheses == 0 {
		config.Engine.MaxHypotheses = 8
	}
	if config.Engine.MaxHypotheses < 1 {
		return nil, fmt.Errorf("engine.max_hypotheses must be at least 1, got %d", config.Engine.MaxHypotheses)
	}
	if config.Engine.PruneEvery < 0 {
		return nil, fmt.Errorf("engine.prune_every must not be negative, got %d", config.Engine.PruneEvery)
	}

	return &config, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}
