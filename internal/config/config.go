package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/waymarkhq/waymark/pkg/event"
)

// Duration is a yaml-decodable time.Duration ("30s", "5m", "24h").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard-library representation.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// WaymarkConfig represents the top-level waymark.yml configuration.
type WaymarkConfig struct {
	Version  string          `yaml:"version"`
	Instance string          `yaml:"instance"`
	Redis    RedisConfig     `yaml:"redis"`
	Dispatch *DispatchConfig `yaml:"dispatch,omitempty"`
	Reaper   *ReaperConfig   `yaml:"reaper,omitempty"`
	Listener *ListenerConfig `yaml:"listener,omitempty"`
	Tools    *ToolsConfig    `yaml:"tools,omitempty"`
	Runner   *RunnerConfig   `yaml:"runner,omitempty"`
	Server   *ServerConfig   `yaml:"server,omitempty"`
}

// RedisConfig locates the Redis substrate.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	DB       int    `yaml:"db,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// TierConfig sizes one priority tier's worker pool.
type TierConfig struct {
	Workers  int      `yaml:"workers,omitempty"`
	Deadline Duration `yaml:"deadline,omitempty"`
}

// DispatchConfig tunes the priority worker pools.
type DispatchConfig struct {
	MaxAttempts int                   `yaml:"max_attempts,omitempty"`
	PollTimeout Duration              `yaml:"poll_timeout,omitempty"`
	Tiers       map[string]TierConfig `yaml:"tiers,omitempty"`
}

// ReaperConfig tunes the stuck-event and expired-wait sweeps.
type ReaperConfig struct {
	Interval    Duration `yaml:"interval,omitempty"`
	GracePeriod Duration `yaml:"grace_period,omitempty"`
}

// ListenerConfig tunes the pattern-detection windows.
type ListenerConfig struct {
	RejectionThreshold int      `yaml:"rejection_threshold,omitempty"`
	RejectionWindow    Duration `yaml:"rejection_window,omitempty"`
	StallThreshold     Duration `yaml:"stall_threshold,omitempty"`
	StallSweepInterval Duration `yaml:"stall_sweep_interval,omitempty"`
	SkillGapThreshold  int      `yaml:"skill_gap_threshold,omitempty"`
}

// ToolsConfig locates the tool service and overrides per-tool deadlines.
type ToolsConfig struct {
	Endpoint string              `yaml:"endpoint"`
	Timeouts map[string]Duration `yaml:"timeouts,omitempty"`
}

// RunnerConfig tunes agent run driving.
type RunnerConfig struct {
	MaxAdaptations  int      `yaml:"max_adaptations,omitempty"`
	ApprovalTimeout Duration `yaml:"approval_timeout,omitempty"`
}

// ServerConfig configures the daemon's health and metrics endpoint.
type ServerConfig struct {
	Addr string `yaml:"addr,omitempty"`
}

// Validate performs strict validation and fills in defaults.
func (c *WaymarkConfig) Validate() error {
	// Required: version
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if c.Instance == "" {
		c.Instance = "default"
	}

	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}

	if c.Dispatch == nil {
		c.Dispatch = &DispatchConfig{}
	}
	if c.Dispatch.MaxAttempts < 0 {
		return fmt.Errorf("dispatch.max_attempts must be >= 0, got %d", c.Dispatch.MaxAttempts)
	}
	for tier := range c.Dispatch.Tiers {
		if !validTier(tier) {
			return fmt.Errorf("dispatch.tiers: unknown tier %q (valid: %v)", tier, event.Queues)
		}
	}

	if c.Reaper == nil {
		c.Reaper = &ReaperConfig{}
	}

	if c.Listener == nil {
		c.Listener = &ListenerConfig{}
	}

	if c.Tools == nil {
		c.Tools = &ToolsConfig{}
	}

	if c.Runner == nil {
		c.Runner = &RunnerConfig{}
	}

	if c.Server == nil {
		c.Server = &ServerConfig{}
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}

	return nil
}

func validTier(tier string) bool {
	for _, queue := range event.Queues {
		if tier == queue {
			return true
		}
	}
	return false
}

// Load reads and validates waymark.yml from the specified path.
func Load(path string) (*WaymarkConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config WaymarkConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}
