// Package config loads and validates castor.yaml configuration.
package config

// Config is the umbrella configuration object returned by Initialize()
// and passed to every service that needs tunables.
type Config struct {
	configDir string // Configuration directory path (for reference)

	System    *SystemConfig
	Executor  *ExecutorConfig
	Publisher *PublisherConfig
	Trigger   *TriggerConfig
	Transport *TransportConfig
	Retention *RetentionConfig
}

// ConfigDir returns the configuration directory path
func (c *Config) ConfigDir() string {
	return c.configDir
}

// SystemConfig groups system-wide infrastructure settings.
type SystemConfig struct {
	DashboardURL string       `yaml:"dashboard_url"`
	Slack        *SlackConfig `yaml:"slack"`
}

// SlackConfig holds Slack notification settings.
type SlackConfig struct {
	Enabled  *bool  `yaml:"enabled,omitempty"`
	TokenEnv string `yaml:"token_env,omitempty"` // Defaults to "SLACK_BOT_TOKEN" if omitted
	Channel  string `yaml:"channel,omitempty"`
}

// DefaultSystemConfig returns the built-in system defaults.
func DefaultSystemConfig() *SystemConfig {
	return &SystemConfig{
		DashboardURL: "http://localhost:3000",
		Slack:        &SlackConfig{},
	}
}
