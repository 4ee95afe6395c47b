package config

import "time"

// RetentionConfig controls data retention and cleanup behavior.
type RetentionConfig struct {
	// SweepInterval is how often the cleanup loop runs.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// SessionIdleExpiry is how long a session may sit without activity
	// before it is marked expired. Zero disables expiry.
	SessionIdleExpiry time.Duration `yaml:"session_idle_expiry"`
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		SweepInterval:     10 * time.Minute,
		SessionIdleExpiry: 72 * time.Hour,
	}
}
