package config

import (
	"github.com/arthur-debert/modkit/pkg/errors"
)

// Preset application modes
const (
	PresetModeReplace = "replace"
	PresetModeMerge   = "merge"
)

// Validate rejects values the pipeline cannot run with
func (c *Config) Validate() error {
	if c.Fetch.Concurrency < 1 {
		return invalid("fetch.concurrency", c.Fetch.Concurrency, "must be at least 1")
	}
	if c.Fetch.Attempts < 1 {
		return invalid("fetch.attempts", c.Fetch.Attempts, "must be at least 1")
	}
	if c.Fetch.BackoffBase < 0 || c.Fetch.BackoffMax < c.Fetch.BackoffBase {
		return invalid("fetch.backoff_max", c.Fetch.BackoffMax, "must not be below fetch.backoff_base")
	}
	if c.Fetch.BackoffMultiplier < 1 {
		return invalid("fetch.backoff_multiplier", c.Fetch.BackoffMultiplier, "must be at least 1")
	}
	if c.Backup.Keep < 0 {
		return invalid("backup.keep", c.Backup.Keep, "must not be negative")
	}
	switch c.Policy.PresetMode {
	case PresetModeReplace, PresetModeMerge:
	default:
		return invalid("policy.preset_mode", c.Policy.PresetMode, "must be replace or merge")
	}
	return nil
}

func invalid(key string, value interface{}, msg string) error {
	return errors.Newf(errors.ErrConfigValid, "%s %s", key, msg).
		WithDetail("key", key).
		WithDetail("value", value)
}
