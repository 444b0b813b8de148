package config

import (
	"time"
)

// Config is the fully merged modkit configuration
type Config struct {
	Fetch   Fetch   `koanf:"fetch"`
	Sources Sources `koanf:"sources"`
	Policy  Policy  `koanf:"policy"`
	Paths   Paths   `koanf:"paths"`
	Metrics Metrics `koanf:"metrics"`
	Backup  Backup  `koanf:"backup"`
}

// Fetch controls the download orchestrator
type Fetch struct {
	// Concurrency bounds simultaneous transfers
	Concurrency int `koanf:"concurrency"`
	// Attempts is the retry ceiling per artifact, first try included
	Attempts          int           `koanf:"attempts"`
	BackoffBase       time.Duration `koanf:"backoff_base"`
	BackoffMax        time.Duration `koanf:"backoff_max"`
	BackoffMultiplier float64       `koanf:"backoff_multiplier"`
	// Timeout applies to a single transfer attempt
	Timeout   time.Duration `koanf:"timeout"`
	UserAgent string        `koanf:"user_agent"`
}

// Sources holds per-source transport settings
type Sources struct {
	Modrinth Modrinth `koanf:"modrinth"`
	S3       S3       `koanf:"s3"`
}

// Modrinth configures the modrinth source
type Modrinth struct {
	APIURL string `koanf:"api_url"`
}

// S3 configures the s3 source. Requests are anonymous.
type S3 struct {
	Region    string `koanf:"region"`
	Endpoint  string `koanf:"endpoint"`
	PathStyle bool   `koanf:"path_style"`
}

// Policy holds the product decisions that are configurable
type Policy struct {
	// PresetMode is "replace" or "merge"
	PresetMode string `koanf:"preset_mode"`
	// EnableNewOptional turns on default_enabled components that appear
	// in a newer manifest during update
	EnableNewOptional bool `koanf:"enable_new_optional"`
}

// Paths holds user-configurable paths. Internal layout lives in pkg/paths.
type Paths struct {
	// Installations is the parent of installation directories created
	// without an explicit --dir. Empty means the XDG data dir.
	Installations string `koanf:"installations"`
}

// Metrics configures metrics export
type Metrics struct {
	// Textfile, when set, receives a Prometheus text exposition after
	// every command
	Textfile string `koanf:"textfile"`
}

// Backup controls installation snapshots
type Backup struct {
	// PreUpdate snapshots an installation before every update
	PreUpdate bool `koanf:"pre_update"`
	// Keep is how many snapshots per installation survive pruning.
	// Zero keeps all of them.
	Keep int `koanf:"keep"`
}
