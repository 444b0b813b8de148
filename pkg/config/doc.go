// Package config handles configuration management for modkit.
// Configuration is layered: the embedded defaults, then the user's
// config.toml, then MODKIT_ environment variables. Later layers win.
package config
