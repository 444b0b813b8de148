package paths

import (
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

// Environment variable names
const (
	// EnvDataDir overrides the XDG data directory for modkit
	EnvDataDir = "MODKIT_DATA_DIR"

	// EnvConfigDir overrides the XDG config directory for modkit
	EnvConfigDir = "MODKIT_CONFIG_DIR"

	// EnvCacheDir overrides the XDG cache directory for modkit
	EnvCacheDir = "MODKIT_CACHE_DIR"

	// EnvStateDir overrides the XDG state directory for modkit
	EnvStateDir = "MODKIT_STATE_DIR"

	// EnvHome is the standard home directory variable
	EnvHome = "HOME"
)

// Internal layout. These names are part of the on-disk format and must
// stay stable across releases.
const (
	// AppDirName is the directory name used under every XDG base dir
	AppDirName = "modkit"

	// ConfigFileName is the user configuration file inside ConfigDir
	ConfigFileName = "config.toml"

	// InstallationsDir names the record directory under StateDir and the
	// default install root under DataDir
	InstallationsDir = "installations"

	// ArtifactsDir is the artifact cache root inside CacheDir
	ArtifactsDir = "artifacts"

	// BackupsDir holds installation snapshots inside DataDir
	BackupsDir = "backups"

	// LogFileName is the name of the log file
	LogFileName = "modkit.log"
)

// Paths provides the directories modkit reads and writes
type Paths interface {
	DataDir() string
	ConfigDir() string
	CacheDir() string
	StateDir() string
	ConfigFilePath() string
	InstallationsStateDir() string
	ArtifactCacheDir() string
	InstallRoot() string
	BackupRoot() string
	LogFilePath() string
}

type paths struct {
	data   string
	config string
	cache  string
	state  string
}

// New creates a Paths instance, respecting the MODKIT_*_DIR overrides
func New() Paths {
	return &paths{
		data:   dirFromEnv(EnvDataDir, filepath.Join(xdg.DataHome, AppDirName)),
		config: dirFromEnv(EnvConfigDir, filepath.Join(xdg.ConfigHome, AppDirName)),
		cache:  dirFromEnv(EnvCacheDir, filepath.Join(xdg.CacheHome, AppDirName)),
		state:  dirFromEnv(EnvStateDir, filepath.Join(xdg.StateHome, AppDirName)),
	}
}

// NewWithRoot places every directory under root. Used by tests and by
// portable setups that keep everything next to the binary.
func NewWithRoot(root string) Paths {
	return &paths{
		data:   filepath.Join(root, "data"),
		config: filepath.Join(root, "config"),
		cache:  filepath.Join(root, "cache"),
		state:  filepath.Join(root, "state"),
	}
}

func dirFromEnv(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return ExpandHome(v)
	}
	return fallback
}

// DataDir returns the XDG data directory for modkit
func (p *paths) DataDir() string {
	return p.data
}

// ConfigDir returns the XDG config directory for modkit
func (p *paths) ConfigDir() string {
	return p.config
}

// CacheDir returns the XDG cache directory for modkit
func (p *paths) CacheDir() string {
	return p.cache
}

// StateDir returns the XDG state directory for modkit
func (p *paths) StateDir() string {
	return p.state
}

// ConfigFilePath returns the path of the user configuration file
func (p *paths) ConfigFilePath() string {
	return filepath.Join(p.config, ConfigFileName)
}

// InstallationsStateDir returns the directory holding installation records
func (p *paths) InstallationsStateDir() string {
	return filepath.Join(p.state, InstallationsDir)
}

// ArtifactCacheDir returns the root of the shared artifact cache
func (p *paths) ArtifactCacheDir() string {
	return filepath.Join(p.cache, ArtifactsDir)
}

// InstallRoot is the parent of installations placed without an explicit
// directory. Each one gets a subdirectory named after it.
func (p *paths) InstallRoot() string {
	return filepath.Join(p.data, InstallationsDir)
}

// BackupRoot is where snapshots of every installation are kept
func (p *paths) BackupRoot() string {
	return filepath.Join(p.data, BackupsDir)
}

// LogFilePath returns the path of the log file
func (p *paths) LogFilePath() string {
	return filepath.Join(p.state, LogFileName)
}

// ExpandHome expands ~ to the home directory
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = os.Getenv(EnvHome)
		if homeDir == "" {
			return path
		}
	}

	if len(path) == 1 {
		return homeDir
	}

	if path[1] == '/' || path[1] == filepath.Separator {
		return filepath.Join(homeDir, path[2:])
	}

	// ~something (not the user's home)
	return path
}
