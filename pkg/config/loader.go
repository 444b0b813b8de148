package config

import (
	_ "embed"
	"errors"
	"os"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	mkerrors "github.com/arthur-debert/modkit/pkg/errors"
	"github.com/arthur-debert/modkit/pkg/logging"
)

//go:embed embedded/defaults.toml
var defaultConfig []byte

// EnvPrefix is the prefix of configuration environment variables.
// Nested keys use a double underscore: MODKIT_FETCH__CONCURRENCY.
const EnvPrefix = "MODKIT_"

type rawBytesProvider struct{ bytes []byte }

func (r *rawBytesProvider) ReadBytes() ([]byte, error) { return r.bytes, nil }
func (r *rawBytesProvider) Read() (map[string]interface{}, error) {
	return nil, errors.New("not implemented")
}

// DefaultBytes returns the embedded defaults document
func DefaultBytes() []byte {
	return defaultConfig
}

// Load merges the embedded defaults, the file at configPath (skipped when
// empty or missing), overrides and the environment, then validates.
func Load(configPath string, overrides map[string]interface{}) (*Config, error) {
	log := logging.GetLogger("config")
	k := koanf.New(".")

	// 1. Defaults
	if err := k.Load(&rawBytesProvider{bytes: defaultConfig}, toml.Parser()); err != nil {
		return nil, mkerrors.Wrap(err, mkerrors.ErrConfigLoad, "failed to load defaults")
	}

	// 2. User config
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
				return nil, mkerrors.Wrapf(err, mkerrors.ErrConfigLoad, "failed to load config from %s", configPath).
					WithDetail("path", configPath)
			}
			log.Debug().Str("path", configPath).Msg("Loaded user config")
		}
	}

	// 3. Programmatic overrides (flags)
	if len(overrides) > 0 {
		if err := k.Load(confmap.Provider(overrides, "."), nil); err != nil {
			return nil, mkerrors.Wrap(err, mkerrors.ErrConfigLoad, "failed to apply overrides")
		}
	}

	// 4. Environment
	err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil)
	if err != nil {
		return nil, mkerrors.Wrap(err, mkerrors.ErrConfigLoad, "failed to load env vars")
	}

	return decode(k)
}

// decode unmarshals k into a Config and validates it
func decode(k *koanf.Koanf) (*Config, error) {
	var cfg Config
	unmarshalConf := koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           &cfg,
			WeaklyTypedInput: true,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
		},
	}
	if err := k.UnmarshalWithConf("", &cfg, unmarshalConf); err != nil {
		return nil, mkerrors.Wrap(err, mkerrors.ErrConfigLoad, "failed to unmarshal configuration")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// parseDefaults decodes a defaults document on its own
func parseDefaults(data []byte) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(&rawBytesProvider{bytes: data}, toml.Parser()); err != nil {
		return nil, mkerrors.Wrap(err, mkerrors.ErrConfigLoad, "failed to load defaults")
	}
	return decode(k)
}

// Default returns the embedded defaults without consulting the
// environment or any file. It panics if the embedded document is broken,
// which only a bad build can cause.
func Default() *Config {
	cfg, err := parseDefaults(defaultConfig)
	if err != nil {
		panic(err)
	}
	return cfg
}

// envKey maps MODKIT_FETCH__BACKOFF_BASE to fetch.backoff_base. Variables
// without a double underscore (MODKIT_DATA_DIR) map to top-level keys the
// Config struct does not read.
func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}
