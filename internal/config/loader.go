// Package config loads the layered application configuration: embedded
// defaults, then the config file, then DEMUXMGR_* environment variables,
// then explicit runtime overrides.
package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	configassets "github.com/3leaps/demuxmgr/internal/assets/config"
)

const (
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "DEMUXMGR"

	appName = "demuxmgr"
)

var (
	configMu   sync.RWMutex
	appConfig  *Config
	configFile string
)

// SetConfigFile selects an explicit config file for later Load calls. An
// empty path restores the default user config location.
func SetConfigFile(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	configFile = path
}

// Load builds the configuration and makes it the current one.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	configMu.RLock()
	explicit := configFile
	configMu.RUnlock()

	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(configassets.Defaults)); err != nil {
		return nil, fmt.Errorf("read embedded defaults: %w", err)
	}

	path, required := explicit, explicit != ""
	if path == "" {
		path = defaultConfigPath()
	}
	if path != "" {
		if err := mergeFile(v, path, required); err != nil {
			return nil, err
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, o := range overrides {
		for key, val := range flatten("", o) {
			v.Set(key, val)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	configMu.Lock()
	appConfig = &cfg
	configMu.Unlock()
	return &cfg, nil
}

// GetConfig returns the configuration of the last successful Load, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// EnvName returns the environment variable overriding a dotted key.
func EnvName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// Keys lists every configuration key known from the defaults, sorted.
func Keys() ([]string, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(configassets.Defaults)); err != nil {
		return nil, err
	}
	keys := v.AllKeys()
	sort.Strings(keys)
	return keys, nil
}

func mergeFile(v *viper.Viper, path string, required bool) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return nil
		}
		return fmt.Errorf("config file %s: %w", path, err)
	}
	v.SetConfigFile(path)
	if err := v.MergeInConfig(); err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	return nil
}

// defaultConfigPath is $XDG_CONFIG_HOME/demuxmgr/config.yaml, or the
// platform equivalent.
func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, appName, "config.yaml")
}

// flatten turns nested override maps into dotted viper keys.
func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]any); ok && len(nested) > 0 {
			for fk, fv := range flatten(key, nested) {
				out[fk] = fv
			}
			continue
		}
		out[key] = val
	}
	return out
}
