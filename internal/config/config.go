// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package config loads config.toml and ANISYNC__ environment overrides into domain.Config.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/anisync/anisync/internal/database"
	"github.com/anisync/anisync/internal/domain"
)

const (
	appName        = "anisync"
	configFileName = "config.toml"
	envPrefix      = "ANISYNC__"
)

// AppConfig couples the decoded configuration with where it came from.
type AppConfig struct {
	Config    *domain.Config
	viper     *viper.Viper
	configDir string
}

const defaultConfigTemplate = `# config.toml - Auto-generated on first run

# Hostname / IP
# Default: "localhost"
host = "%s"

# Port
# Default: 7272
port = 7272

# Base URL
# Set custom baseUrl eg /anisync/ to serve behind a reverse proxy subfolder
#baseUrl = "/"

# Log level
# Default: "INFO"
# Options: "ERROR", "DEBUG", "INFO", "WARN", "TRACE"
logLevel = "INFO"

# Log file path
# If not defined, logs to stdout
#logPath = "log/anisync.log"

# Maximum log file size in megabytes before rotation
#logMaxSize = 50

# Number of rotated log files to retain (0 keeps all)
#logMaxBackups = 3

# Streaming provider API (Consumet compatible)
#providerUrl = "http://localhost:3000"

# Minimum match score for resolving a provider record
#matchThreshold = 0.8

# Background indexer pacing
#indexerDelay = 10
#indexerBatchSize = 25

# Ids the indexer walks: "catalog" (every AniList anime) or "cached" (only entries already looked up)
#indexerSource = "catalog"

# Prometheus metrics
#metricsEnabled = false
#metricsHost = "127.0.0.1"
#metricsPort = 9074
#metricsBasicAuthUsers = "user:password"
`

// New loads configuration from configPath, which may be a config.toml file or
// the directory containing it. A default file is written when none exists.
func New(configPath string) (*AppConfig, error) {
	c := &AppConfig{
		Config: &domain.Config{},
		viper:  viper.New(),
	}

	c.defaults()

	if err := c.load(configPath); err != nil {
		return nil, err
	}

	c.bindEnv()

	if err := c.viper.Unmarshal(c.Config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if c.Config.DataDir == "" {
		c.Config.DataDir = c.configDir
	}

	if err := c.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return c, nil
}

func (c *AppConfig) defaults() {
	host := "localhost"
	if isInContainer() {
		host = "0.0.0.0"
	}

	v := c.viper
	v.SetDefault("host", host)
	v.SetDefault("port", 7272)
	v.SetDefault("baseUrl", "/")
	v.SetDefault("logLevel", "INFO")
	v.SetDefault("logPath", "")
	v.SetDefault("logMaxSize", 50)
	v.SetDefault("logMaxBackups", 3)
	v.SetDefault("dataDir", "")
	v.SetDefault("databasePath", "")
	v.SetDefault("metricsEnabled", false)
	v.SetDefault("metricsHost", "127.0.0.1")
	v.SetDefault("metricsPort", 9074)
	v.SetDefault("metricsBasicAuthUsers", "")
	v.SetDefault("corsOrigins", []string{})
	v.SetDefault("anilistUrl", "https://graphql.anilist.co")
	v.SetDefault("tmdbApiKey", "")
	v.SetDefault("tmdbUrl", "https://api.themoviedb.org/3")
	v.SetDefault("providerUrl", "http://localhost:3000")
	v.SetDefault("providerTimeout", 15)
	v.SetDefault("providerRetries", 3)
	v.SetDefault("matchThreshold", 0.8)
	v.SetDefault("indexerDelay", 10)
	v.SetDefault("indexerBatchSize", 25)
	v.SetDefault("indexerSource", "catalog")
}

func (c *AppConfig) load(configPath string) error {
	c.viper.SetConfigType("toml")

	if configPath == "" {
		configPath = getDefaultConfigDir()
	}

	configFile := configPath
	if filepath.Ext(configPath) != ".toml" {
		configFile = filepath.Join(configPath, configFileName)
	}
	c.configDir = filepath.Dir(configFile)

	if _, err := os.Stat(configFile); errors.Is(err, os.ErrNotExist) {
		if err := writeDefaultConfig(configFile); err != nil {
			return err
		}
	}

	c.viper.SetConfigFile(configFile)
	if err := c.viper.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config %s: %w", configFile, err)
	}

	log.Debug().Str("path", configFile).Msg("config: loaded")
	return nil
}

// Watch calls onChange with the re-decoded config each time config.toml is
// written. Only settings read at use time (such as logLevel) take effect
// without a restart.
func (c *AppConfig) Watch(onChange func(*domain.Config)) {
	c.viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}

		next := &domain.Config{}
		if err := c.viper.Unmarshal(next); err != nil {
			log.Error().Err(err).Str("path", e.Name).Msg("config: reload failed")
			return
		}
		if next.DataDir == "" {
			next.DataDir = c.configDir
		}
		if err := next.Validate(); err != nil {
			log.Error().Err(err).Str("path", e.Name).Msg("config: reloaded config is invalid, ignoring")
			return
		}

		log.Info().Str("path", e.Name).Msg("config: reloaded")
		onChange(next)
	})
	c.viper.WatchConfig()
}

// bindEnv maps every known key to ANISYNC__SCREAMING_SNAKE, e.g. databasePath -> ANISYNC__DATABASE_PATH.
func (c *AppConfig) bindEnv() {
	for _, key := range c.viper.AllKeys() {
		_ = c.viper.BindEnv(key, envName(key))
	}
}

var knownKeys = map[string]string{
	"baseurl":               "baseUrl",
	"loglevel":              "logLevel",
	"logpath":               "logPath",
	"logmaxsize":            "logMaxSize",
	"logmaxbackups":         "logMaxBackups",
	"datadir":               "dataDir",
	"databasepath":          "databasePath",
	"metricsenabled":        "metricsEnabled",
	"metricshost":           "metricsHost",
	"metricsport":           "metricsPort",
	"metricsbasicauthusers": "metricsBasicAuthUsers",
	"corsorigins":           "corsOrigins",
	"anilisturl":            "anilistUrl",
	"tmdbapikey":            "tmdbApiKey",
	"tmdburl":               "tmdbUrl",
	"providerurl":           "providerUrl",
	"providertimeout":       "providerTimeout",
	"providerretries":       "providerRetries",
	"matchthreshold":        "matchThreshold",
	"indexerdelay":          "indexerDelay",
	"indexerbatchsize":      "indexerBatchSize",
	"indexersource":         "indexerSource",
}

func envName(key string) string {
	if camel, ok := knownKeys[key]; ok {
		key = camel
	}

	var b strings.Builder
	b.WriteString(envPrefix)
	for i, r := range key {
		if unicode.IsUpper(r) && i > 0 {
			b.WriteByte('_')
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}

func writeDefaultConfig(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	host := "localhost"
	if isInContainer() {
		host = "0.0.0.0"
	}

	if err := os.WriteFile(path, []byte(fmt.Sprintf(defaultConfigTemplate, host)), 0644); err != nil {
		return fmt.Errorf("failed to write default config: %w", err)
	}

	log.Info().Msgf("Created default config file: %s", path)
	return nil
}

// getDefaultConfigDir returns /config directly under Docker's XDG_CONFIG_HOME,
// otherwise the user config dir joined with the app name.
func getDefaultConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg == "/config" {
		return xdg
	}

	dir, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return filepath.Join(dir, appName)
}

func isInContainer() bool {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	_, err := os.Stat("/run/.containerenv")
	return err == nil
}

// ConfigDir returns the directory holding config.toml.
func (c *AppConfig) ConfigDir() string {
	return c.configDir
}

// GetDatabasePath returns the SQLite file location, honoring databasePath and dataDir.
func (c *AppConfig) GetDatabasePath() string {
	return database.ResolvePath(c.Config, c.configDir)
}
