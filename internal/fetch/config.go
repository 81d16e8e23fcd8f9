/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package fetch

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/acronis/go-slowclient/config"
	"github.com/acronis/go-slowclient/httpclient"
	"github.com/acronis/go-slowclient/log"
	"github.com/acronis/go-slowclient/retry"
)

// EnvVarsPrefix is a prefix of environment variables that override values from the config file
// (e.g. SLOWFETCH_HTTPCLIENT_SLOWCLIENT_TARGETBANDWIDTH).
const EnvVarsPrefix = "SLOWFETCH"

const cfgDefaultKeyPrefix = "fetch"

// Default values for download retries.
const (
	DefaultMaxAttempts     = 5
	DefaultInitialInterval = time.Second
	DefaultMultiplier      = 2
)

const (
	cfgKeyMaxAttempts     = "maxAttempts"
	cfgKeyInitialInterval = "initialInterval"
	cfgKeyMultiplier      = "multiplier"
	cfgKeyResume          = "resume"
)

// Config represents a set of configuration parameters for downloading.
type Config struct {
	// MaxAttempts is the maximum number of retries of an interrupted download. 0 disables retries.
	MaxAttempts int `mapstructure:"maxAttempts" yaml:"maxAttempts" json:"maxAttempts"`

	// InitialInterval is the pause before the first retry.
	InitialInterval time.Duration `mapstructure:"initialInterval" yaml:"initialInterval" json:"initialInterval"`

	// Multiplier is the growth factor of the pause between retries.
	Multiplier float64 `mapstructure:"multiplier" yaml:"multiplier" json:"multiplier"`

	// Resume determines whether a retry continues from the already received position using the Range header.
	Resume bool `mapstructure:"resume" yaml:"resume" json:"resume"`

	keyPrefix string
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// NewConfig creates a new instance of the Config.
func NewConfig() *Config {
	return &Config{keyPrefix: cfgDefaultKeyPrefix}
}

// NewDefaultConfig creates a new instance of the Config with default values.
func NewDefaultConfig() *Config {
	cfg := NewConfig()
	cfg.MaxAttempts = DefaultMaxAttempts
	cfg.InitialInterval = DefaultInitialInterval
	cfg.Multiplier = DefaultMultiplier
	cfg.Resume = true
	return cfg
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
// Implements config.KeyPrefixProvider interface.
func (c *Config) KeyPrefix() string {
	return c.keyPrefix
}

// SetProviderDefaults sets default configuration values for downloading in config.DataProvider.
// Implements config.Config interface.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyMaxAttempts, DefaultMaxAttempts)
	dp.SetDefault(cfgKeyInitialInterval, DefaultInitialInterval.String())
	dp.SetDefault(cfgKeyMultiplier, DefaultMultiplier)
	dp.SetDefault(cfgKeyResume, true)
}

// Set sets downloading configuration values from config.DataProvider.
// Implements config.Config interface.
func (c *Config) Set(dp config.DataProvider) error {
	var err error
	if c.MaxAttempts, err = dp.GetInt(cfgKeyMaxAttempts); err != nil {
		return err
	}
	if c.MaxAttempts < 0 {
		return dp.WrapKeyErr(cfgKeyMaxAttempts, errors.New("cannot be negative"))
	}
	if c.InitialInterval, err = dp.GetDuration(cfgKeyInitialInterval); err != nil {
		return err
	}
	if c.InitialInterval <= 0 {
		return dp.WrapKeyErr(cfgKeyInitialInterval, errors.New("must be positive"))
	}
	if c.Multiplier, err = dp.GetFloat64(cfgKeyMultiplier); err != nil {
		return err
	}
	if c.Multiplier < 1 {
		return dp.WrapKeyErr(cfgKeyMultiplier, errors.New("must be greater than or equal to 1"))
	}
	if c.Resume, err = dp.GetBool(cfgKeyResume); err != nil {
		return err
	}
	return nil
}

// Policy returns the backoff policy for download retries.
func (c *Config) Policy() retry.Policy {
	if c.MaxAttempts == 0 {
		return retry.PolicyFunc(func() backoff.BackOff { return &backoff.StopBackOff{} })
	}
	return retry.ExponentialBackoffPolicy{
		InitialInterval: c.InitialInterval,
		Multiplier:      c.Multiplier,
		MaxAttempts:     c.MaxAttempts,
	}
}

// AppConfig is the whole configuration of the slowfetch command.
type AppConfig struct {
	Log        *log.Config
	HTTPClient *httpclient.Config
	Fetch      *Config
}

// NewAppConfig creates a new instance of the AppConfig.
func NewAppConfig() *AppConfig {
	return &AppConfig{
		Log:        log.NewConfig(),
		HTTPClient: httpclient.NewConfig(),
		Fetch:      NewConfig(),
	}
}

// LoadAppConfig loads the AppConfig from the file (YAML, or JSON if it has the .json extension)
// and from environment variables with EnvVarsPrefix. The file is optional.
func LoadAppConfig(path string) (*AppConfig, error) {
	cfg := NewAppConfig()
	loader := config.NewDefaultLoader(EnvVarsPrefix)
	if path == "" {
		if err := loader.Load(cfg.Log, cfg.HTTPClient, cfg.Fetch); err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		return cfg, nil
	}
	dataType := config.DataTypeYAML
	if strings.EqualFold(filepath.Ext(path), ".json") {
		dataType = config.DataTypeJSON
	}
	if err := loader.LoadFromFile(path, dataType, cfg.Log, cfg.HTTPClient, cfg.Fetch); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}
	return cfg, nil
}
