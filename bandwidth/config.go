/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package bandwidth

import (
	"errors"

	"github.com/acronis/go-slowclient/config"
)

const cfgDefaultKeyPrefix = "slowClient"

const (
	cfgKeyEnabled         = "enabled"
	cfgKeyTargetBandwidth = "targetBandwidth"
	cfgKeyDampingFactor   = "dampingFactor"
	cfgKeyBufferIncrement = "bufferIncrement"
)

// Config represents a set of configuration parameters for slow client simulation.
type Config struct {
	// Enabled determines whether transfers are paced at all.
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`

	// TargetBandwidth is the bandwidth to simulate, in bits per second (e.g. 56000 for a modem).
	TargetBandwidth float64 `mapstructure:"targetBandwidth" yaml:"targetBandwidth" json:"targetBandwidth"`

	// DampingFactor is the fraction of the throughput error corrected on each chunk, in (0, 1].
	DampingFactor float64 `mapstructure:"dampingFactor" yaml:"dampingFactor" json:"dampingFactor"`

	// BufferIncrement is the number of bytes transferred between two pauses.
	BufferIncrement config.ByteSize `mapstructure:"bufferIncrement" yaml:"bufferIncrement" json:"bufferIncrement"`

	keyPrefix string
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// ConfigOption is a type for functional options for the Config.
type ConfigOption func(*configOptions)

type configOptions struct {
	keyPrefix string
}

// WithKeyPrefix returns a ConfigOption that sets a key prefix for parsing configuration parameters.
// This prefix will be used by config.Loader.
func WithKeyPrefix(keyPrefix string) ConfigOption {
	return func(o *configOptions) {
		o.keyPrefix = keyPrefix
	}
}

// NewConfig creates a new instance of the Config.
func NewConfig(options ...ConfigOption) *Config {
	opts := configOptions{keyPrefix: cfgDefaultKeyPrefix}
	for _, opt := range options {
		opt(&opts)
	}
	return &Config{keyPrefix: opts.keyPrefix}
}

// NewDefaultConfig creates a new instance of the Config with default values.
// Pacing is disabled by default.
func NewDefaultConfig(options ...ConfigOption) *Config {
	cfg := NewConfig(options...)
	cfg.DampingFactor = DefaultDampingFactor
	cfg.BufferIncrement = DefaultBufferIncrement
	return cfg
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
// Implements config.KeyPrefixProvider interface.
func (c *Config) KeyPrefix() string {
	return c.keyPrefix
}

// SetProviderDefaults sets default configuration values for slow client in config.DataProvider.
// Implements config.Config interface.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyEnabled, false)
	dp.SetDefault(cfgKeyDampingFactor, DefaultDampingFactor)
	dp.SetDefault(cfgKeyBufferIncrement, DefaultBufferIncrement)
}

// Set sets slow client configuration values from config.DataProvider.
// Implements config.Config interface.
func (c *Config) Set(dp config.DataProvider) error {
	var err error

	if c.Enabled, err = dp.GetBool(cfgKeyEnabled); err != nil {
		return err
	}

	if c.TargetBandwidth, err = dp.GetFloat64(cfgKeyTargetBandwidth); err != nil {
		return err
	}
	if c.Enabled {
		if err = validateTargetBandwidth(c.TargetBandwidth); err != nil {
			return dp.WrapKeyErr(cfgKeyTargetBandwidth, err)
		}
	}

	if c.DampingFactor, err = dp.GetFloat64(cfgKeyDampingFactor); err != nil {
		return err
	}
	if err = validateDampingFactor(c.DampingFactor); err != nil {
		return dp.WrapKeyErr(cfgKeyDampingFactor, err)
	}

	if c.BufferIncrement, err = dp.GetByteSize(cfgKeyBufferIncrement); err != nil {
		return err
	}
	if c.BufferIncrement == 0 {
		return dp.WrapKeyErr(cfgKeyBufferIncrement, errors.New("must be positive"))
	}

	return nil
}
