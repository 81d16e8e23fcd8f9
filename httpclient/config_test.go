/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package httpclient

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-slowclient/config"
)

func TestConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg := NewConfig()
		err := config.NewLoader(config.NewViperAdapter()).LoadFromReader(
			bytes.NewBufferString(""), config.DataTypeYAML, cfg)
		require.NoError(t, err)
		require.Equal(t, NewDefaultConfig(), cfg)
	})

	t.Run("full yaml", func(t *testing.T) {
		cfgData := `
httpClient:
  slowClient:
    enabled: true
    targetBandwidth: 56000
    bufferIncrement: 512
  direction: Both
  timeout: 1h
  retries:
    enabled: true
    maxAttempts: 3
    policy:
      strategy: constant
      constantBackoffInterval: 2s
  rateLimits:
    enabled: true
    limit: 0.5
    burst: 2
    waitTimeout: 1m
  log:
    enabled: true
    mode: failed
    slowRequestThreshold: 500ms
  metrics:
    enabled: true
`
		cfg := NewConfig()
		err := config.NewLoader(config.NewViperAdapter()).LoadFromReader(
			bytes.NewBufferString(cfgData), config.DataTypeYAML, cfg)
		require.NoError(t, err)

		require.True(t, cfg.SlowClient.Enabled)
		require.Equal(t, float64(56000), cfg.SlowClient.TargetBandwidth)
		require.Equal(t, config.ByteSize(512), cfg.SlowClient.BufferIncrement)
		require.Equal(t, DirectionBoth, cfg.Direction)
		require.Equal(t, time.Hour, cfg.Timeout)
		require.Equal(t, RetriesConfig{
			Enabled:     true,
			MaxAttempts: 3,
			Policy:      PolicyConfig{Strategy: RetryPolicyConstant, ConstantBackoffInterval: 2 * time.Second},
		}, cfg.Retries)
		require.Equal(t, RateLimitConfig{Enabled: true, Limit: 0.5, Burst: 2, WaitTimeout: time.Minute}, cfg.RateLimits)
		require.Equal(t, LogConfig{Enabled: true, Mode: LoggingModeFailed, SlowRequestThreshold: 500 * time.Millisecond}, cfg.Log)
		require.True(t, cfg.Metrics.Enabled)
	})

	t.Run("exponential retry policy", func(t *testing.T) {
		cfg := NewConfig(WithKeyPrefix("fetch.http"))
		err := config.NewLoader(config.NewViperAdapter()).LoadFromReader(bytes.NewBufferString(
			`{"fetch": {"http": {"retries": {"enabled": true}}}}`), config.DataTypeJSON, cfg)
		require.NoError(t, err)
		require.Equal(t, PolicyConfig{
			Strategy:                          RetryPolicyExponential,
			ExponentialBackoffInitialInterval: DefaultExponentialBackoffInitialInterval,
			ExponentialBackoffMultiplier:      DefaultExponentialBackoffMultiplier,
		}, cfg.Retries.Policy)
		require.Equal(t, DefaultMaxRetryAttempts, cfg.Retries.MaxAttempts)
		require.NotNil(t, cfg.Retries.GetPolicy().NewBackOff())
	})
}

func TestConfigValidationErrors(t *testing.T) {
	tests := []struct {
		name       string
		cfgData    string
		wantErrMsg string
	}{
		{
			name:       "unknown direction",
			cfgData:    `{"httpClient": {"direction": "sideways"}}`,
			wantErrMsg: `httpClient.direction: unknown value "sideways", should be one of [download upload both]`,
		},
		{
			name:    "slow client without bandwidth",
			cfgData: `{"httpClient": {"slowClient": {"enabled": true}}}`,
			wantErrMsg: "httpClient.slowClient.targetBandwidth: " +
				"invalid bandwidth configuration: target bandwidth must be positive and finite, got 0",
		},
		{
			name:       "zero rate limit",
			cfgData:    `{"httpClient": {"rateLimits": {"enabled": true}}}`,
			wantErrMsg: "httpClient.rateLimits.limit: must be positive",
		},
		{
			name:       "exponential multiplier",
			cfgData:    `{"httpClient": {"retries": {"enabled": true, "policy": {"exponentialBackoffMultiplier": 1}}}}`,
			wantErrMsg: "httpClient.retries.policy.exponentialBackoffMultiplier: must be greater than 1",
		},
		{
			name:       "unknown logging mode",
			cfgData:    `{"httpClient": {"log": {"mode": "some"}}}`,
			wantErrMsg: `httpClient.log.mode: unknown value "some", should be one of [none all failed]`,
		},
		{
			name:       "negative timeout",
			cfgData:    `{"httpClient": {"timeout": "-1s"}}`,
			wantErrMsg: "httpClient.timeout: cannot be negative",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := config.NewLoader(config.NewViperAdapter()).LoadFromReader(
				bytes.NewBufferString(tt.cfgData), config.DataTypeJSON, NewConfig())
			require.EqualError(t, err, tt.wantErrMsg)
		})
	}
}
