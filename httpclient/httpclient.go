/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package httpclient provides an HTTP client that behaves like one connected through a slow network.
//
// The client is a chain of round trippers around http.Transport:
// retries -> request id -> user agent -> rate limiting -> metrics -> logging -> slow client -> transport.
// SlowClientRoundTripper is the closest to the wire, so every retry attempt gets fresh bandwidth limiters.
package httpclient

import (
	"context"
	"fmt"
	"net/http"

	"github.com/acronis/go-slowclient/bandwidth"
	"github.com/acronis/go-slowclient/log"
)

// DefaultRequestType is used in logs and metrics when the request type is not specified.
const DefaultRequestType = "slow-client"

// CloneHTTPRequest creates a shallow copy of the request along with a deep copy of the Headers.
func CloneHTTPRequest(req *http.Request) *http.Request {
	r := new(http.Request)
	*r = *req
	r.Header = CloneHTTPHeader(req.Header)
	return r
}

// CloneHTTPHeader creates a deep copy of an http.Header.
func CloneHTTPHeader(in http.Header) http.Header {
	out := make(http.Header, len(in))
	for key, values := range in {
		newValues := make([]string, len(values))
		copy(newValues, values)
		out[key] = newValues
	}
	return out
}

// Opts provides options for NewWithOpts and MustWithOpts functions.
type Opts struct {
	// UserAgent is a user agent string. DefaultUserAgent() is used by default.
	UserAgent string

	// RequestType is a type of request used in logs and metrics. DefaultRequestType is used by default.
	RequestType string

	// Delegate is the next RoundTripper in the chain. A clone of http.DefaultTransport is used by default.
	Delegate http.RoundTripper

	// Logger is used for logging requests, retries and pauses of bandwidth limiters.
	Logger log.FieldLogger

	// LoggerProvider is a function that provides a context-specific logger.
	LoggerProvider func(ctx context.Context) log.FieldLogger

	// RequestIDProvider is a function that provides a request ID.
	RequestIDProvider func(ctx context.Context) string

	// Collector is a metrics collector for requests. Used if metrics are enabled in Config.
	Collector MetricsCollector

	// BandwidthCollector is a metrics collector for bandwidth limiters. Used if metrics are enabled in Config.
	BandwidthCollector bandwidth.MetricsCollector

	// Sleeper is used by bandwidth limiters. bandwidth.NewSystemSleeper() is used by default.
	Sleeper bandwidth.Sleeper
}

// New creates a new slow HTTP client and returns an error if any occurs.
func New(cfg *Config) (*http.Client, error) {
	return NewWithOpts(cfg, Opts{})
}

// Must creates a new slow HTTP client and panics if any error occurs.
func Must(cfg *Config) *http.Client {
	client, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return client
}

// NewWithOpts creates a new slow HTTP client with options.
// Pacing is applied only if it's enabled in cfg.SlowClient.
func NewWithOpts(cfg *Config, opts Opts) (*http.Client, error) {
	delegate := opts.Delegate
	if delegate == nil {
		delegate = http.DefaultTransport.(*http.Transport).Clone()
	}
	if opts.RequestType == "" {
		opts.RequestType = DefaultRequestType
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent()
	}
	if opts.Logger == nil {
		opts.Logger = log.NewDisabledLogger()
	}

	if cfg.SlowClient != nil && cfg.SlowClient.Enabled {
		limiterOpts := bandwidth.LimiterOpts{Sleeper: opts.Sleeper, Logger: opts.Logger}
		if cfg.Metrics.Enabled {
			limiterOpts.MetricsCollector = opts.BandwidthCollector
		}
		factory, err := bandwidth.NewLimiterFactoryFromConfig(cfg.SlowClient, limiterOpts)
		if err != nil {
			return nil, fmt.Errorf("create bandwidth limiter factory: %w", err)
		}
		if delegate, err = NewSlowClientRoundTripperWithOpts(
			delegate, factory, SlowClientRoundTripperOpts{Direction: cfg.Direction},
		); err != nil {
			return nil, fmt.Errorf("create slow client round tripper: %w", err)
		}
	}

	if cfg.Log.Enabled {
		logOpts := cfg.Log.TransportOpts()
		logOpts.Logger = opts.Logger
		logOpts.LoggerProvider = opts.LoggerProvider
		delegate = NewLoggingRoundTripperWithOpts(delegate, opts.RequestType, logOpts)
	}

	if cfg.Metrics.Enabled && opts.Collector != nil {
		delegate = NewMetricsRoundTripper(delegate, opts.RequestType, opts.Collector)
	}

	if cfg.RateLimits.Enabled {
		var err error
		if delegate, err = NewRateLimitingRoundTripperWithOpts(
			delegate, cfg.RateLimits.Limit, cfg.RateLimits.TransportOpts(),
		); err != nil {
			return nil, fmt.Errorf("create rate limiting round tripper: %w", err)
		}
	}

	delegate = NewUserAgentRoundTripper(delegate, opts.UserAgent)

	delegate = NewRequestIDRoundTripperWithOpts(delegate, RequestIDRoundTripperOpts{
		RequestIDProvider: opts.RequestIDProvider,
	})

	if cfg.Retries.Enabled {
		retryOpts := cfg.Retries.TransportOpts()
		retryOpts.Logger = opts.Logger
		retryOpts.LoggerProvider = opts.LoggerProvider
		var err error
		if delegate, err = NewRetryableRoundTripperWithOpts(delegate, retryOpts); err != nil {
			return nil, fmt.Errorf("create retryable round tripper: %w", err)
		}
	}

	return &http.Client{Transport: delegate, Timeout: cfg.Timeout}, nil
}

// MustWithOpts creates a new slow HTTP client with options and panics if any error occurs.
func MustWithOpts(cfg *Config, opts Opts) *http.Client {
	client, err := NewWithOpts(cfg, opts)
	if err != nil {
		panic(err)
	}
	return client
}
