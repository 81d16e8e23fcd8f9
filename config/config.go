/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package config loads configuration of slow client components from YAML/JSON sources
// and environment variables.
//
// Every configurable component has its own structure that implements the Config interface.
// Loader first asks each of them to register default values in DataProvider,
// then to read and validate the actual values.
package config

// Config is a common interface for configuration objects that may be used by Loader.
type Config interface {
	SetProviderDefaults(dp DataProvider)
	Set(dp DataProvider) error
}

// KeyPrefixProvider is an interface for providing key prefix that will be used for configuration parameters.
type KeyPrefixProvider interface {
	KeyPrefix() string
}
