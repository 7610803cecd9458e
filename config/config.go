// Copyright 2021 Jake Scott. All rights reserved.
// Use of this source code is governed by the Apache License
// version 2.0 that can be found in the LICENSE file.

// Package config loads mechanism provider declarations from a YAML file,
// with overrides taken from SASL_ prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/golang-auth/go-saslmech/registry"
)

const (
	// EnvPrefix is the prefix of environment variables that override
	// top level settings, eg. SASL_LOG_LEVEL
	EnvPrefix = "SASL_"

	// EnvConfigFile names the configuration file used by
	// DefaultProviderSource
	EnvConfigFile = "SASL_CONFIG"
)

var ErrBadProvider = errors.New("bad provider declaration")

// Provider is a single entry of the providers list
type Provider struct {
	Name     string            `koanf:"name"`
	Type     string            `koanf:"type"`
	Settings map[string]string `koanf:"settings"`
}

type Config struct {
	LogLevel  string     `koanf:"log_level"`
	Providers []Provider `koanf:"providers"`
}

// Load reads the configuration file at path.  Top level scalar settings can
// be overridden from the environment.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}

	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(k, v string) (string, any) {
			k = strings.ToLower(strings.TrimPrefix(k, EnvPrefix))
			// SASL_CONFIG names the file, it is not a setting
			if k == "config" || k == "providers" {
				return "", nil
			}
			return k, v
		},
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	for i, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("%w: provider #%d has no name", ErrBadProvider, i)
		}
		if p.Type == "" {
			return fmt.Errorf("%w: provider %q has no type", ErrBadProvider, p.Name)
		}
	}

	return nil
}

// Declarations converts the configured providers to registry provider
// declarations, preserving their order
func (c *Config) Declarations() []registry.ProviderDeclaration {
	decls := make([]registry.ProviderDeclaration, 0, len(c.Providers))

	for _, p := range c.Providers {
		decls = append(decls, registry.ProviderDeclaration{
			Name:     p.Name,
			Type:     p.Type,
			Settings: p.Settings,
		})
	}

	return decls
}

// ProviderSource returns a registry.ProviderSource reading the file at
// path.  An empty path means no provider configuration exists.
func ProviderSource(path string) registry.ProviderSource {
	return func() ([]registry.ProviderDeclaration, error) {
		if path == "" {
			return nil, nil
		}

		cfg, err := Load(path)
		if err != nil {
			return nil, err
		}

		return cfg.Declarations(), nil
	}
}

// DefaultProviderSource reads the file named by the SASL_CONFIG
// environment variable, if set
func DefaultProviderSource() registry.ProviderSource {
	return ProviderSource(os.Getenv(EnvConfigFile))
}
