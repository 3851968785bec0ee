// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the manager configuration from YAML and the environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"github.com/tiendc/go-deepcopy"
	"gopkg.in/yaml.v3"

	"github.com/united-manufacturing-hub/orientdb-odm/pkg/backoff"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the full manager configuration.
type Config struct {
	Binding BindingConfig `yaml:"binding"`
	Session SessionConfig `yaml:"session"`
	Retry   RetryConfig   `yaml:"retry"`
	Logging LoggingConfig `yaml:"logging"`
	Sentry  SentryConfig  `yaml:"sentry"`
}

// BindingConfig locates the database REST endpoint.
type BindingConfig struct {
	URL      string        `yaml:"url"`
	Database string        `yaml:"database"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Timeout  time.Duration `yaml:"timeout"`
	// ServerVersion selects the script dialect. Empty means current.
	ServerVersion string `yaml:"serverVersion"`
	// CompressionThreshold gzips request bodies of at least this many bytes. Zero disables.
	CompressionThreshold int  `yaml:"compressionThreshold"`
	InsecureTLS          bool `yaml:"insecureTLS"`
}

type SessionConfig struct {
	// OptimisticLocking adds a version check to updates of versioned classes.
	OptimisticLocking bool `yaml:"optimisticLocking"`
	// LockRecords adds LOCK RECORD to updates.
	LockRecords bool `yaml:"lockRecords"`
	// FetchPlan is used by Find when the caller passes none.
	FetchPlan string `yaml:"fetchPlan"`
	// FindConcurrency bounds parallel requests in FindMany.
	FindConcurrency int `yaml:"findConcurrency"`
}

type RetryConfig struct {
	Enabled         bool          `yaml:"enabled"`
	InitialInterval time.Duration `yaml:"initialInterval"`
	MaxInterval     time.Duration `yaml:"maxInterval"`
	MaxElapsedTime  time.Duration `yaml:"maxElapsedTime"`
	MaxRetries      uint64        `yaml:"maxRetries"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type SentryConfig struct {
	DSN      string `yaml:"dsn"`
	Release  string `yaml:"release"`
	Debounce bool   `yaml:"debounce"`
}

// Default returns the configuration used for unset values.
func Default() Config {
	policy := backoff.DefaultPolicy()

	return Config{
		Binding: BindingConfig{
			URL:      "http://localhost:2480",
			Timeout:  30 * time.Second,
			Username: "admin",
		},
		Session: SessionConfig{
			OptimisticLocking: true,
			LockRecords:       true,
			FetchPlan:         "*:0",
			FindConcurrency:   4,
		},
		Retry: RetryConfig{
			InitialInterval: policy.InitialInterval,
			MaxInterval:     policy.MaxInterval,
			MaxElapsedTime:  policy.MaxElapsedTime,
			MaxRetries:      policy.MaxRetries,
		},
		Logging: LoggingConfig{Level: "INFO", Format: "JSON"},
		Sentry:  SentryConfig{Debounce: true},
	}
}

// Parse decodes YAML over the defaults. Unknown keys are rejected.
func Parse(r io.Reader) (Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg, nil
}

// Load reads path, applies environment overrides and validates the result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(bytes.NewReader(data))
	if err != nil {
		return Config{}, err
	}

	if err := cfg.ApplyEnv(); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks required settings.
func (c Config) Validate() error {
	var errs []error

	if c.Binding.URL == "" {
		errs = append(errs, errors.New("binding.url is required"))
	} else if u, err := url.Parse(c.Binding.URL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("binding.url %q is not an absolute URL", c.Binding.URL))
	}

	if c.Binding.Database == "" {
		errs = append(errs, errors.New("binding.database is required"))
	}

	if c.Binding.Timeout < 0 {
		errs = append(errs, errors.New("binding.timeout must not be negative"))
	}

	if c.Binding.CompressionThreshold < 0 {
		errs = append(errs, errors.New("binding.compressionThreshold must not be negative"))
	}

	if c.Session.FindConcurrency < 1 {
		errs = append(errs, errors.New("session.findConcurrency must be at least 1"))
	}

	if c.Retry.Enabled && c.Retry.MaxInterval > 0 && c.Retry.InitialInterval > c.Retry.MaxInterval {
		errs = append(errs, errors.New("retry.initialInterval exceeds retry.maxInterval"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}

	return nil
}

// Clone returns a deep copy.
func (c Config) Clone() (Config, error) {
	var clone Config
	if err := deepcopy.Copy(&clone, &c); err != nil {
		return Config{}, fmt.Errorf("failed to clone config: %w", err)
	}

	return clone, nil
}

// RetryPolicy converts the retry section for pkg/backoff.
func (c Config) RetryPolicy() backoff.Policy {
	return backoff.Policy{
		InitialInterval: c.Retry.InitialInterval,
		MaxInterval:     c.Retry.MaxInterval,
		MaxElapsedTime:  c.Retry.MaxElapsedTime,
		MaxRetries:      c.Retry.MaxRetries,
	}
}
