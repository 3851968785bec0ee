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

package config

import (
	"fmt"

	"github.com/united-manufacturing-hub/orientdb-odm/pkg/env"
)

// ApplyEnv overrides non-empty environment variables onto c.
//
//	ODM_URL, ODM_DATABASE, ODM_USERNAME, ODM_PASSWORD, ODM_TIMEOUT, ODM_SERVER_VERSION,
//	ODM_COMPRESSION, ODM_RETRY, LOGGING_LEVEL, LOGGING_FORMAT, SENTRY_DSN
func (c *Config) ApplyEnv() error {
	var err error

	overrides := []struct {
		key    string
		target *string
	}{
		{"ODM_URL", &c.Binding.URL},
		{"ODM_DATABASE", &c.Binding.Database},
		{"ODM_USERNAME", &c.Binding.Username},
		{"ODM_PASSWORD", &c.Binding.Password},
		{"ODM_SERVER_VERSION", &c.Binding.ServerVersion},
		{"LOGGING_LEVEL", &c.Logging.Level},
		{"LOGGING_FORMAT", &c.Logging.Format},
		{"SENTRY_DSN", &c.Sentry.DSN},
	}

	for _, s := range overrides {
		if *s.target, err = env.GetAsString(s.key, false, *s.target); err != nil {
			return err
		}
	}

	if c.Binding.Timeout, err = env.GetAsDuration("ODM_TIMEOUT", false, c.Binding.Timeout); err != nil {
		return fmt.Errorf("ODM_TIMEOUT: %w", err)
	}

	if c.Binding.CompressionThreshold, err = env.GetAsInt("ODM_COMPRESSION", false, c.Binding.CompressionThreshold); err != nil {
		return fmt.Errorf("ODM_COMPRESSION: %w", err)
	}

	if c.Retry.Enabled, err = env.GetAsBool("ODM_RETRY", false, c.Retry.Enabled); err != nil {
		return fmt.Errorf("ODM_RETRY: %w", err)
	}

	return nil
}
