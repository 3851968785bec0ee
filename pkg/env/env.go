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

// Package env reads typed settings from environment variables.
//
// Every getter takes a required flag: a required variable that is unset or malformed is an
// error, an optional one falls back to defaultValue.
package env

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

var (
	ErrMissing   = errors.New("required environment variable is not set")
	ErrMalformed = errors.New("environment variable is malformed")
)

// GetAsString retrieves an environment variable as a string.
func GetAsString(key string, required bool, defaultValue string) (string, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		if required {
			return "", fmt.Errorf("%w: %s", ErrMissing, key)
		}

		return defaultValue, nil
	}

	return value, nil
}

func parse[T any](key string, required bool, defaultValue T, kind string, fn func(string) (T, error)) (T, error) {
	var zero T

	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		if required {
			return zero, fmt.Errorf("%w: %s", ErrMissing, key)
		}

		return defaultValue, nil
	}

	parsed, err := fn(strings.TrimSpace(value))
	if err != nil {
		if required {
			return zero, fmt.Errorf("%w: %s must be %s: %w", ErrMalformed, key, kind, err)
		}

		return defaultValue, nil
	}

	return parsed, nil
}

// GetAsInt retrieves an environment variable as an integer.
func GetAsInt(key string, required bool, defaultValue int) (int, error) {
	return parse(key, required, defaultValue, "an integer", strconv.Atoi)
}

// GetAsBool accepts true/false, 1/0, yes/no, y/n and on/off.
func GetAsBool(key string, required bool, defaultValue bool) (bool, error) {
	return parse(key, required, defaultValue, "a boolean", func(s string) (bool, error) {
		switch strings.ToLower(s) {
		case "true", "1", "yes", "y", "on":
			return true, nil
		case "false", "0", "no", "n", "off":
			return false, nil
		}

		return false, fmt.Errorf("unrecognized value %q", s)
	})
}

// GetAsFloat retrieves an environment variable as a float64.
func GetAsFloat(key string, required bool, defaultValue float64) (float64, error) {
	return parse(key, required, defaultValue, "a number", func(s string) (float64, error) {
		return strconv.ParseFloat(s, 64)
	})
}

// GetAsDuration accepts Go duration strings such as "30s" or "1m30s".
func GetAsDuration(key string, required bool, defaultValue time.Duration) (time.Duration, error) {
	return parse(key, required, defaultValue, "a duration", time.ParseDuration)
}
