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

package binding

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/united-manufacturing-hub/orientdb-odm/pkg/backoff"
)

var (
	ErrConflict     = errors.New("record version conflict")
	ErrNotFound     = errors.New("record not found")
	ErrUnauthorized = errors.New("authentication rejected")
	ErrInvalidURL   = errors.New("invalid database URL")
)

// TransportError describes a failed round trip. StatusCode is 0 when no response arrived.
type TransportError struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode == 0:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s failed with status %d: %s", e.Op, e.StatusCode, e.Message)
	default:
		return fmt.Sprintf("%s failed with status %d", e.Op, e.StatusCode)
	}
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// serverErrors is the error envelope of the REST API.
type serverErrors struct {
	Errors []struct {
		Code    int    `json:"code"`
		Reason  int    `json:"reason"`
		Content string `json:"content"`
	} `json:"errors"`
}

// errorMessage extracts the first server error content, falling back to the raw body.
func errorMessage(body []byte) string {
	var envelope serverErrors
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Errors) > 0 {
		return strings.TrimSpace(envelope.Errors[0].Content)
	}

	msg := strings.TrimSpace(string(body))
	if len(msg) > 512 {
		msg = msg[:512] + "..."
	}

	return msg
}

// statusError maps a non-2xx response. 408, 429 and 5xx are transient, the rest permanent.
func statusError(op string, status int, body []byte) error {
	e := &TransportError{Op: op, StatusCode: status, Message: errorMessage(body)}

	switch status {
	case http.StatusConflict:
		e.Err = ErrConflict
	case http.StatusNotFound:
		e.Err = ErrNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		e.Err = ErrUnauthorized
	}

	if status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500 {
		return backoff.NewTransientError(e)
	}

	return backoff.NewPermanentError(e)
}

// connectionError wraps a failure without response. These are always transient.
func connectionError(op string, err error) error {
	return backoff.NewTransientError(&TransportError{Op: op, Err: enhanceConnectionError(err)})
}

// enhanceConnectionError adds detailed context to common connection errors
func enhanceConnectionError(err error) error {
	msg := err.Error()

	switch {
	case strings.Contains(msg, "EOF"):
		return fmt.Errorf("connection closed unexpectedly before receiving response: %w (possible causes: server restart or proxy timeout)", err)
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return fmt.Errorf("request timed out: %w (possible causes: long running script or server overload)", err)
	case strings.Contains(msg, "connection refused"):
		return fmt.Errorf("connection refused: %w (possible causes: server down or wrong port)", err)
	}

	return fmt.Errorf("connection error: %w (no response received from server, status code 0)", err)
}
