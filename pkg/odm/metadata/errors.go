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


package metadata

import (
	"errors"
	"fmt"
)

var (
	ErrMissingIdentifier  = errors.New("missing identifier field")
	ErrDuplicateField     = errors.New("duplicate field mapping")
	ErrUnresolvableTarget = errors.New("unresolvable target class")
	ErrDuplicateClass     = errors.New("duplicate class mapping")
	ErrInvalidMapping     = errors.New("invalid mapping")
	ErrNotDocument        = errors.New("value is not a pointer to a struct")
	ErrUnmappedClass      = errors.New("class is not mapped")
)

// MappingError is returned while metadata is registered or resolved, before any session work.
type MappingError struct {
	Err    error
	Class  string
	Field  string
	Reason string
}

func (e *MappingError) Error() string {
	msg := "mapping error: class " + e.Class
	if e.Field != "" {
		msg += " field " + e.Field
	}

	msg += ": " + e.Err.Error()
	if e.Reason != "" {
		msg += ": " + e.Reason
	}

	return msg
}

func (e *MappingError) Unwrap() error {
	return e.Err
}

func mappingErr(err error, class, field, format string, args ...any) *MappingError {
	return &MappingError{Err: err, Class: class, Field: field, Reason: fmt.Sprintf(format, args...)}
}
