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

package odm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/united-manufacturing-hub/orientdb-odm/pkg/odm/metadata"
)

// MappingError is returned while classes are registered, before any session work.
type MappingError = metadata.MappingError

var (
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrDetachedRemove      = errors.New("detached document cannot be removed")
	ErrRemovedPersist      = errors.New("removed document cannot be persisted")
	ErrFieldNotInChangeSet = errors.New("field is not part of the change set")
	ErrIdentityConflict    = errors.New("another instance is registered under this identity")
	ErrNotCascaded         = errors.New("new document reachable through an association that does not cascade persist")
	ErrUnresolvedLink      = errors.New("link target has no identity")
	ErrNotManaged          = errors.New("document is not managed")
	ErrOptimisticLock      = errors.New("optimistic lock failure")
	ErrProtocol            = errors.New("unexpected database response")
)

// InvalidArgumentError rejects values that are not mapped documents.
type InvalidArgumentError struct {
	Value  any
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid argument %T: %s", e.Value, e.Reason)
}

func (e *InvalidArgumentError) Unwrap() error {
	return ErrInvalidArgument
}

// SessionError reports misuse of the unit of work.
type SessionError struct {
	Err     error
	Class   string
	RID     string
	Field   string
	Message string
}

func (e *SessionError) Error() string {
	var b strings.Builder

	b.WriteString("session error: ")
	b.WriteString(e.Err.Error())

	if e.Class != "" {
		b.WriteString(": ")
		b.WriteString(e.Class)

		if e.RID != "" {
			b.WriteString(" " + e.RID)
		}

		if e.Field != "" {
			b.WriteString("." + e.Field)
		}
	}

	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}

	return b.String()
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

func sessionErr(err error, class *metadata.ClassMetadata, doc any, field, format string, args ...any) *SessionError {
	se := &SessionError{Err: err, Field: field}

	if class != nil {
		se.Class = class.Name
		if doc != nil {
			se.RID = class.Identifier(doc)
		}
	}

	if format != "" {
		se.Message = fmt.Sprintf(format, args...)
	}

	return se
}

// OptimisticLockError carries the documents whose versioned update matched no record.
// Cause is the transport error when the server rejected the whole batch. Without a Cause
// the rest of the batch was committed and is already reflected in the session.
type OptimisticLockError struct {
	Documents []any
	Cause     error
}

func (e *OptimisticLockError) Error() string {
	msg := fmt.Sprintf("optimistic lock failure on %d document(s)", len(e.Documents))
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}

	return msg
}

func (e *OptimisticLockError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrOptimisticLock}
	}

	return []error{ErrOptimisticLock, e.Cause}
}

// ProtocolError means the server answered a batch with something the persister cannot map
// back onto the submitted documents. Nothing was assigned, but the server may have
// committed the script.
type ProtocolError struct {
	Classes  []string
	Expected string
	Received string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("unexpected database response for %s: expected %s, received %s",
		strings.Join(e.Classes, ", "), e.Expected, e.Received)
}

func (e *ProtocolError) Unwrap() error {
	return ErrProtocol
}
