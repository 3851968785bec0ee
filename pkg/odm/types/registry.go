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

// Package types holds the registry of value converters used when documents are written
// to and hydrated from the database.
//
// A Registry is created once per manager and passed by reference. There is no
// process-wide registry.
package types

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/united-manufacturing-hub/orientdb-odm/pkg/odm/rid"
)

var (
	ErrUnknownType   = errors.New("unknown type")
	ErrDuplicateType = errors.New("type already registered")
)

// Registry maps type names to converters. It is safe for concurrent reads after setup.
type Registry struct {
	types map[string]Type
	mu    sync.RWMutex
}

// NewRegistry returns a registry holding the built-in types.
func NewRegistry() *Registry {
	r := &Registry{types: make(map[string]Type)}

	for _, t := range []Type{
		stringType{},
		booleanType{},
		integerType{name: Short, bits: 16},
		integerType{name: Integer, bits: 32},
		integerType{name: Long, bits: 64},
		integerType{name: Byte, bits: 8},
		floatType{name: Float},
		floatType{name: Double},
		timeType{name: Date, layout: DateLayout},
		timeType{name: DateTime, layout: DateTimeLayout},
		binaryType{},
		linkType{},
		anyType{},
	} {
		r.types[t.Name()] = t
	}

	return r
}

// Register adds a custom type. Names are unique.
func (r *Registry) Register(t Type) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.types[t.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateType, t.Name())
	}

	r.types[t.Name()] = t

	return nil
}

// Lookup returns the type registered under name.
func (r *Registry) Lookup(name string) (Type, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.types[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, name)
	}

	return t, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, err := r.Lookup(name)

	return err == nil
}

// Names returns the registered type names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

var (
	goTimeType = reflect.TypeOf(time.Time{})
	bytesType  = reflect.TypeOf([]byte(nil))
	ridGoType  = reflect.TypeOf(rid.RID{})
	ifaceEmpty = reflect.TypeOf((*any)(nil)).Elem()
)

// ForGoType infers a type name for a scalar Go type. It returns false for types that need
// an explicit mapping.
func ForGoType(t reflect.Type) (string, bool) {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	switch t {
	case goTimeType:
		return DateTime, true
	case bytesType:
		return Binary, true
	case ridGoType:
		return Link, true
	case ifaceEmpty:
		return Any, true
	}

	switch t.Kind() {
	case reflect.String:
		return String, true
	case reflect.Bool:
		return Boolean, true
	case reflect.Int8, reflect.Uint8:
		return Byte, true
	case reflect.Int16, reflect.Uint16:
		return Short, true
	case reflect.Int32, reflect.Uint32:
		return Integer, true
	case reflect.Int, reflect.Int64, reflect.Uint, reflect.Uint64:
		return Long, true
	case reflect.Float32:
		return Float, true
	case reflect.Float64:
		return Double, true
	case reflect.Slice, reflect.Map:
		return Any, true
	}

	return "", false
}
