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
	"fmt"
	"reflect"
)

// FieldMapping describes one mapped struct field. Accessors resolve the field by its
// struct index, computed once when the mapping is attached to a class.
type FieldMapping struct {
	// Name is the Go struct field name.
	Name string
	// StorageName is the record property name.
	StorageName string
	// Type is a name in the types registry. Empty for associations to classes.
	Type     string
	Nullable bool

	Kind        AssociationKind
	TargetClass string
	// MappedBy names the field on the target that owns the relationship. A non-empty
	// value makes this the inverse side.
	MappedBy string

	CascadePersist bool
	CascadeRemove  bool
	OrphanRemoval  bool

	GoType reflect.Type

	index []int
}

// IsOwning reports whether this side persists the relationship.
func (f *FieldMapping) IsOwning() bool {
	return f.MappedBy == ""
}

// IsAssociation reports whether the field refers to other documents.
func (f *FieldMapping) IsAssociation() bool {
	return f.Kind.IsAssociation() && (f.TargetClass != "" || f.Kind.IsLink())
}

// Get returns the field value of doc.
func (f *FieldMapping) Get(doc any) any {
	return f.Value(doc).Interface()
}

// Value returns the reflected field of doc.
func (f *FieldMapping) Value(doc any) reflect.Value {
	return reflect.ValueOf(doc).Elem().FieldByIndex(f.index)
}

// IsNil reports whether the current value of doc's field is nil or the zero value of a
// nilable kind.
func (f *FieldMapping) IsNil(doc any) bool {
	return IsNilValue(f.Value(doc))
}

// Set assigns v to the field of doc. A nil v stores the zero value.
func (f *FieldMapping) Set(doc any, v any) error {
	field := f.Value(doc)
	if v == nil {
		field.Set(reflect.Zero(field.Type()))

		return nil
	}

	rv := reflect.ValueOf(v)

	switch {
	case rv.Type().AssignableTo(field.Type()):
		field.Set(rv)
	case rv.Type().ConvertibleTo(field.Type()) && rv.Kind() == field.Kind():
		field.Set(rv.Convert(field.Type()))
	case field.Kind() == reflect.Pointer && rv.Type().AssignableTo(field.Type().Elem()):
		ptr := reflect.New(field.Type().Elem())
		ptr.Elem().Set(rv)
		field.Set(ptr)
	default:
		return fmt.Errorf("%w: field %s: cannot assign %T to %s", ErrInvalidMapping, f.Name, v, field.Type())
	}

	return nil
}

// IsNilValue reports whether v holds nil. Non-nilable kinds are never nil.
func IsNilValue(v reflect.Value) bool {
	if !v.IsValid() {
		return true
	}

	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return v.IsNil()
	}

	return false
}

func nilableKind(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		return true
	}

	return false
}
