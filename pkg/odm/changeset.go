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
	"fmt"
	"reflect"
	"time"

	"github.com/tiendc/go-deepcopy"

	"github.com/united-manufacturing-hub/orientdb-odm/pkg/odm/collection"
	"github.com/united-manufacturing-hub/orientdb-odm/pkg/odm/metadata"
	"github.com/united-manufacturing-hub/orientdb-odm/pkg/odm/rid"
)

// ModifiedField represents a field that changed between the snapshot and the document.
type ModifiedField struct {
	Old any // Snapshot form of the previous value
	New any // Current value as stored on the document
}

// ChangeSet lists the modified fields of one document in declaration order.
type ChangeSet struct {
	document any
	class    *metadata.ClassMetadata
	names    []string
	fields   map[string]ModifiedField
}

func newChangeSet(doc any, class *metadata.ClassMetadata) *ChangeSet {
	return &ChangeSet{document: doc, class: class, fields: make(map[string]ModifiedField)}
}

func (cs *ChangeSet) add(name string, oldValue, newValue any) {
	if _, exists := cs.fields[name]; !exists {
		cs.names = append(cs.names, name)
	}

	cs.fields[name] = ModifiedField{Old: oldValue, New: newValue}
}

func (cs *ChangeSet) Document() any                  { return cs.document }
func (cs *ChangeSet) Class() *metadata.ClassMetadata { return cs.class }
func (cs *ChangeSet) Len() int                       { return len(cs.names) }

// IsEmpty returns true if the change set has no fields.
// Returns true if the receiver is nil.
func (cs *ChangeSet) IsEmpty() bool {
	return cs == nil || len(cs.names) == 0
}

func (cs *ChangeSet) Has(name string) bool {
	_, ok := cs.fields[name]

	return ok
}

// Field returns the change of a Go field name.
func (cs *ChangeSet) Field(name string) (ModifiedField, error) {
	mf, ok := cs.fields[name]
	if !ok {
		return ModifiedField{}, sessionErr(ErrFieldNotInChangeSet, cs.class, cs.document, name, "")
	}

	return mf, nil
}

// Fields returns the changed Go field names in declaration order.
func (cs *ChangeSet) Fields() []string {
	return append([]string(nil), cs.names...)
}

var (
	collectionPtrType = reflect.TypeOf((*collection.Collection)(nil))
	timeType          = reflect.TypeOf(time.Time{})
	ridType           = reflect.TypeOf(rid.RID{})
	anyType           = reflect.TypeOf((*any)(nil)).Elem()
)

// snapshotter converts field values into their baseline form:
//   - link targets keep their pointer, so links compare by identity
//   - embedded documents become nested field maps tagged with "@class"
//   - collections keep their pointer; their content is tracked by the collection itself
//   - scalars are dereferenced, slices and maps deep-copied
type snapshotter struct {
	factory *metadata.Factory
}

func (s snapshotter) document(doc any, class *metadata.ClassMetadata) (map[string]any, error) {
	out := make(map[string]any, len(class.Fields())+1)
	out[metadata.StorageClass] = class.Name

	for _, fm := range class.Fields() {
		v, err := s.value(fm, fm.Get(doc))
		if err != nil {
			return nil, err
		}

		out[fm.Name] = v
	}

	return out, nil
}

func (s snapshotter) value(fm *metadata.FieldMapping, v any) (any, error) {
	rv := reflect.ValueOf(v)
	if metadata.IsNilValue(rv) {
		return nil, nil
	}

	if c, ok := v.(*collection.Collection); ok {
		return c, nil
	}

	switch {
	case fm.Kind == metadata.None:
		return scalarCopy(rv)
	case fm.Kind == metadata.Link:
		return v, nil
	case fm.Kind.IsLink():
		return elements(rv, func(el any) (any, error) { return el, nil })
	case fm.Kind == metadata.Embed:
		return s.embedded(fm, v)
	default:
		return elements(rv, func(el any) (any, error) { return s.embedded(fm, el) })
	}
}

// embedded snapshots a value of an embedded field. Scalar elements of embedded
// collections such as []string are copied.
func (s snapshotter) embedded(fm *metadata.FieldMapping, v any) (any, error) {
	rv := reflect.ValueOf(v)
	if metadata.IsNilValue(rv) {
		return nil, nil
	}

	doc := addressable(v)
	if doc == nil {
		return scalarCopy(rv)
	}

	class, err := s.factory.MetadataFor(doc)
	if err != nil {
		if fm.TargetClass == "" {
			return scalarCopy(rv)
		}

		return nil, fmt.Errorf("field %s: %w", fm.Name, err)
	}

	return s.document(doc, class)
}

// addressable returns a pointer to struct for v, copying struct values. It returns nil
// for everything that is not a struct.
func addressable(v any) any {
	rv := reflect.ValueOf(v)

	switch {
	case rv.Kind() == reflect.Pointer && rv.Elem().Kind() == reflect.Struct && rv.Elem().Type() != timeType:
		return v
	case rv.Kind() == reflect.Struct && rv.Type() != timeType:
		ptr := reflect.New(rv.Type())
		ptr.Elem().Set(rv)

		return ptr.Interface()
	}

	return nil
}

func elements(rv reflect.Value, conv func(any) (any, error)) (any, error) {
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			v, err := conv(rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}

			out[i] = v
		}

		return out, nil
	case reflect.Map:
		out := make(map[string]any, rv.Len())

		iter := rv.MapRange()
		for iter.Next() {
			v, err := conv(iter.Value().Interface())
			if err != nil {
				return nil, err
			}

			out[fmt.Sprint(iter.Key().Interface())] = v
		}

		return out, nil
	}

	return conv(rv.Interface())
}

func scalarCopy(rv reflect.Value) (any, error) {
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, nil
		}

		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Slice, reflect.Map:
		dst := reflect.New(rv.Type())
		if err := deepcopy.Copy(dst.Interface(), rv.Interface()); err != nil {
			return nil, fmt.Errorf("failed to copy %s: %w", rv.Type(), err)
		}

		return dst.Elem().Interface(), nil
	}

	return rv.Interface(), nil
}

// sameValue compares a snapshot entry with the snapshot form of the current value.
func sameValue(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	switch x := a.(type) {
	case map[string]any:
		y, ok := b.(map[string]any)
		if !ok || len(x) != len(y) {
			return false
		}

		for k, xv := range x {
			yv, ok := y[k]
			if !ok || !sameValue(xv, yv) {
				return false
			}
		}

		return true
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}

		for i := range x {
			if !sameValue(x[i], y[i]) {
				return false
			}
		}

		return true
	case time.Time:
		y, ok := b.(time.Time)

		return ok && x.Equal(y)
	}

	ra, rb := reflect.ValueOf(a), reflect.ValueOf(b)
	if ra.Kind() == reflect.Pointer && rb.Kind() == reflect.Pointer {
		return ra.Type() == rb.Type() && ra.Pointer() == rb.Pointer()
	}

	return reflect.DeepEqual(a, b)
}
