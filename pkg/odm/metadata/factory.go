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

// Package metadata describes how Go structs map onto database records.
//
// Classes are registered with a Factory, either built by hand, from `odm` struct tags
// (RegisterStruct) or from a GraphQL SDL document (LoadSDL). Resolve must succeed before
// the factory is handed to a session; it reports every mapping problem as a *MappingError.
package metadata

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/united-manufacturing-hub/orientdb-odm/pkg/odm/types"
)

// Factory holds all class descriptors of one mapping configuration.
type Factory struct {
	registry *types.Registry
	classes  map[string]*ClassMetadata
	byType   map[reflect.Type]*ClassMetadata
	order    []*ClassMetadata
	resolved bool
}

// NewFactory creates an empty factory. registry may be nil, in which case field type names
// are not checked.
func NewFactory(registry *types.Registry) *Factory {
	return &Factory{
		registry: registry,
		classes:  make(map[string]*ClassMetadata),
		byType:   make(map[reflect.Type]*ClassMetadata),
	}
}

// Register adds a class. Names and Go types must be unique.
func (f *Factory) Register(cm *ClassMetadata) error {
	if err := cm.Validate(); err != nil {
		return err
	}

	if _, dup := f.classes[cm.Name]; dup {
		return mappingErr(ErrDuplicateClass, cm.Name, "", "class name already registered")
	}

	if other, dup := f.byType[cm.GoType]; dup {
		return mappingErr(ErrDuplicateClass, cm.Name, "", "Go type %s already mapped as %s", cm.GoType, other.Name)
	}

	f.classes[cm.Name] = cm
	f.byType[cm.GoType] = cm
	f.order = append(f.order, cm)
	f.resolved = false

	return nil
}

// Resolve validates cross-class references: targets exist and have the right kind,
// inverse fields exist, field types are known. Missing targets of single links and
// embeds are inferred from the Go field type.
func (f *Factory) Resolve() error {
	var errs []error

	for _, cm := range f.order {
		for _, fm := range cm.fields {
			if err := f.resolveField(cm, fm); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	f.resolved = true

	return nil
}

func (f *Factory) resolveField(cm *ClassMetadata, fm *FieldMapping) error {
	if fm.Kind == None {
		if fm.Type == "" {
			name, ok := types.ForGoType(fm.GoType)
			if !ok {
				return mappingErr(ErrInvalidMapping, cm.Name, fm.Name, "cannot infer a type for %s, declare an association kind", fm.GoType)
			}

			fm.Type = name
		}

		if f.registry != nil && !f.registry.Has(fm.Type) {
			return mappingErr(ErrInvalidMapping, cm.Name, fm.Name, "unknown field type %q", fm.Type)
		}

		return nil
	}

	if fm.TargetClass == "" {
		if target, ok := f.byType[elementStruct(fm.GoType)]; ok {
			fm.TargetClass = target.Name
		}
	}

	if fm.Kind.IsEmbedded() {
		fm.OrphanRemoval = true
		fm.CascadePersist = true

		if fm.TargetClass == "" {
			// Scalar embedded collections such as []string.
			if fm.Kind == Embed {
				return mappingErr(ErrUnresolvableTarget, cm.Name, fm.Name, "embed needs a target class")
			}

			if fm.Type == "" {
				fm.Type = types.Any
			}

			return nil
		}
	}

	target, ok := f.classes[fm.TargetClass]
	if !ok {
		return mappingErr(ErrUnresolvableTarget, cm.Name, fm.Name, "target %q is not registered", fm.TargetClass)
	}

	if fm.Kind.IsEmbedded() && !target.Embedded {
		return mappingErr(ErrInvalidMapping, cm.Name, fm.Name, "embedded field targets document class %s", target.Name)
	}

	if fm.Kind.IsLink() && target.Embedded {
		return mappingErr(ErrInvalidMapping, cm.Name, fm.Name, "link field targets embedded class %s", target.Name)
	}

	if fm.MappedBy != "" {
		inverse, ok := target.Field(fm.MappedBy)
		if !ok {
			inverse, ok = target.FieldByStorageName(fm.MappedBy)
		}

		if !ok {
			return mappingErr(ErrUnresolvableTarget, cm.Name, fm.Name, "mappedBy %s.%s does not exist", target.Name, fm.MappedBy)
		}

		fm.MappedBy = inverse.Name
	}

	return nil
}

// elementStruct unwraps pointers, slices and maps down to a struct type.
func elementStruct(t reflect.Type) reflect.Type {
	for t != nil {
		switch t.Kind() {
		case reflect.Pointer, reflect.Slice, reflect.Array, reflect.Map:
			t = t.Elem()
		case reflect.Struct:
			return t
		default:
			return nil
		}
	}

	return nil
}

// IsResolved reports whether Resolve succeeded since the last registration.
func (f *Factory) IsResolved() bool {
	return f.resolved
}

// Registry returns the type registry the factory validates against.
func (f *Factory) Registry() *types.Registry {
	return f.registry
}

// Classes returns classes in registration order.
func (f *Factory) Classes() []*ClassMetadata {
	out := make([]*ClassMetadata, len(f.order))
	copy(out, f.order)

	return out
}

// ClassByName returns the class registered under name.
func (f *Factory) ClassByName(name string) (*ClassMetadata, bool) {
	cm, ok := f.classes[name]

	return cm, ok
}

// MetadataFor returns the class of doc, which must be a pointer to a mapped struct.
func (f *Factory) MetadataFor(doc any) (*ClassMetadata, error) {
	t := reflect.TypeOf(doc)
	if t == nil || t.Kind() != reflect.Pointer || t.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %T", ErrNotDocument, doc)
	}

	if reflect.ValueOf(doc).IsNil() {
		return nil, fmt.Errorf("%w: nil %T", ErrNotDocument, doc)
	}

	cm, ok := f.byType[t.Elem()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnmappedClass, t.Elem())
	}

	return cm, nil
}
