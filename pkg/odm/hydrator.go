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
	"context"
	"fmt"
	"reflect"
	"sort"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/orientdb-odm/pkg/metrics"
	"github.com/united-manufacturing-hub/orientdb-odm/pkg/odm/collection"
	"github.com/united-manufacturing-hub/orientdb-odm/pkg/odm/metadata"
	"github.com/united-manufacturing-hub/orientdb-odm/pkg/odm/rid"
	"github.com/united-manufacturing-hub/orientdb-odm/pkg/odm/types"
)

// hydrator builds documents from decoded records and registers them with the unit of
// work.
type hydrator struct {
	u        *UnitOfWork
	registry *types.Registry
	loader   collection.Loader
	log      *zap.SugaredLogger
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case interface{ Int64() (int64, error) }:
		i, err := n.Int64()

		return i, err == nil
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	}

	return 0, false
}

// hydrate returns the managed document for record. A document already in the identity
// map wins over target; placeholders are filled in place.
func (h *hydrator) hydrate(ctx context.Context, record map[string]any, target any) (any, error) {
	rawID, _ := record[metadata.StorageRID].(string)

	id, err := rid.Normalize(rawID)
	if err != nil {
		metrics.IncErrorCount(metrics.ComponentHydrator)

		return nil, fmt.Errorf("record without identity: %w", err)
	}

	class, err := h.classFor(record, target)
	if err != nil {
		return nil, err
	}

	doc := target

	if existing, ok := h.u.TryGetByID(id); ok {
		e := h.u.entryOf(existing)
		if e == nil || !e.ghost {
			return existing, nil
		}

		e.ghost = false
		doc = existing
		class = e.class
	} else {
		if doc == nil {
			doc = class.NewInstance()
		}

		if _, err := h.u.register(doc, class, id); err != nil {
			return nil, err
		}
	}

	if class.HasVersion() {
		if v, ok := toInt64(record[metadata.StorageVersion]); ok {
			class.SetVersionValue(doc, v)
		}
	}

	for _, fm := range class.Fields() {
		raw, present := record[fm.StorageName]

		if err := h.setField(ctx, doc, fm, raw, present); err != nil {
			metrics.IncErrorCount(metrics.ComponentHydrator)

			return nil, fmt.Errorf("failed to hydrate %s %s: %w", class.Name, id, err)
		}
	}

	e := h.u.entryOf(doc)
	e.snapshot = nil

	if err := h.u.takeSnapshot(doc); err != nil {
		return nil, err
	}

	if err := h.u.events.Dispatch(ctx, Event{Type: PostLoad, Document: doc, UnitOfWork: h.u}); err != nil {
		return nil, err
	}

	return doc, nil
}

func (h *hydrator) classFor(record map[string]any, target any) (*metadata.ClassMetadata, error) {
	if target != nil {
		return h.u.classOf(target)
	}

	name, _ := record[metadata.StorageClass].(string)

	class, ok := h.u.factory.ClassByName(name)
	if !ok || class.Embedded {
		return nil, fmt.Errorf("%w: record class %q", metadata.ErrUnmappedClass, name)
	}

	return class, nil
}

func (h *hydrator) setField(ctx context.Context, doc any, fm *metadata.FieldMapping, raw any, present bool) error {
	if fm.GoType == collectionPtrType {
		c, err := h.collection(ctx, doc, fm, raw, present)
		if err != nil {
			return err
		}

		return fm.Set(doc, c)
	}

	if !present {
		return nil
	}

	if raw == nil {
		return fm.Set(doc, nil)
	}

	var (
		v   any
		err error
	)

	switch {
	case fm.Kind == metadata.None:
		v, err = h.decode(fm.Type, raw, fm.GoType)
	case fm.Kind == metadata.Link:
		v, err = h.reference(ctx, fm, raw, fm.GoType)
	case fm.Kind == metadata.Embed:
		v, err = h.embedded(ctx, fm, raw, fm.GoType)
	default:
		v, err = h.container(ctx, fm, raw)
	}

	if err != nil {
		return fmt.Errorf("field %s: %w", fm.Name, err)
	}

	return fm.Set(doc, v)
}

// decode converts a scalar, descending into slices and maps.
func (h *hydrator) decode(typeName string, raw any, target reflect.Type) (any, error) {
	if raw == nil {
		return reflect.Zero(target).Interface(), nil
	}

	if typeName == "" || typeName == types.Any {
		if name, ok := types.ForGoType(target); ok {
			typeName = name
		}
	}

	switch items := raw.(type) {
	case []any:
		if target.Kind() == reflect.Slice && target.Elem().Kind() != reflect.Uint8 {
			out := reflect.MakeSlice(target, 0, len(items))

			for _, item := range items {
				v, err := h.decode("", item, target.Elem())
				if err != nil {
					return nil, err
				}

				out = reflect.Append(out, valueOf(v, target.Elem()))
			}

			return out.Interface(), nil
		}
	case map[string]any:
		if target.Kind() == reflect.Map && target.Key().Kind() == reflect.String {
			out := reflect.MakeMapWithSize(target, len(items))

			for k, item := range items {
				v, err := h.decode("", item, target.Elem())
				if err != nil {
					return nil, err
				}

				out.SetMapIndex(reflect.ValueOf(k).Convert(target.Key()), valueOf(v, target.Elem()))
			}

			return out.Interface(), nil
		}
	}

	if typeName == "" {
		typeName = types.Any
	}

	t, err := h.registry.Lookup(typeName)
	if err != nil {
		return nil, err
	}

	return t.FromDatabase(raw, target)
}

// valueOf adapts v for a slot of type t. Nil becomes the zero value and pointers to
// struct values are dereferenced.
func valueOf(v any, t reflect.Type) reflect.Value {
	if v == nil {
		return reflect.Zero(t)
	}

	rv := reflect.ValueOf(v)

	switch {
	case rv.Type().AssignableTo(t):
		return rv
	case rv.Kind() == reflect.Pointer && rv.Type().Elem().AssignableTo(t):
		return rv.Elem()
	case rv.Type().ConvertibleTo(t):
		return rv.Convert(t)
	}

	return rv
}

// reference resolves a link value: a RID becomes the managed document or a placeholder,
// a fetched record is hydrated.
func (h *hydrator) reference(ctx context.Context, fm *metadata.FieldMapping, raw any, target reflect.Type) (any, error) {
	if target == ridType || target.Kind() == reflect.String {
		return h.decode(types.Link, raw, target)
	}

	switch v := raw.(type) {
	case string:
		id, err := rid.Normalize(v)
		if err != nil {
			return nil, err
		}

		class, ok := h.u.factory.ClassByName(fm.TargetClass)
		if !ok {
			return nil, fmt.Errorf("%w: %q", metadata.ErrUnmappedClass, fm.TargetClass)
		}

		return h.u.reference(class, id)
	case map[string]any:
		return h.hydrate(ctx, v, nil)
	}

	return nil, fmt.Errorf("%w: unexpected link value %T", types.ErrConversion, raw)
}

// embedded builds an inline document, or decodes a scalar element of an embedded
// collection.
func (h *hydrator) embedded(ctx context.Context, fm *metadata.FieldMapping, raw any, target reflect.Type) (any, error) {
	m, ok := raw.(map[string]any)
	if !ok || fm.TargetClass == "" {
		return h.decode(fm.Type, raw, target)
	}

	name := fm.TargetClass
	if c, ok := m[metadata.StorageClass].(string); ok && c != "" {
		name = c
	}

	class, ok := h.u.factory.ClassByName(name)
	if !ok || !class.Embedded {
		return nil, fmt.Errorf("%w: embedded class %q", metadata.ErrUnmappedClass, name)
	}

	doc := class.NewInstance()

	for _, inner := range class.Fields() {
		v, present := m[inner.StorageName]

		if err := h.setField(ctx, doc, inner, v, present); err != nil {
			return nil, fmt.Errorf("%s: %w", class.Name, err)
		}
	}

	return doc, nil
}

// elementType is the Go type of one element of a to-many field, falling back to any.
func elementType(fm *metadata.FieldMapping) reflect.Type {
	switch fm.GoType.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return fm.GoType.Elem()
	}

	return anyType
}

// entries resolves the raw elements of a to-many field.
func (h *hydrator) entries(ctx context.Context, fm *metadata.FieldMapping, raw any) ([]collection.Entry, error) {
	el := elementType(fm)

	resolve := func(v any) (any, error) {
		if fm.Kind.IsLink() {
			if el == anyType {
				return h.reference(ctx, fm, v, ptrToTarget(h.u.factory, fm))
			}

			return h.reference(ctx, fm, v, el)
		}

		return h.embedded(ctx, fm, v, el)
	}

	switch items := raw.(type) {
	case nil:
		return nil, nil
	case []any:
		out := make([]collection.Entry, 0, len(items))

		for _, item := range items {
			v, err := resolve(item)
			if err != nil {
				return nil, err
			}

			out = append(out, collection.Entry{Value: v})
		}

		return out, nil
	case map[string]any:
		keys := make([]string, 0, len(items))
		for k := range items {
			if k != metadata.StorageType && k != metadata.StorageClass {
				keys = append(keys, k)
			}
		}

		sort.Strings(keys)

		out := make([]collection.Entry, 0, len(keys))

		for _, k := range keys {
			v, err := resolve(items[k])
			if err != nil {
				return nil, err
			}

			out = append(out, collection.Entry{Key: k, Value: v})
		}

		return out, nil
	}

	return nil, fmt.Errorf("%w: unexpected collection value %T", types.ErrConversion, raw)
}

// ptrToTarget is the pointer type of the target class, used for links held in
// collections.
func ptrToTarget(f *metadata.Factory, fm *metadata.FieldMapping) reflect.Type {
	if class, ok := f.ClassByName(fm.TargetClass); ok {
		return reflect.PointerTo(class.GoType)
	}

	return anyType
}

// container builds slice and map fields of to-many kinds.
func (h *hydrator) container(ctx context.Context, fm *metadata.FieldMapping, raw any) (any, error) {
	entries, err := h.entries(ctx, fm, raw)
	if err != nil {
		return nil, err
	}

	el := elementType(fm)

	if fm.GoType.Kind() == reflect.Map {
		out := reflect.MakeMapWithSize(fm.GoType, len(entries))
		for _, e := range entries {
			out.SetMapIndex(reflect.ValueOf(e.Key).Convert(fm.GoType.Key()), valueOf(e.Value, el))
		}

		return out.Interface(), nil
	}

	if fm.GoType.Kind() != reflect.Slice {
		return nil, fmt.Errorf("%w: cannot hold elements in %s", types.ErrConversion, fm.GoType)
	}

	out := reflect.MakeSlice(fm.GoType, 0, len(entries))
	for _, e := range entries {
		out = reflect.Append(out, valueOf(e.Value, el))
	}

	return out.Interface(), nil
}

// fetched reports whether raw holds complete records rather than bare RIDs.
func fetched(raw any) bool {
	switch items := raw.(type) {
	case []any:
		for _, item := range items {
			if _, ok := item.(map[string]any); !ok {
				return false
			}
		}

		return true
	case map[string]any:
		for k, item := range items {
			if k == metadata.StorageType {
				continue
			}

			if _, ok := item.(map[string]any); !ok {
				return false
			}
		}

		return true
	}

	return false
}

// collection builds a persistent collection. Embedded and fetched elements are hydrated
// now, bare RIDs and missing properties stay lazy until first access.
func (h *hydrator) collection(ctx context.Context, doc any, fm *metadata.FieldMapping, raw any, present bool) (*collection.Collection, error) {
	kind := collection.KindFor(fm.Kind)

	if !fm.Kind.IsEmbedded() && (!present || (raw != nil && !fetched(raw))) {
		opts := []collection.Option{collection.WithLoader(h.loader)}
		if present {
			opts = append(opts, collection.WithRaw(raw))
		}

		return collection.NewPersistent(kind, doc, fm, h.u, opts...), nil
	}

	entries, err := h.entries(ctx, fm, raw)
	if err != nil {
		return nil, err
	}

	c := collection.NewPersistent(kind, doc, fm, h.u, collection.WithLoader(h.loader))
	c.Hydrate(entries...)
	c.MarkInitialized()
	c.TakeSnapshot()

	return c, nil
}
