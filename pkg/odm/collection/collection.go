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

// Package collection implements the to-many association container tracked by a session.
//
// A Collection is either transient (built with NewList, NewSet or NewMap, not yet
// attached to a managed owner) or persistent (attached to an owner document, its field
// mapping and a session). Persistent collections may start uninitialized and load their
// elements on first read through a Loader.
//
// Diffs are relative to the last TakeSnapshot call.
package collection

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"

	"github.com/united-manufacturing-hub/orientdb-odm/pkg/odm/metadata"
)

var (
	ErrNoSnapshot   = errors.New("collection diff requested before any snapshot")
	ErrNoLoader     = errors.New("collection has no loader")
	ErrKindMismatch = errors.New("operation not supported by collection kind")
	ErrOutOfRange   = errors.New("collection index out of range")
)

// Kind is the container shape.
type Kind int

const (
	List Kind = iota
	Set
	Map
)

func (k Kind) String() string {
	switch k {
	case List:
		return "list"
	case Set:
		return "set"
	case Map:
		return "map"
	}

	return "unknown"
}

// KindFor maps an association kind onto a container shape.
func KindFor(k metadata.AssociationKind) Kind {
	switch {
	case k.IsMap():
		return Map
	case k.IsSet():
		return Set
	}

	return List
}

// Entry is one element. Key is empty for lists and sets.
type Entry struct {
	Key   string
	Value any
}

// Session receives notifications from collections whose owner is managed.
type Session interface {
	ScheduleCollectionDeletion(c *Collection)
	ScheduleOrphanRemoval(doc any)
	MarkDirty(owner any)
}

// Loader fills an uninitialized collection, typically through Hydrate.
type Loader interface {
	LoadCollection(ctx context.Context, c *Collection) error
}

// EqualFunc decides element equality for diffs and set semantics.
type EqualFunc func(a, b any) bool

// DefaultEqual compares pointers by identity and everything else with reflect.DeepEqual.
func DefaultEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	ra, rb := reflect.ValueOf(a), reflect.ValueOf(b)
	if ra.Kind() == reflect.Pointer && rb.Kind() == reflect.Pointer {
		return ra.Type() == rb.Type() && ra.Pointer() == rb.Pointer()
	}

	return reflect.DeepEqual(a, b)
}

// Collection is an ordered list, a set or a string-keyed map with snapshot tracking.
// Not safe for concurrent use.
type Collection struct {
	owner   any
	mapping *metadata.FieldMapping
	session Session
	loader  Loader
	equal   EqualFunc
	raw     any

	entries  []Entry
	snapshot []Entry

	kind        Kind
	hasSnapshot bool
	initialized bool
	dirty       bool
}

// Option configures a collection.
type Option func(*Collection)

func WithEquality(fn EqualFunc) Option {
	return func(c *Collection) { c.equal = fn }
}

func WithLoader(l Loader) Option {
	return func(c *Collection) { c.loader = l }
}

// WithRaw stores the undecoded database value for the loader.
func WithRaw(raw any) Option {
	return func(c *Collection) { c.raw = raw }
}

func newCollection(kind Kind, opts []Option) *Collection {
	c := &Collection{kind: kind, equal: DefaultEqual}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// NewList returns an initialized transient list.
func NewList(values ...any) *Collection {
	c := newCollection(List, nil)
	c.initialized = true

	for _, v := range values {
		c.entries = append(c.entries, Entry{Value: v})
	}

	return c
}

// NewSet returns an initialized transient set. Duplicates are dropped.
func NewSet(values ...any) *Collection {
	c := newCollection(Set, nil)
	c.initialized = true

	for _, v := range values {
		c.appendUnique(v)
	}

	return c
}

// NewMap returns an initialized transient map, keys in sorted order.
func NewMap(values map[string]any) *Collection {
	c := newCollection(Map, nil)
	c.initialized = true

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	for _, k := range keys {
		c.entries = append(c.entries, Entry{Key: k, Value: values[k]})
	}

	return c
}

// NewPersistent returns an uninitialized collection bound to owner.
func NewPersistent(kind Kind, owner any, mapping *metadata.FieldMapping, session Session, opts ...Option) *Collection {
	c := newCollection(kind, opts)
	c.owner = owner
	c.mapping = mapping
	c.session = session

	return c
}

// Attach binds a transient collection to a managed owner. Contents and snapshot state
// are kept.
func (c *Collection) Attach(owner any, mapping *metadata.FieldMapping, session Session, loader Loader) {
	c.owner = owner
	c.mapping = mapping
	c.session = session

	if c.loader == nil {
		c.loader = loader
	}
}

func (c *Collection) Kind() Kind { return c.kind }
func (c *Collection) Owner() any { return c.owner }
func (c *Collection) Mapping() *metadata.FieldMapping { return c.mapping }
func (c *Collection) IsInitialized() bool { return c.initialized }
func (c *Collection) IsDirty() bool { return c.dirty }
func (c *Collection) HasSnapshot() bool { return c.hasSnapshot }
func (c *Collection) Raw() any { return c.raw }
func (c *Collection) IsAttached() bool { return c.session != nil && c.mapping != nil }
func (c *Collection) SetLoader(l Loader) { c.loader = l }
func (c *Collection) Equal(a, b any) bool { return c.equal(a, b) }

func (c *Collection) isOwningSide() bool {
	return c.mapping != nil && c.mapping.IsOwning()
}

func (c *Collection) orphanRemoval() bool {
	return c.isOwningSide() && (c.mapping.OrphanRemoval || c.mapping.Kind.IsEmbedded())
}

func (c *Collection) changed() {
	c.dirty = true

	if c.session != nil && c.owner != nil && c.isOwningSide() {
		c.session.MarkDirty(c.owner)
	}
}

func (c *Collection) orphaned(values ...any) {
	if c.session == nil || !c.orphanRemoval() {
		return
	}

	for _, v := range values {
		if v != nil {
			c.session.ScheduleOrphanRemoval(v)
		}
	}
}

// Initialize loads the backing elements once. Elements added before the load are kept
// and re-applied after it.
func (c *Collection) Initialize(ctx context.Context) error {
	if c.initialized || c.mapping == nil {
		return nil
	}

	if c.loader == nil {
		return fmt.Errorf("%w: field %s", ErrNoLoader, c.mapping.Name)
	}

	pending := c.entries
	c.entries = nil

	if err := c.loader.LoadCollection(ctx, c); err != nil {
		c.entries = pending

		return fmt.Errorf("failed to load collection %s: %w", c.mapping.Name, err)
	}

	c.initialized = true
	c.raw = nil
	c.TakeSnapshot()

	for _, e := range pending {
		if c.kind == Map {
			c.put(e.Key, e.Value)
		} else if c.kind == Set {
			c.appendUnique(e.Value)
		} else {
			c.entries = append(c.entries, e)
		}
	}

	if len(pending) > 0 {
		c.dirty = true
	}

	return nil
}

// Hydrate appends loaded elements without marking the collection dirty.
func (c *Collection) Hydrate(entries ...Entry) {
	for _, e := range entries {
		switch c.kind {
		case Map:
			c.put(e.Key, e.Value)
		case Set:
			c.appendUnique(e.Value)
		default:
			c.entries = append(c.entries, e)
		}
	}
}

// MarkInitialized flags a collection whose elements were hydrated eagerly.
func (c *Collection) MarkInitialized() {
	c.initialized = true
	c.raw = nil
}

func (c *Collection) indexOf(v any) int {
	for i, e := range c.entries {
		if c.equal(e.Value, v) {
			return i
		}
	}

	return -1
}

func (c *Collection) appendUnique(v any) bool {
	if c.indexOf(v) >= 0 {
		return false
	}

	c.entries = append(c.entries, Entry{Value: v})

	return true
}

func (c *Collection) put(key string, v any) {
	for i := range c.entries {
		if c.entries[i].Key == key {
			c.entries[i].Value = v

			return
		}
	}

	c.entries = append(c.entries, Entry{Key: key, Value: v})
}

// Add appends v without initializing. Sets ignore duplicates already present and return
// false. Maps need Set.
func (c *Collection) Add(v any) bool {
	if c.kind == Map {
		return false
	}

	if c.kind == Set {
		if !c.appendUnique(v) {
			return false
		}
	} else {
		c.entries = append(c.entries, Entry{Value: v})
	}

	c.changed()

	return true
}

// Set stores v under key without initializing. Only maps support it.
func (c *Collection) Set(key string, v any) error {
	if c.kind != Map {
		return fmt.Errorf("%w: Set on %s", ErrKindMismatch, c.kind)
	}

	c.put(key, v)
	c.changed()

	return nil
}

// Remove deletes by key: a string for maps, an int index otherwise. It returns the
// removed value.
func (c *Collection) Remove(ctx context.Context, key any) (any, bool, error) {
	if err := c.Initialize(ctx); err != nil {
		return nil, false, err
	}

	idx := -1

	switch k := key.(type) {
	case string:
		if c.kind != Map {
			return nil, false, fmt.Errorf("%w: string key on %s", ErrKindMismatch, c.kind)
		}

		for i, e := range c.entries {
			if e.Key == k {
				idx = i

				break
			}
		}
	case int:
		if c.kind == Map {
			return nil, false, fmt.Errorf("%w: index on map", ErrKindMismatch)
		}

		if k < 0 || k >= len(c.entries) {
			return nil, false, fmt.Errorf("%w: %d", ErrOutOfRange, k)
		}

		idx = k
	default:
		return nil, false, fmt.Errorf("%w: key type %T", ErrKindMismatch, key)
	}

	if idx < 0 {
		return nil, false, nil
	}

	removed := c.entries[idx].Value
	c.entries = append(c.entries[:idx:idx], c.entries[idx+1:]...)
	c.changed()
	c.orphaned(removed)

	return removed, true, nil
}

// RemoveElement deletes the first element equal to v.
func (c *Collection) RemoveElement(ctx context.Context, v any) (bool, error) {
	if err := c.Initialize(ctx); err != nil {
		return false, err
	}

	idx := c.indexOf(v)
	if idx < 0 {
		return false, nil
	}

	removed := c.entries[idx].Value
	c.entries = append(c.entries[:idx:idx], c.entries[idx+1:]...)
	c.changed()
	c.orphaned(removed)

	return true, nil
}

// Clear empties the collection. On the owning side of a managed owner it schedules a full
// deletion with the session and re-snapshots at once.
func (c *Collection) Clear(ctx context.Context) error {
	if !c.initialized && c.mapping != nil {
		if c.orphanRemoval() {
			if err := c.Initialize(ctx); err != nil {
				return err
			}
		} else {
			c.entries = nil
			c.MarkInitialized()
		}
	}

	removed := c.values()
	c.entries = nil
	c.changed()
	c.orphaned(removed...)

	if c.session != nil && c.isOwningSide() {
		c.session.ScheduleCollectionDeletion(c)
		c.TakeSnapshot()
	}

	return nil
}

func (c *Collection) values() []any {
	out := make([]any, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.Value
	}

	return out
}

// Values returns the elements in order.
func (c *Collection) Values(ctx context.Context) ([]any, error) {
	if err := c.Initialize(ctx); err != nil {
		return nil, err
	}

	return c.values(), nil
}

// Entries returns a copy of the elements with their keys.
func (c *Collection) Entries(ctx context.Context) ([]Entry, error) {
	if err := c.Initialize(ctx); err != nil {
		return nil, err
	}

	return append([]Entry(nil), c.entries...), nil
}

// Peek returns the current elements without loading. For uninitialized collections this
// is only what was added since.
func (c *Collection) Peek() []Entry {
	return append([]Entry(nil), c.entries...)
}

func (c *Collection) Get(ctx context.Context, key string) (any, bool, error) {
	if err := c.Initialize(ctx); err != nil {
		return nil, false, err
	}

	for _, e := range c.entries {
		if e.Key == key {
			return e.Value, true, nil
		}
	}

	return nil, false, nil
}

func (c *Collection) At(ctx context.Context, i int) (any, error) {
	if err := c.Initialize(ctx); err != nil {
		return nil, err
	}

	if i < 0 || i >= len(c.entries) {
		return nil, fmt.Errorf("%w: %d", ErrOutOfRange, i)
	}

	return c.entries[i].Value, nil
}

func (c *Collection) Len(ctx context.Context) (int, error) {
	if err := c.Initialize(ctx); err != nil {
		return 0, err
	}

	return len(c.entries), nil
}

func (c *Collection) Contains(ctx context.Context, v any) (bool, error) {
	if err := c.Initialize(ctx); err != nil {
		return false, err
	}

	return c.indexOf(v) >= 0, nil
}

func (c *Collection) Keys(ctx context.Context) ([]string, error) {
	if err := c.Initialize(ctx); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(c.entries))
	for _, e := range c.entries {
		keys = append(keys, e.Key)
	}

	return keys, nil
}

func cloneEntries(entries []Entry) []Entry {
	if entries == nil {
		return []Entry{}
	}

	return append([]Entry(nil), entries...)
}

// TakeSnapshot records the current elements as the baseline and clears the dirty flag.
func (c *Collection) TakeSnapshot() {
	c.snapshot = cloneEntries(c.entries)
	c.hasSnapshot = true
	c.dirty = false
}

// Snapshot returns the baseline values, nil before any snapshot.
func (c *Collection) Snapshot() []any {
	if !c.hasSnapshot {
		return nil
	}

	out := make([]any, len(c.snapshot))
	for i, e := range c.snapshot {
		out[i] = e.Value
	}

	return out
}

// difference returns the values of a that have no partner in b. Each element of b
// matches at most one element of a, so duplicates in lists count.
func (c *Collection) difference(a, b []Entry) []any {
	used := make([]bool, len(b))

	var out []any

	for _, x := range a {
		matched := false

		for j, y := range b {
			if !used[j] && c.equal(x.Value, y.Value) {
				used[j] = true
				matched = true

				break
			}
		}

		if !matched {
			out = append(out, x.Value)
		}
	}

	return out
}

// InsertDiff returns elements present now but not in the snapshot.
func (c *Collection) InsertDiff() ([]any, error) {
	if !c.hasSnapshot {
		return nil, ErrNoSnapshot
	}

	return c.difference(c.entries, c.snapshot), nil
}

// DeleteDiff returns snapshot elements no longer present.
func (c *Collection) DeleteDiff() ([]any, error) {
	if !c.hasSnapshot {
		return nil, ErrNoSnapshot
	}

	return c.difference(c.snapshot, c.entries), nil
}

// InsertEntries returns map entries whose key is new or whose value changed.
func (c *Collection) InsertEntries() ([]Entry, error) {
	if !c.hasSnapshot {
		return nil, ErrNoSnapshot
	}

	old := make(map[string]any, len(c.snapshot))
	for _, e := range c.snapshot {
		old[e.Key] = e.Value
	}

	var out []Entry

	for _, e := range c.entries {
		prev, ok := old[e.Key]
		if !ok || !c.equal(prev, e.Value) {
			out = append(out, e)
		}
	}

	return out, nil
}

// DeleteEntries returns snapshot map entries whose key is gone.
func (c *Collection) DeleteEntries() ([]Entry, error) {
	if !c.hasSnapshot {
		return nil, ErrNoSnapshot
	}

	current := make(map[string]bool, len(c.entries))
	for _, e := range c.entries {
		current[e.Key] = true
	}

	var out []Entry

	for _, e := range c.snapshot {
		if !current[e.Key] {
			out = append(out, e)
		}
	}

	return out, nil
}
