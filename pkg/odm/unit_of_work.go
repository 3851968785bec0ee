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

// Package odm keeps Go documents and database records consistent across a session.
//
// A UnitOfWork tracks documents in an identity map, snapshots what was loaded or
// written, computes change sets against those snapshots and commits them through a
// Persister in two transactional batches: inserts first, then updates, collection
// operations and deletes. Manager bundles a unit of work with hydration, loading and the
// HTTP binding.
package odm

import (
	"context"
	"errors"
	"reflect"
	"time"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/orientdb-odm/pkg/logger"
	"github.com/united-manufacturing-hub/orientdb-odm/pkg/metrics"
	"github.com/united-manufacturing-hub/orientdb-odm/pkg/odm/collection"
	"github.com/united-manufacturing-hub/orientdb-odm/pkg/odm/metadata"
	"github.com/united-manufacturing-hub/orientdb-odm/pkg/odm/rid"
)

var _ collection.Session = (*UnitOfWork)(nil)

// entry is the per-document bookkeeping of a unit of work.
type entry struct {
	doc      any
	class    *metadata.ClassMetadata
	life     *lifecycle
	snapshot map[string]any
	// owner is set for embedded sub-documents, which are written with their owner.
	owner any
	// ghost marks a placeholder that only carries its identity.
	ghost bool
}

type UnitOfWorkOption func(*UnitOfWork)

func WithEvents(ev *Events) UnitOfWorkOption {
	return func(u *UnitOfWork) { u.events = ev }
}

func WithUnitOfWorkLogger(log *zap.SugaredLogger) UnitOfWorkOption {
	return func(u *UnitOfWork) { u.log = log }
}

// WithCollectionLoader sets the loader handed to collections attached by the unit of work.
func WithCollectionLoader(l collection.Loader) UnitOfWorkOption {
	return func(u *UnitOfWork) { u.loader = l }
}

// UnitOfWork is single-goroutine. The only blocking call is Commit.
type UnitOfWork struct {
	factory   *metadata.Factory
	snap      snapshotter
	persister *Persister
	events    *Events
	loader    collection.Loader
	log       *zap.SugaredLogger

	entries     map[any]*entry
	order       []any
	identityMap map[string]any

	insertions []any
	inserting  map[any]bool
	deletions  []any
	deleting   map[any]bool

	changeSets          map[any]*ChangeSet
	dirtyOwners         map[any]bool
	collectionUpdates   []*collection.Collection
	collectionDeletions []*collection.Collection
	embeddedCleared     map[*collection.Collection]bool
}

func NewUnitOfWork(factory *metadata.Factory, persister *Persister, opts ...UnitOfWorkOption) *UnitOfWork {
	u := &UnitOfWork{
		factory:   factory,
		snap:      snapshotter{factory: factory},
		persister: persister,
	}

	for _, opt := range opts {
		opt(u)
	}

	if u.events == nil {
		u.events = NewEvents()
	}

	u.log = logger.OrNop(u.log)
	u.reset()

	return u
}

func (u *UnitOfWork) reset() {
	u.entries = make(map[any]*entry)
	u.order = nil
	u.identityMap = make(map[string]any)
	u.insertions = nil
	u.inserting = make(map[any]bool)
	u.deletions = nil
	u.deleting = make(map[any]bool)
	u.changeSets = make(map[any]*ChangeSet)
	u.dirtyOwners = make(map[any]bool)
	u.collectionUpdates = nil
	u.collectionDeletions = nil
	u.embeddedCleared = make(map[*collection.Collection]bool)
}

func isPointer(v any) bool {
	return v != nil && reflect.ValueOf(v).Kind() == reflect.Pointer
}

func (u *UnitOfWork) classOf(doc any) (*metadata.ClassMetadata, error) {
	class, err := u.factory.MetadataFor(doc)
	if err != nil {
		return nil, &InvalidArgumentError{Value: doc, Reason: err.Error()}
	}

	return class, nil
}

func (u *UnitOfWork) entryOf(doc any) *entry {
	if !isPointer(doc) {
		return nil
	}

	return u.entries[doc]
}

// State reports the lifecycle state of doc. Untracked documents with an identity are
// detached, untracked ones without are new.
func (u *UnitOfWork) State(doc any) State {
	if e := u.entryOf(doc); e != nil {
		return e.life.State()
	}

	class, err := u.factory.MetadataFor(doc)
	if err == nil && !class.Embedded && class.Identifier(doc) != "" {
		return StateDetached
	}

	return StateNew
}

func (u *UnitOfWork) track(doc any, class *metadata.ClassMetadata) *entry {
	e := &entry{doc: doc, class: class, life: newLifecycle()}
	u.entries[doc] = e
	u.order = append(u.order, doc)

	return e
}

// register puts doc into the identity map as managed. An empty id is only valid for
// embedded classes.
func (u *UnitOfWork) register(doc any, class *metadata.ClassMetadata, id string) (*entry, error) {
	if id != "" {
		normalized, err := rid.Normalize(id)
		if err != nil {
			return nil, &InvalidArgumentError{Value: doc, Reason: err.Error()}
		}

		if other, ok := u.identityMap[normalized]; ok && other != doc {
			return nil, sessionErr(ErrIdentityConflict, class, doc, "", "%s is already managed", normalized)
		}

		if class.Identifier(doc) != normalized {
			if err := class.SetIdentifierValue(doc, normalized); err != nil {
				return nil, err
			}
		}

		u.identityMap[normalized] = doc
	}

	e := u.entryOf(doc)
	if e == nil {
		e = u.track(doc, class)
	}

	if e.life.State() == StateNew {
		if err := e.life.fire(EventHydrate); err != nil {
			return nil, err
		}
	}

	return e, nil
}

// Persist schedules a new document for insertion, or starts managing a detached one.
// Links flagged cascade-persist and embedded values are followed.
func (u *UnitOfWork) Persist(doc any) error {
	return u.persist(doc, make(map[any]bool))
}

func (u *UnitOfWork) persist(doc any, visited map[any]bool) error {
	class, err := u.classOf(doc)
	if err != nil {
		return err
	}

	if class.Embedded {
		return &InvalidArgumentError{Value: doc, Reason: "embedded documents are persisted through their owner"}
	}

	if visited[doc] {
		return nil
	}

	visited[doc] = true

	switch u.State(doc) {
	case StateManaged:
	case StateRemoved:
		return sessionErr(ErrRemovedPersist, class, doc, "", "")
	case StateDetached:
		e, err := u.register(doc, class, class.Identifier(doc))
		if err != nil {
			return err
		}

		e.snapshot = make(map[string]any)
	default:
		if err := u.events.Dispatch(context.Background(), Event{Type: PrePersist, Document: doc, UnitOfWork: u}); err != nil {
			return err
		}

		e := u.entryOf(doc)
		if e == nil {
			e = u.track(doc, class)
		}

		if err := e.life.fire(EventPersist); err != nil {
			return err
		}

		u.scheduleInsert(doc)
	}

	return u.cascadePersist(doc, class, visited)
}

func (u *UnitOfWork) cascadePersist(doc any, class *metadata.ClassMetadata, visited map[any]bool) error {
	for _, fm := range class.Associations() {
		if fm.Kind.IsLink() && !fm.CascadePersist {
			continue
		}

		for _, target := range related(fm.Get(doc)) {
			tclass, err := u.factory.MetadataFor(target)
			if err != nil {
				continue
			}

			if !tclass.Embedded {
				if err := u.persist(target, visited); err != nil {
					return err
				}

				continue
			}

			if visited[target] {
				continue
			}

			visited[target] = true

			if err := u.cascadePersist(target, tclass, visited); err != nil {
				return err
			}
		}
	}

	return nil
}

// related lists the struct pointers held by an association value.
func related(v any) []any {
	rv := reflect.ValueOf(v)
	if metadata.IsNilValue(rv) {
		return nil
	}

	if c, ok := v.(*collection.Collection); ok {
		var out []any

		for _, e := range c.Peek() {
			if doc := addressable(e.Value); doc != nil {
				out = append(out, doc)
			}
		}

		return out
	}

	var out []any

	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			if doc := addressable(rv.Index(i).Interface()); doc != nil && !metadata.IsNilValue(rv.Index(i)) {
				out = append(out, doc)
			}
		}
	case reflect.Map:
		iter := rv.MapRange()
		for iter.Next() {
			if doc := addressable(iter.Value().Interface()); doc != nil && !metadata.IsNilValue(iter.Value()) {
				out = append(out, doc)
			}
		}
	default:
		if doc := addressable(v); doc != nil {
			out = append(out, doc)
		}
	}

	return out
}

func (u *UnitOfWork) scheduleInsert(doc any) {
	if u.inserting[doc] {
		return
	}

	u.inserting[doc] = true
	u.insertions = append(u.insertions, doc)
}

func (u *UnitOfWork) unscheduleInsert(doc any) {
	if !u.inserting[doc] {
		return
	}

	delete(u.inserting, doc)
	u.insertions = without(u.insertions, doc)
}

func without(docs []any, doc any) []any {
	out := docs[:0:0]

	for _, d := range docs {
		if d != doc {
			out = append(out, d)
		}
	}

	return out
}

// Remove schedules a managed document for deletion. A pending insert is simply dropped.
// Managed targets of cascade-remove links are removed too; lazy collections only
// contribute what is loaded.
func (u *UnitOfWork) Remove(doc any) error {
	return u.remove(doc, make(map[any]bool))
}

func (u *UnitOfWork) remove(doc any, visited map[any]bool) error {
	class, err := u.classOf(doc)
	if err != nil {
		return err
	}

	if visited[doc] {
		return nil
	}

	visited[doc] = true

	e := u.entryOf(doc)

	switch {
	case e != nil && e.owner != nil:
		return &InvalidArgumentError{Value: doc, Reason: "embedded documents are removed through their owner"}
	case u.State(doc) == StateRemoved:
		return nil
	case u.State(doc) != StateManaged:
		return sessionErr(ErrDetachedRemove, class, doc, "", "")
	}

	if err := u.events.Dispatch(context.Background(), Event{Type: PreRemove, Document: doc, UnitOfWork: u}); err != nil {
		return err
	}

	if u.inserting[doc] {
		u.unscheduleInsert(doc)
		u.detach(doc)
	} else {
		if err := e.life.fire(EventRemove); err != nil {
			return err
		}

		u.scheduleDelete(doc)
	}

	for _, fm := range class.Associations() {
		if !fm.Kind.IsLink() || !fm.CascadeRemove {
			continue
		}

		for _, target := range related(fm.Get(doc)) {
			if u.State(target) != StateManaged {
				continue
			}

			if err := u.remove(target, visited); err != nil {
				return err
			}
		}
	}

	return nil
}

func (u *UnitOfWork) scheduleDelete(doc any) {
	if u.deleting[doc] {
		return
	}

	u.deleting[doc] = true
	u.deletions = append(u.deletions, doc)
}

// RegisterManaged puts doc into the identity map with originalData (Go field name to
// value) as its snapshot. An empty id registers an embedded sub-document.
func (u *UnitOfWork) RegisterManaged(doc any, id string, originalData map[string]any) error {
	class, err := u.classOf(doc)
	if err != nil {
		return err
	}

	if id == "" && !class.Embedded {
		return &InvalidArgumentError{Value: doc, Reason: "document classes are registered with an identity"}
	}

	snapshot := make(map[string]any, len(originalData))

	for name, v := range originalData {
		fm, ok := class.Field(name)
		if !ok {
			return &InvalidArgumentError{Value: doc, Reason: "unknown field " + name}
		}

		s, err := u.snap.value(fm, v)
		if err != nil {
			return err
		}

		snapshot[name] = s
	}

	e, err := u.register(doc, class, id)
	if err != nil {
		return err
	}

	e.snapshot = snapshot

	return nil
}

// registerEmbedded tracks the embedded documents held by owner's fields.
func (u *UnitOfWork) registerEmbedded(owner any, class *metadata.ClassMetadata) {
	for _, fm := range class.Fields() {
		if !fm.Kind.IsEmbedded() {
			continue
		}

		v := fm.Get(owner)
		if reflect.ValueOf(v).Kind() != reflect.Pointer && fm.GoType.Kind() != reflect.Slice && fm.GoType.Kind() != reflect.Map && fm.GoType != collectionPtrType {
			continue
		}

		for _, sub := range related(v) {
			sclass, err := u.factory.MetadataFor(sub)
			if err != nil || !sclass.Embedded || u.entryOf(sub) != nil {
				continue
			}

			e, err := u.register(sub, sclass, "")
			if err != nil {
				continue
			}

			e.owner = owner
			if s, err := u.snap.document(sub, sclass); err == nil {
				e.snapshot = s
			}

			u.registerEmbedded(sub, sclass)
		}
	}
}

// takeSnapshot replaces the baseline of doc with its current values and attaches its
// collections to the session.
func (u *UnitOfWork) takeSnapshot(doc any) error {
	e := u.entryOf(doc)
	if e == nil {
		return nil
	}

	return u.snapshotFields(e, e.class.Fields())
}

func (u *UnitOfWork) snapshotFields(e *entry, fields []*metadata.FieldMapping) error {
	if e.snapshot == nil {
		e.snapshot = make(map[string]any, len(fields))
	}

	for _, fm := range fields {
		v := fm.Get(e.doc)

		if c, ok := v.(*collection.Collection); ok && c != nil {
			if c.Owner() != e.doc || !c.IsAttached() {
				c.Attach(e.doc, fm, u, u.loader)
			}

			if c.IsInitialized() {
				c.TakeSnapshot()
			}

			delete(u.embeddedCleared, c)
		}

		s, err := u.snap.value(fm, v)
		if err != nil {
			return err
		}

		e.snapshot[fm.Name] = s
	}

	u.registerEmbedded(e.doc, e.class)

	return nil
}

// ComputeChangeSets computes change sets of all pending inserts and managed documents.
// Removed documents and unloaded placeholders are skipped.
func (u *UnitOfWork) ComputeChangeSets() error {
	u.changeSets = make(map[any]*ChangeSet)
	u.collectionUpdates = nil

	for _, doc := range append([]any(nil), u.order...) {
		if u.inserting[doc] {
			continue
		}

		if err := u.computeChangeSet(doc); err != nil {
			return err
		}
	}

	// Cascading may schedule further inserts while the loop runs.
	for i := 0; i < len(u.insertions); i++ {
		if err := u.computeChangeSet(u.insertions[i]); err != nil {
			return err
		}
	}

	return nil
}

// ComputeSingleDocumentChangeSet recomputes the change set of one managed document.
func (u *UnitOfWork) ComputeSingleDocumentChangeSet(doc any) error {
	class, err := u.classOf(doc)
	if err != nil {
		return err
	}

	if u.State(doc) != StateManaged {
		return sessionErr(ErrNotManaged, class, doc, "", "")
	}

	delete(u.changeSets, doc)

	return u.computeChangeSet(doc)
}

func (u *UnitOfWork) computeChangeSet(doc any) error {
	e := u.entryOf(doc)
	if e == nil || e.owner != nil || e.ghost || e.life.State() != StateManaged {
		return nil
	}

	cs := newChangeSet(doc, e.class)

	for _, fm := range e.class.Fields() {
		current := fm.Get(doc)

		if fm.IsAssociation() {
			if err := u.cascadeNew(doc, e.class, fm, current); err != nil {
				return err
			}
		}

		old, hasOld := e.snapshot[fm.Name]

		if fm.GoType == collectionPtrType {
			u.collectionChange(cs, fm, old, hasOld, current.(*collection.Collection))

			continue
		}

		now, err := u.snap.value(fm, current)
		if err != nil {
			return err
		}

		switch {
		case !hasOld:
			if now != nil {
				cs.add(fm.Name, nil, current)
			}
		case !sameValue(old, now):
			cs.add(fm.Name, old, current)
		}
	}

	if !cs.IsEmpty() {
		u.changeSets[doc] = cs
	}

	return nil
}

func (u *UnitOfWork) collectionChange(cs *ChangeSet, fm *metadata.FieldMapping, old any, hasOld bool, c *collection.Collection) {
	oldC, _ := old.(*collection.Collection)

	switch {
	case !hasOld:
		if c != nil {
			cs.add(fm.Name, nil, c)
		}
	case c != oldC:
		var prev any
		if oldC != nil {
			prev = oldC
		}

		if c == nil {
			cs.add(fm.Name, prev, nil)
		} else {
			cs.add(fm.Name, prev, c)
		}
	case c == nil || !fm.IsOwning():
	case !c.IsDirty() && !u.embeddedCleared[c]:
	case fm.Kind.IsEmbedded():
		cs.add(fm.Name, c.Snapshot(), c)
	default:
		u.scheduleCollectionUpdate(c)
	}
}

func (u *UnitOfWork) scheduleCollectionUpdate(c *collection.Collection) {
	for _, existing := range u.collectionUpdates {
		if existing == c {
			return
		}
	}

	u.collectionUpdates = append(u.collectionUpdates, c)
}

// cascadeNew persists new documents reachable through cascade-persist links and fails for
// new documents behind links that do not cascade.
func (u *UnitOfWork) cascadeNew(doc any, class *metadata.ClassMetadata, fm *metadata.FieldMapping, v any) error {
	for _, target := range related(v) {
		tclass, err := u.factory.MetadataFor(target)
		if err != nil {
			continue
		}

		if tclass.Embedded {
			for _, inner := range tclass.Fields() {
				if !inner.IsAssociation() {
					continue
				}

				if err := u.cascadeNew(target, tclass, inner, inner.Get(target)); err != nil {
					return err
				}
			}

			continue
		}

		if u.State(target) != StateNew {
			continue
		}

		if !fm.CascadePersist {
			return sessionErr(ErrNotCascaded, class, doc, fm.Name, "target %s", tclass.Name)
		}

		if err := u.persist(target, make(map[any]bool)); err != nil {
			return err
		}
	}

	return nil
}

// DocumentChangeSet returns the last computed change set of doc.
func (u *UnitOfWork) DocumentChangeSet(doc any) (*ChangeSet, bool) {
	if !isPointer(doc) {
		return nil, false
	}

	cs, ok := u.changeSets[doc]

	return cs, ok
}

// closure lists doc and everything reachable through cascade-persist links and embedded
// values.
func (u *UnitOfWork) closure(doc any) map[any]bool {
	scope := make(map[any]bool)
	stack := []any{doc}

	for len(stack) > 0 {
		d := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if scope[d] {
			continue
		}

		scope[d] = true

		class, err := u.factory.MetadataFor(d)
		if err != nil {
			continue
		}

		for _, fm := range class.Associations() {
			if fm.Kind.IsLink() && !fm.CascadePersist {
				continue
			}

			stack = append(stack, related(fm.Get(d))...)
		}
	}

	return scope
}

// Commit writes pending changes. A nil doc commits the whole session, otherwise only doc
// and its cascade-persist and embedded closure. On error the queues stay intact and
// Commit can be retried.
func (u *UnitOfWork) Commit(ctx context.Context, doc any) error {
	start := time.Now()
	scope := metrics.ScopeSession
	inScope := func(any) bool { return true }

	if doc != nil {
		if _, err := u.classOf(doc); err != nil {
			return err
		}

		closure := u.closure(doc)
		inScope = func(d any) bool {
			if e := u.entryOf(d); e != nil && e.owner != nil {
				return closure[e.owner]
			}

			return closure[d]
		}
		scope = metrics.ScopeDocument
	}

	if err := u.events.Dispatch(ctx, Event{Type: PreFlush, UnitOfWork: u}); err != nil {
		return err
	}

	if err := u.ComputeChangeSets(); err != nil {
		return err
	}

	if !u.hasWork(inScope) {
		u.log.Debugw("Nothing to commit", "scope", scope)

		return nil
	}

	if err := u.events.Dispatch(ctx, Event{Type: OnFlush, UnitOfWork: u}); err != nil {
		return err
	}

	var inserts []any

	for _, d := range u.insertions {
		if inScope(d) {
			inserts = append(inserts, d)
		}
	}

	if len(inserts) > 0 {
		if err := u.persister.executeInserts(ctx, u, inserts); err != nil {
			return err
		}

		if err := u.ComputeChangeSets(); err != nil {
			return err
		}
	}

	if err := u.persister.executeUpdates(ctx, u, inScope); err != nil {
		var lockErr *OptimisticLockError
		if errors.As(err, &lockErr) && lockErr.Cause == nil {
			// Only the stale updates were skipped; their documents keep their change sets.
			pending := make(map[any]*ChangeSet, len(lockErr.Documents))
			for _, d := range lockErr.Documents {
				pending[d] = u.changeSets[d]
			}

			u.finish(ctx, inScope)

			for d, cs := range pending {
				if cs != nil {
					u.changeSets[d] = cs
				}
			}
		}

		return err
	}

	u.finish(ctx, inScope)

	metrics.ObserveCommitTime(scope, time.Since(start))
	metrics.SetManagedDocuments(len(u.identityMap))

	u.log.Infow("Committed unit of work",
		"scope", scope, "inserted", len(inserts), "managed", len(u.identityMap), "duration", time.Since(start))

	if err := u.events.Dispatch(ctx, Event{Type: PostFlush, UnitOfWork: u}); err != nil {
		u.log.Warnw("Post flush listener failed", "error", err)
	}

	return nil
}

func (u *UnitOfWork) hasWork(inScope func(any) bool) bool {
	for _, d := range u.insertions {
		if inScope(d) {
			return true
		}
	}

	for _, d := range u.deletions {
		if inScope(d) {
			return true
		}
	}

	for d, cs := range u.changeSets {
		if !cs.IsEmpty() && inScope(d) {
			return true
		}
	}

	for _, c := range append(append([]*collection.Collection(nil), u.collectionUpdates...), u.collectionDeletions...) {
		if inScope(c.Owner()) {
			return true
		}
	}

	return false
}

// finish clears the committed part of the queues and purges deleted documents.
func (u *UnitOfWork) finish(ctx context.Context, inScope func(any) bool) {
	var remaining []any

	for _, d := range u.deletions {
		if !inScope(d) {
			remaining = append(remaining, d)

			continue
		}

		delete(u.deleting, d)

		if e := u.entryOf(d); e != nil && e.life.Can(EventPurge) {
			if err := e.life.fire(EventPurge); err != nil {
				u.log.Debugw("Purge transition failed", "error", err)
			}
		}

		u.detach(d)

		if err := u.events.Dispatch(ctx, Event{Type: PostRemove, Document: d, UnitOfWork: u}); err != nil {
			u.log.Warnw("Post remove listener failed", "error", err)
		}
	}

	u.deletions = remaining

	keep := func(cs []*collection.Collection) []*collection.Collection {
		var out []*collection.Collection

		for _, c := range cs {
			if !inScope(c.Owner()) {
				out = append(out, c)
			}
		}

		return out
	}

	u.collectionUpdates = keep(u.collectionUpdates)
	u.collectionDeletions = keep(u.collectionDeletions)

	for d := range u.changeSets {
		if inScope(d) {
			delete(u.changeSets, d)
		}
	}

	for d := range u.dirtyOwners {
		if inScope(d) {
			delete(u.dirtyOwners, d)
		}
	}
}

// Clear detaches every document, or only those of class.
func (u *UnitOfWork) Clear(class string) {
	if class == "" {
		u.reset()

		return
	}

	for _, doc := range append([]any(nil), u.order...) {
		if e := u.entryOf(doc); e != nil && e.owner == nil && e.class.Name == class {
			u.detach(doc)
		}
	}
}

// Detach stops tracking doc and its embedded sub-documents. Pending work for it is dropped.
func (u *UnitOfWork) Detach(doc any) {
	u.detach(doc)
}

func (u *UnitOfWork) detach(doc any) {
	e := u.entryOf(doc)
	if e == nil {
		return
	}

	if e.life.Can(EventDetach) {
		if err := e.life.fire(EventDetach); err != nil {
			u.log.Debugw("Detach transition failed", "error", err)
		}
	}

	delete(u.entries, doc)
	u.order = without(u.order, doc)

	if id := e.class.Identifier(doc); id != "" && u.identityMap[id] == doc {
		delete(u.identityMap, id)
	}

	u.unscheduleInsert(doc)

	if u.deleting[doc] {
		delete(u.deleting, doc)
		u.deletions = without(u.deletions, doc)
	}

	delete(u.changeSets, doc)
	delete(u.dirtyOwners, doc)

	drop := func(cs []*collection.Collection) []*collection.Collection {
		var out []*collection.Collection

		for _, c := range cs {
			if c.Owner() != doc {
				out = append(out, c)
			}
		}

		return out
	}

	u.collectionUpdates = drop(u.collectionUpdates)
	u.collectionDeletions = drop(u.collectionDeletions)

	for _, d := range append([]any(nil), u.order...) {
		if sub := u.entries[d]; sub != nil && sub.owner == doc {
			u.detach(d)
		}
	}
}

func (u *UnitOfWork) IsScheduledForInsert(doc any) bool {
	return isPointer(doc) && u.inserting[doc]
}

// IsScheduledForUpdate reports a non-empty last change set or pending collection work.
func (u *UnitOfWork) IsScheduledForUpdate(doc any) bool {
	if !isPointer(doc) || u.inserting[doc] || u.State(doc) != StateManaged {
		return false
	}

	if cs, ok := u.changeSets[doc]; ok && !cs.IsEmpty() {
		return true
	}

	for _, c := range u.collectionUpdates {
		if c.Owner() == doc {
			return true
		}
	}

	for _, c := range u.collectionDeletions {
		if c.Owner() == doc {
			return true
		}
	}

	return u.dirtyOwners[doc]
}

func (u *UnitOfWork) IsScheduledForDelete(doc any) bool {
	return isPointer(doc) && u.deleting[doc]
}

func (u *UnitOfWork) IsInIdentityMap(doc any) bool {
	e := u.entryOf(doc)
	if e == nil {
		return false
	}

	id := e.class.Identifier(doc)

	return id != "" && u.identityMap[id] == doc
}

// TryGetByID returns the managed document registered under id.
func (u *UnitOfWork) TryGetByID(id string) (any, bool) {
	normalized, err := rid.Normalize(id)
	if err != nil {
		return nil, false
	}

	doc, ok := u.identityMap[normalized]

	return doc, ok
}

// Size is the number of documents in the identity map.
func (u *UnitOfWork) Size() int {
	return len(u.identityMap)
}

// IsGhost reports whether doc is a placeholder that was never loaded.
func (u *UnitOfWork) IsGhost(doc any) bool {
	e := u.entryOf(doc)

	return e != nil && e.ghost
}

// reference returns the managed document for id, creating a placeholder of class when
// the identity is unknown.
func (u *UnitOfWork) reference(class *metadata.ClassMetadata, id string) (any, error) {
	if doc, ok := u.TryGetByID(id); ok {
		return doc, nil
	}

	doc := class.NewInstance()

	e, err := u.register(doc, class, id)
	if err != nil {
		return nil, err
	}

	e.ghost = true

	return doc, nil
}

// ScheduleCollectionDeletion records that a cleared collection must be emptied remotely.
func (u *UnitOfWork) ScheduleCollectionDeletion(c *collection.Collection) {
	if c.Mapping() != nil && c.Mapping().Kind.IsEmbedded() {
		u.embeddedCleared[c] = true

		return
	}

	owner := c.Owner()

	e := u.entryOf(owner)
	if e == nil || e.owner != nil || u.inserting[owner] {
		return
	}

	for _, existing := range u.collectionDeletions {
		if existing == c {
			return
		}
	}

	u.collectionDeletions = append(u.collectionDeletions, c)
}

// ScheduleOrphanRemoval deletes a document dropped from an orphan-removal collection.
func (u *UnitOfWork) ScheduleOrphanRemoval(doc any) {
	e := u.entryOf(doc)
	if e == nil {
		return
	}

	switch {
	case e.owner != nil:
		u.detach(doc)
	case u.inserting[doc]:
		u.detach(doc)
	case e.life.State() == StateManaged:
		if err := e.life.fire(EventRemove); err != nil {
			u.log.Debugw("Orphan removal transition failed", "error", err)

			return
		}

		u.scheduleDelete(doc)
	}
}

// MarkDirty flags an owner whose collection changed.
func (u *UnitOfWork) MarkDirty(owner any) {
	if u.entryOf(owner) != nil {
		u.dirtyOwners[owner] = true
	}
}
