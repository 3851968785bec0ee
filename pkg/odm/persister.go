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
	"errors"
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/orientdb-odm/pkg/logger"
	"github.com/united-manufacturing-hub/orientdb-odm/pkg/metrics"
	"github.com/united-manufacturing-hub/orientdb-odm/pkg/odm/binding"
	"github.com/united-manufacturing-hub/orientdb-odm/pkg/odm/collection"
	"github.com/united-manufacturing-hub/orientdb-odm/pkg/odm/commitorder"
	"github.com/united-manufacturing-hub/orientdb-odm/pkg/odm/metadata"
	"github.com/united-manufacturing-hub/orientdb-odm/pkg/odm/query"
	"github.com/united-manufacturing-hub/orientdb-odm/pkg/odm/rid"
	"github.com/united-manufacturing-hub/orientdb-odm/pkg/odm/types"
	"github.com/united-manufacturing-hub/orientdb-odm/pkg/sentry"
)

// Binding is the part of the HTTP binding the session uses.
type Binding interface {
	Batch(ctx context.Context, req binding.BatchRequest) (*binding.BatchResult, error)
	LoadDocument(ctx context.Context, id rid.RID, fetchPlan string) (map[string]any, error)
	Query(ctx context.Context, sql string) ([]map[string]any, error)
}

var _ Binding = (*binding.Client)(nil)

// PersisterConfig selects the statement dialect.
type PersisterConfig struct {
	OptimisticLocking bool
	LockRecords       bool
	ServerVersion     string
}

// Persister turns change sets into batch scripts and applies the results to the session.
type Persister struct {
	binding  Binding
	registry *types.Registry
	order    *commitorder.Calculator
	cfg      PersisterConfig
	log      *zap.SugaredLogger
}

func NewPersister(b Binding, registry *types.Registry, cfg PersisterConfig, log *zap.SugaredLogger) *Persister {
	if registry == nil {
		registry = types.NewRegistry()
	}

	return &Persister{
		binding:  b,
		registry: registry,
		order:    commitorder.NewCalculator(),
		cfg:      cfg,
		log:      logger.OrNop(log),
	}
}

func (p *Persister) newWriter() *query.Writer {
	return query.NewWriter(query.WithServerVersion(p.cfg.ServerVersion))
}

// renderer converts field values into script values. vars holds the documents already
// inserted earlier in the same script.
type renderer struct {
	p        *Persister
	u        *UnitOfWork
	vars     map[any]query.Variable
	deferral bool
}

// errDeferred marks a value that links to a document inserted later in the script.
var errDeferred = errors.New("deferred")

func (r renderer) field(class *metadata.ClassMetadata, doc any, fm *metadata.FieldMapping, v any) (any, error) {
	rv := reflect.ValueOf(v)
	if metadata.IsNilValue(rv) {
		return nil, nil
	}

	switch {
	case fm.Kind == metadata.None:
		return r.scalar(fm, v)
	case fm.Kind == metadata.Link:
		return r.link(class, doc, fm, v)
	case fm.Kind.IsLink():
		return r.links(class, doc, fm, v)
	case fm.Kind == metadata.Embed:
		return r.embedded(fm, v)
	}

	entries := entriesOf(v)

	if fm.Kind.IsMap() {
		out := make(map[string]any, len(entries))

		for _, e := range entries {
			val, err := r.embedded(fm, e.Value)
			if err != nil {
				return nil, err
			}

			out[e.Key] = val
		}

		return out, nil
	}

	out := make([]any, 0, len(entries))

	for _, e := range entries {
		val, err := r.embedded(fm, e.Value)
		if err != nil {
			return nil, err
		}

		out = append(out, val)
	}

	return out, nil
}

func (r renderer) scalar(fm *metadata.FieldMapping, v any) (any, error) {
	if fm.Type == "" {
		return v, nil
	}

	t, err := r.p.registry.Lookup(fm.Type)
	if err != nil {
		return nil, fmt.Errorf("field %s: %w", fm.Name, err)
	}

	out, err := t.ToDatabase(v)
	if err != nil {
		return nil, fmt.Errorf("field %s: %w", fm.Name, err)
	}

	if s, ok := out.(string); ok && fm.Type == types.Link {
		return query.Link(s), nil
	}

	return out, nil
}

// link renders a reference as a RID, or as the variable of a target inserted earlier in
// the same script.
func (r renderer) link(class *metadata.ClassMetadata, doc any, fm *metadata.FieldMapping, target any) (any, error) {
	switch t := target.(type) {
	case rid.RID:
		return query.Link(t.String()), nil
	case string:
		return query.Link(t), nil
	case query.Link:
		return t, nil
	}

	tclass, err := r.u.factory.MetadataFor(target)
	if err != nil {
		return nil, fmt.Errorf("field %s: %w", fm.Name, err)
	}

	if id := tclass.Identifier(target); id != "" {
		return query.Link(id), nil
	}

	if v, ok := r.vars[target]; ok {
		return v, nil
	}

	if r.deferral && r.u.inserting[target] {
		return nil, errDeferred
	}

	return nil, sessionErr(ErrUnresolvedLink, class, doc, fm.Name, "target %s has no identity", tclass.Name)
}

func (r renderer) links(class *metadata.ClassMetadata, doc any, fm *metadata.FieldMapping, v any) (any, error) {
	entries := entriesOf(v)

	if fm.Kind.IsMap() {
		out := make(query.LinkMap, len(entries))

		for _, e := range entries {
			ref, err := r.link(class, doc, fm, e.Value)
			if err != nil {
				return nil, err
			}

			out[e.Key] = ref
		}

		return out, nil
	}

	out := make(query.LinkList, 0, len(entries))

	for _, e := range entries {
		ref, err := r.link(class, doc, fm, e.Value)
		if err != nil {
			return nil, err
		}

		out = append(out, ref)
	}

	return out, nil
}

// embedded renders an inline document. Variables cannot appear inside JSON, so a link to
// a pending insert defers the whole field.
func (r renderer) embedded(fm *metadata.FieldMapping, v any) (any, error) {
	rv := reflect.ValueOf(v)
	if metadata.IsNilValue(rv) {
		return nil, nil
	}

	doc := addressable(v)
	if doc == nil {
		return v, nil
	}

	class, err := r.u.factory.MetadataFor(doc)
	if err != nil {
		if fm.TargetClass == "" {
			return v, nil
		}

		return nil, fmt.Errorf("field %s: %w", fm.Name, err)
	}

	inner := renderer{p: r.p, u: r.u, deferral: r.deferral}
	fields := make(map[string]any, len(class.Fields()))

	for _, f := range class.Fields() {
		val := f.Get(doc)
		if metadata.IsNilValue(reflect.ValueOf(val)) {
			continue
		}

		out, err := inner.field(class, doc, f, val)
		if err != nil {
			return nil, err
		}

		fields[f.StorageName] = out
	}

	return query.Embedded{Class: class.Name, Fields: fields}, nil
}

// entriesOf lists the elements of a collection, slice or map. Map keys are sorted.
func entriesOf(v any) []collection.Entry {
	if c, ok := v.(*collection.Collection); ok {
		return c.Peek()
	}

	rv := reflect.ValueOf(v)

	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]collection.Entry, rv.Len())
		for i := range out {
			out[i] = collection.Entry{Value: rv.Index(i).Interface()}
		}

		return out
	case reflect.Map:
		out := make([]collection.Entry, 0, rv.Len())

		iter := rv.MapRange()
		for iter.Next() {
			out = append(out, collection.Entry{Key: fmt.Sprint(iter.Key().Interface()), Value: iter.Value().Interface()})
		}

		sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })

		return out
	}

	return []collection.Entry{{Value: v}}
}

// assignments renders the change set of doc. Deferred fields are skipped and reported
// by Go field name.
func (r renderer) assignments(class *metadata.ClassMetadata, doc any, cs *ChangeSet) ([]query.Assignment, []*metadata.FieldMapping, error) {
	var (
		out     []query.Assignment
		written []*metadata.FieldMapping
	)

	for _, name := range cs.Fields() {
		fm, _ := class.Field(name)
		mf, _ := cs.Field(name)

		val, err := r.field(class, doc, fm, mf.New)
		if errors.Is(err, errDeferred) {
			r.p.log.Debugw("Deferring field to the update batch", "class", class.Name, "field", name)

			continue
		}

		if err != nil {
			return nil, nil, err
		}

		out = append(out, query.Assignment{Field: fm.StorageName, Value: val})
		written = append(written, fm)
	}

	return out, written, nil
}

// executeInserts writes all pending inserts in commit order as one batch and registers
// the returned identities.
func (p *Persister) executeInserts(ctx context.Context, u *UnitOfWork, docs []any) error {
	start := time.Now()

	var involved []*metadata.ClassMetadata

	seen := make(map[*metadata.ClassMetadata]bool)

	for _, cm := range u.factory.Classes() {
		for _, d := range docs {
			if e := u.entryOf(d); e != nil && e.class == cm && !seen[cm] {
				seen[cm] = true
				involved = append(involved, cm)
			}
		}
	}

	ordered, err := p.order.Order(involved)
	if err != nil {
		return err
	}

	rank := make(map[*metadata.ClassMetadata]int, len(ordered))
	for i, cm := range ordered {
		rank[cm] = i
	}

	sorted := append([]any(nil), docs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return rank[u.entryOf(sorted[i]).class] < rank[u.entryOf(sorted[j]).class]
	})

	w := p.newWriter()
	r := renderer{p: p, u: u, vars: make(map[any]query.Variable, len(sorted)), deferral: true}

	vars := make([]query.Variable, 0, len(sorted))
	written := make(map[any][]*metadata.FieldMapping, len(sorted))
	classes := make([]string, 0, len(ordered))

	for _, cm := range ordered {
		classes = append(classes, cm.Name)
	}

	for _, doc := range sorted {
		class := u.entryOf(doc).class

		cs := u.changeSets[doc]
		if cs == nil {
			cs = newChangeSet(doc, class)
		}

		assignments, fields, err := r.assignments(class, doc, cs)
		if err != nil {
			return err
		}

		v, err := w.AddInsert(class.Name, assignments)
		if err != nil {
			return sessionErr(err, class, doc, "", "")
		}

		r.vars[doc] = v
		vars = append(vars, v)
		written[doc] = fields
	}

	w.AddReturnMap(vars)
	metrics.AddStatements("insert", len(sorted))

	p.log.Debugw("Executing insert batch", "documents", len(sorted), "script", w.String())

	res, err := p.binding.Batch(binding.WithPhase(ctx, metrics.PhaseInsert), w.Script())
	if err != nil {
		return fmt.Errorf("insert batch failed: %w", err)
	}

	ids, err := parseInsertResult(res, vars, classes)
	if err != nil {
		metrics.IncErrorCount(metrics.ComponentPersister)
		sentry.ReportIssueWithContext(err, sentry.IssueTypeError, p.log, map[string]any{
			"classes":    classes,
			"statements": w.Len(),
		})

		return err
	}

	for i, doc := range sorted {
		e := u.entryOf(doc)

		if _, err := u.register(doc, e.class, ids[i]); err != nil {
			return err
		}

		if e.class.HasVersion() {
			e.class.SetVersionValue(doc, 1)
		}

		u.unscheduleInsert(doc)

		// Only written fields enter the snapshot, deferred ones surface as updates.
		e.snapshot = make(map[string]any, len(written[doc]))
		if err := u.snapshotFields(e, written[doc]); err != nil {
			return err
		}

		if err := u.events.Dispatch(ctx, Event{Type: PostPersist, Document: doc, UnitOfWork: u}); err != nil {
			p.log.Warnw("Post persist listener failed", "error", err)
		}
	}

	p.log.Debugw("Inserted documents", "documents", len(sorted), "duration", time.Since(start))

	return nil
}

// parseInsertResult expects the result to be one map from insert variable to RID.
func parseInsertResult(res *binding.BatchResult, vars []query.Variable, classes []string) ([]string, error) {
	protocolErr := func(expected string) error {
		return &ProtocolError{Classes: classes, Expected: expected, Received: summarize(res)}
	}

	if res == nil || len(res.Result) != 1 {
		return nil, protocolErr(fmt.Sprintf("a single result holding %d identities", len(vars)))
	}

	m, ok := res.Result[0].(map[string]any)
	if !ok || len(m) != len(vars) {
		return nil, protocolErr(fmt.Sprintf("a map of %d identities", len(vars)))
	}

	ids := make([]string, len(vars))

	for i, v := range vars {
		id, ok := identityFrom(m[string(v)])
		if !ok {
			return nil, protocolErr(fmt.Sprintf("a persistent identity for %s", v))
		}

		ids[i] = id
	}

	return ids, nil
}

func identityFrom(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		r, err := rid.Parse(val)
		if err != nil || r.IsTemporary() {
			return "", false
		}

		return r.String(), true
	case []any:
		if len(val) == 1 {
			return identityFrom(val[0])
		}
	case map[string]any:
		return identityFrom(val[metadata.StorageRID])
	}

	return "", false
}

func summarize(res *binding.BatchResult) string {
	if res == nil {
		return "nothing"
	}

	data, err := json.Marshal(res.Result)
	if err != nil {
		return fmt.Sprintf("%T", res.Result)
	}

	if len(data) > 256 {
		return string(data[:256]) + "..."
	}

	return string(data)
}

// executeUpdates writes updates, collection operations and deletes of the documents in
// scope as one batch.
func (p *Persister) executeUpdates(ctx context.Context, u *UnitOfWork, inScope func(any) bool) error {
	w := p.newWriter()
	r := renderer{p: p, u: u}

	var (
		tracked     []query.Variable
		trackedDocs []any
		updated     []any
		collections []*collection.Collection
		owners      []any
		collOps     int
		deleted     int
	)

	// touch records an owner whose record a collection statement modifies.
	touch := func(owner any) {
		for _, o := range owners {
			if o == owner {
				return
			}
		}

		owners = append(owners, owner)
	}

	for _, doc := range u.order {
		cs := u.changeSets[doc]
		if cs.IsEmpty() || !inScope(doc) || u.inserting[doc] || u.State(doc) != StateManaged {
			continue
		}

		class := cs.Class()

		if err := u.events.Dispatch(ctx, Event{Type: PreUpdate, Document: doc, ChangeSet: cs, UnitOfWork: u}); err != nil {
			return err
		}

		assignments, _, err := r.assignments(class, doc, cs)
		if err != nil {
			return err
		}

		opts := query.UpdateOptions{Lock: p.cfg.LockRecords}
		if p.cfg.OptimisticLocking && class.HasVersion() {
			version := class.Version(doc)
			opts.Version = &version
		}

		v, err := w.AddUpdate(query.Link(class.Identifier(doc)), assignments, opts)
		if err != nil {
			return sessionErr(err, class, doc, "", "")
		}

		if opts.Version != nil {
			tracked = append(tracked, v)
			trackedDocs = append(trackedDocs, doc)
		}

		updated = append(updated, doc)
	}

	for _, c := range u.collectionDeletions {
		target, ok := p.collectionTarget(u, c, inScope)
		if !ok {
			continue
		}

		if err := w.AddCollectionDelete(target, c.Mapping().StorageName, c.Kind() == collection.Map); err != nil {
			return err
		}

		collections = append(collections, c)
		collOps++
		touch(c.Owner())
	}

	for _, c := range u.collectionUpdates {
		target, ok := p.collectionTarget(u, c, inScope)
		if !ok {
			continue
		}

		// Elements added before the first load are diffed against the loaded state.
		if !c.IsInitialized() {
			if err := c.Initialize(ctx); err != nil {
				return err
			}
		}

		before := w.Len()
		if err := p.collectionDiff(w, r, u, c, target); err != nil {
			return err
		}

		collections = append(collections, c)

		if w.Len() > before {
			collOps += w.Len() - before
			touch(c.Owner())
		}
	}

	for _, doc := range u.deletions {
		if !inScope(doc) {
			continue
		}

		class := u.entryOf(doc).class

		id := class.Identifier(doc)
		if id == "" {
			continue
		}

		if err := w.AddDelete(query.Link(id)); err != nil {
			return err
		}

		deleted++
	}

	if w.IsEmpty() {
		return nil
	}

	if len(tracked) > 0 {
		w.AddReturnList(tracked)
	}

	metrics.AddStatements("update", len(updated))
	metrics.AddStatements("collection", collOps)
	metrics.AddStatements("delete", deleted)

	p.log.Debugw("Executing update batch", "updates", len(updated), "collections", collOps, "deletes", deleted, "script", w.String())

	res, err := p.binding.Batch(binding.WithPhase(ctx, metrics.PhaseUpdate), w.Script())
	if err != nil {
		if errors.Is(err, binding.ErrConflict) {
			docs := trackedDocs
			if len(docs) == 0 {
				docs = updated
			}

			p.log.Warnw("Optimistic lock conflict", "documents", len(docs), "error", err)

			return &OptimisticLockError{Documents: docs, Cause: err}
		}

		return fmt.Errorf("update batch failed: %w", err)
	}

	var stale []any

	if len(tracked) > 0 {
		counts, ok := parseCounts(res, len(tracked))
		if !ok {
			perr := &ProtocolError{Expected: fmt.Sprintf("%d update counts", len(tracked)), Received: summarize(res)}
			metrics.IncErrorCount(metrics.ComponentPersister)
			sentry.ReportIssue(perr, sentry.IssueTypeError, p.log)

			return perr
		}

		for i, n := range counts {
			if n == 0 {
				stale = append(stale, trackedDocs[i])
			}
		}
	}

	// The transaction committed every statement except the stale updates, which matched
	// no record. The rest is applied to the session before the conflict is reported.
	if err := p.applyUpdates(ctx, u, updated, owners, collections, stale); err != nil {
		return err
	}

	if len(stale) > 0 {
		p.log.Warnw("Optimistic lock conflict", "documents", len(stale), "applied", len(updated)-len(stale))

		return &OptimisticLockError{Documents: stale}
	}

	return nil
}

// applyUpdates bumps the version of every record the script modified once and retakes
// snapshots. Documents in stale keep their version and snapshot.
func (p *Persister) applyUpdates(ctx context.Context, u *UnitOfWork, updated, owners []any, collections []*collection.Collection, stale []any) error {
	isStale := func(doc any) bool {
		for _, s := range stale {
			if s == doc {
				return true
			}
		}

		return false
	}

	bumped := make(map[any]bool, len(updated)+len(owners))

	bump := func(doc any) {
		if bumped[doc] || isStale(doc) {
			return
		}

		bumped[doc] = true

		if e := u.entryOf(doc); e != nil && e.class.HasVersion() {
			e.class.SetVersionValue(doc, e.class.Version(doc)+1)
		}
	}

	for _, doc := range updated {
		if isStale(doc) {
			continue
		}

		bump(doc)

		if err := u.takeSnapshot(doc); err != nil {
			return err
		}

		if err := u.events.Dispatch(ctx, Event{Type: PostUpdate, Document: doc, UnitOfWork: u}); err != nil {
			p.log.Warnw("Post update listener failed", "error", err)
		}
	}

	for _, owner := range owners {
		bump(owner)
	}

	for _, c := range collections {
		c.TakeSnapshot()
	}

	return nil
}

// collectionTarget returns the owner link of a collection with pending work in scope.
func (p *Persister) collectionTarget(u *UnitOfWork, c *collection.Collection, inScope func(any) bool) (query.Link, bool) {
	owner := c.Owner()
	if !inScope(owner) || u.State(owner) != StateManaged || c.Mapping() == nil {
		return "", false
	}

	class := u.entryOf(owner).class

	id := class.Identifier(owner)
	if id == "" {
		return "", false
	}

	return query.Link(id), true
}

func (p *Persister) collectionDiff(w *query.Writer, r renderer, u *UnitOfWork, c *collection.Collection, target query.Link) error {
	fm := c.Mapping()
	class := u.entryOf(c.Owner()).class
	field := fm.StorageName

	if c.Kind() == collection.Map {
		removed, err := c.DeleteEntries()
		if err != nil {
			return fmt.Errorf("field %s: %w", fm.Name, err)
		}

		added, err := c.InsertEntries()
		if err != nil {
			return fmt.Errorf("field %s: %w", fm.Name, err)
		}

		if len(removed) > 0 {
			keys := make([]string, len(removed))
			for i, e := range removed {
				keys[i] = e.Key
			}

			if err := w.AddCollectionRemoveKey(target, field, keys); err != nil {
				return err
			}
		}

		if len(added) > 0 {
			entries := make([]query.Entry, len(added))

			for i, e := range added {
				ref, err := r.link(class, c.Owner(), fm, e.Value)
				if err != nil {
					return err
				}

				entries[i] = query.Entry{Key: e.Key, Value: ref}
			}

			if err := w.AddCollectionPut(target, field, entries); err != nil {
				return err
			}
		}

		return nil
	}

	removed, err := c.DeleteDiff()
	if err != nil {
		return fmt.Errorf("field %s: %w", fm.Name, err)
	}

	added, err := c.InsertDiff()
	if err != nil {
		return fmt.Errorf("field %s: %w", fm.Name, err)
	}

	render := func(values []any) ([]any, error) {
		out := make([]any, len(values))

		for i, v := range values {
			ref, err := r.link(class, c.Owner(), fm, v)
			if err != nil {
				return nil, err
			}

			out[i] = ref
		}

		return out, nil
	}

	if len(removed) > 0 {
		refs, err := render(removed)
		if err != nil {
			return err
		}

		if err := w.AddCollectionRemove(target, field, refs); err != nil {
			return err
		}
	}

	if len(added) > 0 {
		refs, err := render(added)
		if err != nil {
			return err
		}

		if err := w.AddCollectionAdd(target, field, refs); err != nil {
			return err
		}
	}

	return nil
}

// parseCounts reads n affected-row counts. Servers wrap the list differently, so a
// single nested list and {"value": n} or {"count": n} elements are accepted.
func parseCounts(res *binding.BatchResult, n int) ([]int64, bool) {
	if res == nil {
		return nil, false
	}

	items := res.Result
	if len(items) == 1 && n != 1 {
		if nested, ok := items[0].([]any); ok {
			items = nested
		}
	}

	if len(items) != n {
		return nil, false
	}

	out := make([]int64, n)

	for i, item := range items {
		c, ok := countOf(item)
		if !ok {
			return nil, false
		}

		out[i] = c
	}

	return out, true
}

func countOf(v any) (int64, bool) {
	switch val := v.(type) {
	case interface{ Int64() (int64, error) }:
		n, err := val.Int64()

		return n, err == nil
	case float64:
		return int64(val), true
	case int64:
		return val, true
	case int:
		return int64(val), true
	case []any:
		if len(val) == 1 {
			return countOf(val[0])
		}
	case map[string]any:
		for _, key := range []string{"value", "count"} {
			if c, ok := val[key]; ok {
				return countOf(c)
			}
		}
	}

	return 0, false
}
