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

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/orientdb-odm/pkg/logger"
	"github.com/united-manufacturing-hub/orientdb-odm/pkg/metrics"
	"github.com/united-manufacturing-hub/orientdb-odm/pkg/odm/binding"
	"github.com/united-manufacturing-hub/orientdb-odm/pkg/odm/collection"
	"github.com/united-manufacturing-hub/orientdb-odm/pkg/odm/query"
	"github.com/united-manufacturing-hub/orientdb-odm/pkg/odm/rid"
	"github.com/united-manufacturing-hub/orientdb-odm/pkg/odm/types"
)

var _ collection.Loader = (*Loader)(nil)

// Loader reads records through the binding and hydrates them into a unit of work. It
// also fills lazy collections.
type Loader struct {
	u         *UnitOfWork
	binding   Binding
	h         *hydrator
	fetchPlan string
	log       *zap.SugaredLogger
}

// NewLoader creates a loader and installs it as the collection loader of u.
func NewLoader(u *UnitOfWork, b Binding, registry *types.Registry, fetchPlan string, log *zap.SugaredLogger) *Loader {
	if registry == nil {
		registry = types.NewRegistry()
	}

	l := &Loader{
		u:         u,
		binding:   b,
		fetchPlan: fetchPlan,
		log:       logger.OrNop(log),
	}
	l.h = &hydrator{u: u, registry: registry, loader: l, log: l.log}
	u.loader = l

	return l
}

// Hydrate turns a decoded record into a managed document. target may be nil, in which
// case the record's @class picks the type.
func (l *Loader) Hydrate(ctx context.Context, record map[string]any, target any) (any, error) {
	return l.h.hydrate(ctx, record, target)
}

// Load returns the document with the given identity, reading it only when the identity
// map has no loaded instance.
func (l *Loader) Load(ctx context.Context, id string, fetchPlan string, target any) (any, error) {
	r, err := rid.Parse(id)
	if err != nil {
		return nil, &InvalidArgumentError{Value: id, Reason: err.Error()}
	}

	if doc, ok := l.u.TryGetByID(r.String()); ok && !l.u.IsGhost(doc) {
		return doc, nil
	}

	record, err := l.fetch(ctx, r, fetchPlan)
	if err != nil {
		return nil, err
	}

	return l.h.hydrate(ctx, record, target)
}

func (l *Loader) fetch(ctx context.Context, r rid.RID, fetchPlan string) (map[string]any, error) {
	if fetchPlan == "" {
		fetchPlan = l.fetchPlan
	}

	record, err := l.binding.LoadDocument(binding.WithPhase(ctx, metrics.PhaseLoad), r, fetchPlan)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", r, err)
	}

	return record, nil
}

// Query runs sql and hydrates every returned record.
func (l *Loader) Query(ctx context.Context, sql string) ([]any, error) {
	records, err := l.binding.Query(binding.WithPhase(ctx, metrics.PhaseQuery), sql)
	if err != nil {
		return nil, err
	}

	docs := make([]any, 0, len(records))

	for _, record := range records {
		doc, err := l.h.hydrate(ctx, record, nil)
		if err != nil {
			return nil, err
		}

		docs = append(docs, doc)
	}

	return docs, nil
}

// LoadCollection fills a lazy collection. Known RIDs resolve against the identity map
// without a request; otherwise the owner's property is expanded, or for inverse sides the
// target class is searched for the owner.
func (l *Loader) LoadCollection(ctx context.Context, c *collection.Collection) error {
	fm := c.Mapping()

	if raw := c.Raw(); raw != nil {
		entries, err := l.h.entries(ctx, fm, raw)
		if err != nil {
			return err
		}

		c.Hydrate(entries...)

		return nil
	}

	owner := c.Owner()

	class, err := l.u.classOf(owner)
	if err != nil {
		return err
	}

	id := class.Identifier(owner)
	if id == "" {
		return nil
	}

	l.log.Debugw("Loading collection", "class", class.Name, "field", fm.Name, "id", id)

	if c.Kind() == collection.Map && fm.IsOwning() {
		record, err := l.fetch(ctx, rid.MustParse(id), "")
		if err != nil {
			return err
		}

		entries, err := l.h.entries(ctx, fm, record[fm.StorageName])
		if err != nil {
			return err
		}

		c.Hydrate(entries...)

		return nil
	}

	sel, err := l.collectionQuery(fm.TargetClass, id, fm.StorageName, fm.MappedBy)
	if err != nil {
		return err
	}

	sql, err := sel.String()
	if err != nil {
		return err
	}

	docs, err := l.Query(ctx, sql)
	if err != nil {
		return err
	}

	entries := make([]collection.Entry, len(docs))
	for i, doc := range docs {
		entries[i] = collection.Entry{Value: doc}
	}

	c.Hydrate(entries...)

	return nil
}

func (l *Loader) collectionQuery(targetClass, ownerID, storage, mappedBy string) (*query.Select, error) {
	if mappedBy == "" {
		return query.Expand(ownerID, storage), nil
	}

	target, ok := l.u.factory.ClassByName(targetClass)
	if !ok {
		return nil, fmt.Errorf("unknown target class %q", targetClass)
	}

	inverse, ok := target.Field(mappedBy)
	if !ok {
		return nil, fmt.Errorf("unknown inverse field %s.%s", targetClass, mappedBy)
	}

	op := query.Eq
	if inverse.Kind.IsToMany() {
		op = query.Contains
	}

	return query.NewSelect(target.Name).Filter(inverse.StorageName, op, query.Link(ownerID)), nil
}
