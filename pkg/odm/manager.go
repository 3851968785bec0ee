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
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/united-manufacturing-hub/orientdb-odm/pkg/backoff"
	"github.com/united-manufacturing-hub/orientdb-odm/pkg/config"
	"github.com/united-manufacturing-hub/orientdb-odm/pkg/logger"
	"github.com/united-manufacturing-hub/orientdb-odm/pkg/metrics"
	"github.com/united-manufacturing-hub/orientdb-odm/pkg/odm/binding"
	"github.com/united-manufacturing-hub/orientdb-odm/pkg/odm/collection"
	"github.com/united-manufacturing-hub/orientdb-odm/pkg/odm/metadata"
	"github.com/united-manufacturing-hub/orientdb-odm/pkg/odm/query"
	"github.com/united-manufacturing-hub/orientdb-odm/pkg/odm/rid"
	"github.com/united-manufacturing-hub/orientdb-odm/pkg/odm/types"
)

type managerOptions struct {
	binding  Binding
	registry *types.Registry
	events   *Events
	log      *zap.SugaredLogger
}

type ManagerOption func(*managerOptions)

// WithBinding replaces the HTTP client built from the binding configuration.
func WithBinding(b Binding) ManagerOption {
	return func(o *managerOptions) { o.binding = b }
}

// WithRegistry sets the type registry. Defaults to the factory's registry.
func WithRegistry(r *types.Registry) ManagerOption {
	return func(o *managerOptions) { o.registry = r }
}

func WithListeners(ev *Events) ManagerOption {
	return func(o *managerOptions) { o.events = ev }
}

func WithManagerLogger(log *zap.SugaredLogger) ManagerOption {
	return func(o *managerOptions) { o.log = log }
}

// Manager is the entry point of a session: one unit of work, its loader and the binding.
// Like the unit of work it is not safe for concurrent use.
type Manager struct {
	cfg     config.Config
	factory *metadata.Factory
	binding Binding
	uow     *UnitOfWork
	loader  *Loader
	events  *Events
	log     *zap.SugaredLogger
}

// NewManager resolves factory if needed and wires a session. Without WithBinding the
// configuration must validate.
func NewManager(cfg config.Config, factory *metadata.Factory, opts ...ManagerOption) (*Manager, error) {
	if factory == nil {
		return nil, &InvalidArgumentError{Reason: "manager needs a metadata factory"}
	}

	o := managerOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	if o.log == nil {
		o.log = logger.For(logger.ComponentManager)
	}

	if !factory.IsResolved() {
		if err := factory.Resolve(); err != nil {
			return nil, err
		}
	}

	if o.registry == nil {
		o.registry = factory.Registry()
	}

	if o.registry == nil {
		o.registry = types.NewRegistry()
	}

	if o.events == nil {
		o.events = NewEvents()
	}

	if cfg.Session.FindConcurrency < 1 {
		cfg.Session.FindConcurrency = 1
	}

	if o.binding == nil {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}

		client, err := binding.NewFromConfig(cfg.Binding, logger.For(logger.ComponentBinding))
		if err != nil {
			return nil, err
		}

		o.binding = client
	}

	persister := NewPersister(o.binding, o.registry, PersisterConfig{
		OptimisticLocking: cfg.Session.OptimisticLocking,
		LockRecords:       cfg.Session.LockRecords,
		ServerVersion:     cfg.Binding.ServerVersion,
	}, logger.For(logger.ComponentPersister))

	uow := NewUnitOfWork(factory, persister,
		WithEvents(o.events),
		WithUnitOfWorkLogger(logger.For(logger.ComponentUnitOfWork)))

	loader := NewLoader(uow, o.binding, o.registry, cfg.Session.FetchPlan, logger.For(logger.ComponentHydrator))

	return &Manager{
		cfg:     cfg,
		factory: factory,
		binding: o.binding,
		uow:     uow,
		loader:  loader,
		events:  o.events,
		log:     o.log,
	}, nil
}

func (m *Manager) UnitOfWork() *UnitOfWork { return m.uow }
func (m *Manager) Events() *Events         { return m.events }
func (m *Manager) Factory() *metadata.Factory {
	return m.factory
}

func (m *Manager) Persist(doc any) error { return m.uow.Persist(doc) }
func (m *Manager) Remove(doc any) error  { return m.uow.Remove(doc) }
func (m *Manager) Detach(doc any)        { m.uow.Detach(doc) }

// Clear detaches all documents, or those of the given classes.
func (m *Manager) Clear(classes ...string) {
	if len(classes) == 0 {
		m.uow.Clear("")

		return
	}

	for _, class := range classes {
		m.uow.Clear(class)
	}
}

// Contains reports whether doc is managed by this session.
func (m *Manager) Contains(doc any) bool {
	return m.uow.State(doc) == StateManaged
}

// Flush commits the whole session.
func (m *Manager) Flush(ctx context.Context) error {
	return m.commit(ctx, nil)
}

// FlushDocument commits doc and its cascade closure only.
func (m *Manager) FlushDocument(ctx context.Context, doc any) error {
	if doc == nil {
		return &InvalidArgumentError{Reason: "FlushDocument needs a document"}
	}

	return m.commit(ctx, doc)
}

// commit retries transient transport failures when retries are enabled. A failed commit
// leaves the queues intact, so the retry resumes where the failure happened.
func (m *Manager) commit(ctx context.Context, doc any) error {
	if !m.cfg.Retry.Enabled {
		return m.uow.Commit(ctx, doc)
	}

	return backoff.Retry(ctx, m.cfg.RetryPolicy(), func() error {
		return m.uow.Commit(ctx, doc)
	}, func(err error, next time.Duration) {
		m.log.Warnw("Commit failed, retrying", "error", err, "next", next)
	})
}

// Find returns the document with identity id. Managed instances are returned without a
// request. fetchPlan overrides the configured default.
func (m *Manager) Find(ctx context.Context, id string, fetchPlan ...string) (any, error) {
	plan := ""
	if len(fetchPlan) > 0 {
		plan = fetchPlan[0]
	}

	return m.loader.Load(ctx, id, plan, nil)
}

// Find loads a document and asserts its type.
//
//	country, err := odm.Find[Country](ctx, m, "#9:0")
func Find[T any](ctx context.Context, m *Manager, id string, fetchPlan ...string) (*T, error) {
	doc, err := m.Find(ctx, id, fetchPlan...)
	if err != nil {
		return nil, err
	}

	typed, ok := doc.(*T)
	if !ok {
		return nil, &InvalidArgumentError{Value: doc, Reason: fmt.Sprintf("record %s is not a %T", id, (*T)(nil))}
	}

	return typed, nil
}

// FindMany loads several documents, fetching up to session.findConcurrency records in
// parallel. Results keep the order of ids.
func (m *Manager) FindMany(ctx context.Context, ids ...string) ([]any, error) {
	parsed := make([]rid.RID, len(ids))

	for i, id := range ids {
		r, err := rid.Parse(id)
		if err != nil {
			return nil, &InvalidArgumentError{Value: id, Reason: err.Error()}
		}

		parsed[i] = r
	}

	records := make([]map[string]any, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Session.FindConcurrency)

	for i, r := range parsed {
		if doc, ok := m.uow.TryGetByID(r.String()); ok && !m.uow.IsGhost(doc) {
			continue
		}

		g.Go(func() error {
			record, err := m.loader.fetch(gctx, r, "")
			if err != nil {
				return err
			}

			records[i] = record

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	docs := make([]any, len(ids))

	for i, r := range parsed {
		if records[i] == nil {
			docs[i], _ = m.uow.TryGetByID(r.String())

			continue
		}

		doc, err := m.loader.Hydrate(ctx, records[i], nil)
		if err != nil {
			return nil, err
		}

		docs[i] = doc
	}

	return docs, nil
}

// FindBy runs a select and hydrates the matching records.
func (m *Manager) FindBy(ctx context.Context, sel *query.Select) ([]any, error) {
	if sel == nil {
		return nil, &InvalidArgumentError{Reason: "FindBy needs a select"}
	}

	sql, err := sel.String()
	if err != nil {
		return nil, &InvalidArgumentError{Value: sel, Reason: err.Error()}
	}

	return m.loader.Query(ctx, sql)
}

// Reference returns the managed document for id, or an unloaded placeholder of class.
func (m *Manager) Reference(class, id string) (any, error) {
	cm, ok := m.factory.ClassByName(class)
	if !ok || cm.Embedded {
		return nil, &InvalidArgumentError{Value: class, Reason: "not a document class"}
	}

	normalized, err := rid.Normalize(id)
	if err != nil {
		return nil, &InvalidArgumentError{Value: id, Reason: err.Error()}
	}

	return m.uow.reference(cm, normalized)
}

// Initialize loads a placeholder document or a lazy collection.
func (m *Manager) Initialize(ctx context.Context, v any) error {
	if c, ok := v.(*collection.Collection); ok {
		return c.Initialize(ctx)
	}

	if !m.uow.IsGhost(v) {
		return nil
	}

	class, err := m.uow.classOf(v)
	if err != nil {
		return err
	}

	_, err = m.loader.Load(ctx, class.Identifier(v), "", v)

	return err
}

// Close detaches everything and releases idle connections.
func (m *Manager) Close() error {
	m.uow.Clear("")
	metrics.SetManagedDocuments(0)

	if c, ok := m.binding.(interface{ Close() }); ok {
		c.Close()
	}

	return nil
}
