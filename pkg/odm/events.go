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
)

// EventType identifies a lifecycle hook.
type EventType string

const (
	PrePersist  EventType = "pre:persist"
	PostPersist EventType = "post:persist"
	PreUpdate   EventType = "pre:update"
	PostUpdate  EventType = "post:update"
	PreRemove   EventType = "pre:remove"
	PostRemove  EventType = "post:remove"
	PostLoad    EventType = "post:load"
	PreFlush    EventType = "pre:flush"
	OnFlush     EventType = "on:flush"
	PostFlush   EventType = "post:flush"
)

// IsPre reports whether listener errors abort the operation that fired the event.
func (t EventType) IsPre() bool {
	switch t {
	case PrePersist, PreUpdate, PreRemove, PreFlush, OnFlush:
		return true
	}

	return false
}

// Event is passed to listeners. Document and ChangeSet are nil for flush events.
type Event struct {
	Type       EventType
	Document   any
	ChangeSet  *ChangeSet
	UnitOfWork *UnitOfWork
}

type Listener func(ctx context.Context, e Event) error

// Events dispatches lifecycle hooks in registration order. Not safe for concurrent
// registration while a unit of work is running.
type Events struct {
	listeners map[EventType][]Listener
}

func NewEvents() *Events {
	return &Events{listeners: make(map[EventType][]Listener)}
}

// On registers l for every given type.
func (ev *Events) On(l Listener, types ...EventType) {
	for _, t := range types {
		ev.listeners[t] = append(ev.listeners[t], l)
	}
}

func (ev *Events) Has(t EventType) bool {
	return ev != nil && len(ev.listeners[t]) > 0
}

// Dispatch calls the listeners of e.Type. Pre listeners stop at the first error. Post
// listeners all run and their errors are joined.
func (ev *Events) Dispatch(ctx context.Context, e Event) error {
	if ev == nil {
		return nil
	}

	var errs []error

	for _, l := range ev.listeners[e.Type] {
		if err := l(ctx, e); err != nil {
			err = fmt.Errorf("%s listener: %w", e.Type, err)
			if e.Type.IsPre() {
				return err
			}

			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
