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

	"github.com/looplab/fsm"
)

// State is the lifecycle state of a document relative to one unit of work.
type State string

const (
	StateNew      State = "new"
	StateManaged  State = "managed"
	StateRemoved  State = "removed"
	StateDetached State = "detached"
)

const (
	EventPersist = "persist"
	EventHydrate = "hydrate"
	EventRemove  = "remove"
	EventDetach  = "detach"
	EventPurge   = "purge"
)

// lifecycleEvents has no path from removed back to managed.
var lifecycleEvents = fsm.Events{
	{Name: EventPersist, Src: []string{string(StateNew)}, Dst: string(StateManaged)},
	{Name: EventHydrate, Src: []string{string(StateNew)}, Dst: string(StateManaged)},
	{Name: EventRemove, Src: []string{string(StateManaged)}, Dst: string(StateRemoved)},
	{Name: EventDetach, Src: []string{string(StateManaged), string(StateRemoved)}, Dst: string(StateDetached)},
	{Name: EventPurge, Src: []string{string(StateRemoved)}, Dst: string(StateDetached)},
}

type lifecycle struct {
	machine *fsm.FSM
}

func newLifecycle() *lifecycle {
	return &lifecycle{machine: fsm.NewFSM(string(StateNew), lifecycleEvents, fsm.Callbacks{})}
}

func (l *lifecycle) State() State {
	return State(l.machine.Current())
}

func (l *lifecycle) Can(event string) bool {
	return l.machine.Can(event)
}

// fire runs a transition. Lifecycle transitions have no callbacks, so the context only
// satisfies the fsm API.
func (l *lifecycle) fire(event string) error {
	return l.machine.Event(context.Background(), event)
}
