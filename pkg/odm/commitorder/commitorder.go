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

// Package commitorder sorts document classes so that referenced classes are written
// before the classes that point at them.
package commitorder

import (
	"strings"
	"sync"

	"github.com/united-manufacturing-hub/orientdb-odm/pkg/odm/metadata"
)

// VisitState is the DFS mark of a class node.
type VisitState int

const (
	NotVisited VisitState = iota
	InProgress
	Visited
)

// CycleError reports a dependency cycle between classes.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return "commit order cycle: " + strings.Join(e.Path, " -> ")
}

// Calculator computes and caches class orders. Safe for concurrent use.
type Calculator struct {
	mu    sync.Mutex
	cache map[string][]*metadata.ClassMetadata
}

func NewCalculator() *Calculator {
	return &Calculator{cache: make(map[string][]*metadata.ClassMetadata)}
}

// Invalidate drops all cached orders.
func (c *Calculator) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache = make(map[string][]*metadata.ClassMetadata)
}

// Order returns classes in commit order. An edge parent->child exists when child has a
// mappedBy association targeting parent; parents come first. Unconstrained classes keep
// their input order.
func (c *Calculator) Order(classes []*metadata.ClassMetadata) ([]*metadata.ClassMetadata, error) {
	key := cacheKey(classes)

	c.mu.Lock()
	cached, ok := c.cache[key]
	c.mu.Unlock()

	if ok {
		return append([]*metadata.ClassMetadata(nil), cached...), nil
	}

	order, err := sortClasses(classes)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[key] = order
	c.mu.Unlock()

	return append([]*metadata.ClassMetadata(nil), order...), nil
}

func cacheKey(classes []*metadata.ClassMetadata) string {
	names := make([]string, len(classes))
	for i, cm := range classes {
		names[i] = cm.Name
	}

	return strings.Join(names, "\x00")
}

type frame struct {
	node int
	next int
}

func sortClasses(classes []*metadata.ClassMetadata) ([]*metadata.ClassMetadata, error) {
	index := make(map[string]int, len(classes))
	for i, cm := range classes {
		index[cm.Name] = i
	}

	children := make([][]int, len(classes))

	for child, cm := range classes {
		for _, fm := range cm.Associations() {
			if fm.IsOwning() || fm.TargetClass == cm.Name {
				continue
			}

			if parent, ok := index[fm.TargetClass]; ok {
				children[parent] = append(children[parent], child)
			}
		}
	}

	state := make([]VisitState, len(classes))
	finished := make([]int, 0, len(classes))

	for root := len(classes) - 1; root >= 0; root-- {
		if state[root] != NotVisited {
			continue
		}

		state[root] = InProgress
		stack := []frame{{node: root}}

		for len(stack) > 0 {
			top := &stack[len(stack)-1]

			if top.next == len(children[top.node]) {
				state[top.node] = Visited
				finished = append(finished, top.node)
				stack = stack[:len(stack)-1]

				continue
			}

			next := children[top.node][top.next]
			top.next++

			switch state[next] {
			case NotVisited:
				state[next] = InProgress
				stack = append(stack, frame{node: next})
			case InProgress:
				return nil, cycle(classes, stack, next)
			case Visited:
			}
		}
	}

	order := make([]*metadata.ClassMetadata, len(finished))
	for i, n := range finished {
		order[len(finished)-1-i] = classes[n]
	}

	return order, nil
}

func cycle(classes []*metadata.ClassMetadata, stack []frame, back int) error {
	start := 0

	for i, f := range stack {
		if f.node == back {
			start = i

			break
		}
	}

	path := make([]string, 0, len(stack)-start+1)
	for _, f := range stack[start:] {
		path = append(path, classes[f.node].Name)
	}

	path = append(path, classes[back].Name)

	return &CycleError{Path: path}
}
