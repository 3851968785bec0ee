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

// Package query renders the SQL batch scripts sent to the database.
//
// A Writer collects statements for one script. Inserts bind their new RID to a
// script-local variable (n0, n1, ...) so later statements in the same script can link to
// records whose RID the client does not know yet; updates bind their affected row count
// (u0, u1, ...). The final RETURN statement exposes those variables to the caller.
package query

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
)

var (
	ErrEmptyAssignments = errors.New("statement needs at least one assignment")
	ErrInvalidTarget    = errors.New("invalid statement target")
)

// lockConstraint selects servers that understand LOCK RECORD on UPDATE.
const lockConstraint = ">= 2.1.0"

// Assignment is one "field = value" pair.
type Assignment struct {
	Field string
	Value any
}

// UpdateOptions adds optimistic locking to an UPDATE.
type UpdateOptions struct {
	// Version, when set, adds WHERE @version = <Version>.
	Version *int64
	// Lock adds LOCK RECORD when the server supports it.
	Lock bool
}

// Entry is a keyed value for PUT.
type Entry struct {
	Key   string
	Value any
}

// Writer builds one batch script. Not safe for concurrent use.
type Writer struct {
	statements []string
	inserts    int
	updates    int
	canLock    bool
}

type Option func(*Writer)

// WithServerVersion adapts the dialect to the server release. Unparseable versions are
// treated as current.
func WithServerVersion(version string) Option {
	return func(w *Writer) {
		w.canLock = SupportsRecordLock(version)
	}
}

func NewWriter(opts ...Option) *Writer {
	w := &Writer{canLock: true}
	for _, opt := range opts {
		opt(w)
	}

	return w
}

// SupportsRecordLock reports whether a server release accepts LOCK RECORD.
func SupportsRecordLock(version string) bool {
	if version == "" {
		return true
	}

	v, err := semver.NewVersion(version)
	if err != nil {
		return true
	}

	c, err := semver.NewConstraint(lockConstraint)
	if err != nil {
		return true
	}

	return c.Check(v)
}

func renderTarget(target any) (string, error) {
	switch t := target.(type) {
	case Link, Variable:
		return Render(t)
	case string:
		return Render(Link(t))
	}

	return "", fmt.Errorf("%w: %T", ErrInvalidTarget, target)
}

func renderAssignments(assignments []Assignment) (string, error) {
	if len(assignments) == 0 {
		return "", ErrEmptyAssignments
	}

	parts := make([]string, len(assignments))
	for i, a := range assignments {
		v, err := Render(a.Value)
		if err != nil {
			return "", fmt.Errorf("field %s: %w", a.Field, err)
		}

		parts[i] = a.Field + " = " + v
	}

	return strings.Join(parts, ", "), nil
}

// AddInsert appends "LET nX = INSERT INTO class SET ... RETURN @rid". An insert without
// assignments writes an empty record.
func (w *Writer) AddInsert(class string, assignments []Assignment) (Variable, error) {
	body := "CONTENT {}"

	if len(assignments) > 0 {
		set, err := renderAssignments(assignments)
		if err != nil {
			return "", err
		}

		body = "SET " + set
	}

	v := Variable("n" + strconv.Itoa(w.inserts))
	w.inserts++
	w.statements = append(w.statements, fmt.Sprintf("LET %s = INSERT INTO %s %s RETURN @rid", string(v), class, body))

	return v, nil
}

// AddUpdate appends "LET uX = UPDATE target SET ... RETURN COUNT [WHERE @version = v] [LOCK RECORD]".
func (w *Writer) AddUpdate(target any, assignments []Assignment, opts UpdateOptions) (Variable, error) {
	t, err := renderTarget(target)
	if err != nil {
		return "", err
	}

	set, err := renderAssignments(assignments)
	if err != nil {
		return "", err
	}

	var b strings.Builder

	v := Variable("u" + strconv.Itoa(w.updates))
	w.updates++

	fmt.Fprintf(&b, "LET %s = UPDATE %s SET %s RETURN COUNT", string(v), t, set)

	if opts.Version != nil {
		fmt.Fprintf(&b, " WHERE @version = %d", *opts.Version)
	}

	if opts.Lock && w.canLock {
		b.WriteString(" LOCK RECORD")
	}

	w.statements = append(w.statements, b.String())

	return v, nil
}

func (w *Writer) addCollectionOp(target any, op, field string, clauses []string) error {
	t, err := renderTarget(target)
	if err != nil {
		return err
	}

	for _, c := range clauses {
		w.statements = append(w.statements, fmt.Sprintf("UPDATE %s %s %s = %s", t, op, field, c))
	}

	return nil
}

func renderAll(values []any) ([]string, error) {
	out := make([]string, len(values))
	for i, v := range values {
		s, err := Render(v)
		if err != nil {
			return nil, err
		}

		out[i] = s
	}

	return out, nil
}

// AddCollectionAdd appends one "UPDATE target ADD field = v" per value.
func (w *Writer) AddCollectionAdd(target any, field string, values []any) error {
	clauses, err := renderAll(values)
	if err != nil {
		return err
	}

	return w.addCollectionOp(target, "ADD", field, clauses)
}

// AddCollectionRemove appends one "UPDATE target REMOVE field = v" per value.
func (w *Writer) AddCollectionRemove(target any, field string, values []any) error {
	clauses, err := renderAll(values)
	if err != nil {
		return err
	}

	return w.addCollectionOp(target, "REMOVE", field, clauses)
}

// AddCollectionPut appends one "UPDATE target PUT field = 'key', v" per entry.
func (w *Writer) AddCollectionPut(target any, field string, entries []Entry) error {
	clauses := make([]string, len(entries))

	for i, e := range entries {
		v, err := Render(e.Value)
		if err != nil {
			return err
		}

		clauses[i] = Quote(e.Key) + ", " + v
	}

	return w.addCollectionOp(target, "PUT", field, clauses)
}

// AddCollectionRemoveKey appends one "UPDATE target REMOVE field = 'key'" per key.
func (w *Writer) AddCollectionRemoveKey(target any, field string, keys []string) error {
	clauses := make([]string, len(keys))
	for i, k := range keys {
		clauses[i] = Quote(k)
	}

	return w.addCollectionOp(target, "REMOVE", field, clauses)
}

// AddCollectionDelete empties a collection property in one statement.
func (w *Writer) AddCollectionDelete(target any, field string, keyed bool) error {
	empty := "[]"
	if keyed {
		empty = "{}"
	}

	return w.addCollectionOp(target, "SET", field, []string{empty})
}

// AddDelete appends "DELETE FROM target".
func (w *Writer) AddDelete(target any) error {
	t, err := renderTarget(target)
	if err != nil {
		return err
	}

	w.statements = append(w.statements, "DELETE FROM "+t)

	return nil
}

// AddReturnMap appends RETURN {"n0":$n0,...}.
func (w *Writer) AddReturnMap(vars []Variable) {
	parts := make([]string, len(vars))
	for i, v := range vars {
		parts[i] = strconv.Quote(string(v)) + ":" + v.String()
	}

	w.statements = append(w.statements, "RETURN {"+strings.Join(parts, ",")+"}")
}

// AddReturnList appends RETURN [$u0,...].
func (w *Writer) AddReturnList(vars []Variable) {
	parts := make([]string, len(vars))
	for i, v := range vars {
		parts[i] = v.String()
	}

	w.statements = append(w.statements, "RETURN ["+strings.Join(parts, ",")+"]")
}

// Statements returns a copy of the script lines.
func (w *Writer) Statements() []string {
	return append([]string(nil), w.statements...)
}

// Batch is the body of the batch endpoint.
type Batch struct {
	Transaction bool        `json:"transaction"`
	Operations  []Operation `json:"operations"`
}

type Operation struct {
	Type     string   `json:"type"`
	Language string   `json:"language"`
	Script   []string `json:"script"`
}

// Script wraps the statements into one transactional SQL script operation.
func (w *Writer) Script() Batch {
	return Batch{
		Transaction: true,
		Operations: []Operation{{
			Type:     "script",
			Language: "sql",
			Script:   w.Statements(),
		}},
	}
}

func (w *Writer) IsEmpty() bool {
	return len(w.statements) == 0
}

func (w *Writer) Len() int {
	return len(w.statements)
}

func (w *Writer) String() string {
	return strings.Join(w.statements, ";\n")
}
