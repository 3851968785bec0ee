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

package query

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

const (
	DefaultMaxFindLimit = 1000
)

var (
	ErrInvalidField    = errors.New("invalid field expression")
	ErrUnknownOperator = errors.New("unknown operator")
)

// Operator is a MongoDB-style comparison rendered as its SQL form.
//
//	q := query.NewSelect("Person").
//	    Filter("name", query.Eq, "Ada").
//	    Filter("age", query.Gt, 18).
//	    Filter("role", query.In, []string{"admin", "moderator"})
type Operator string

const (
	Eq  Operator = "$eq"
	Ne  Operator = "$ne"
	Gt  Operator = "$gt"
	Gte Operator = "$gte"
	Lt  Operator = "$lt"
	Lte Operator = "$lte"
	In  Operator = "$in"
	Nin Operator = "$nin"

	// Contains matches collection properties holding the value.
	Contains Operator = "$contains"
)

var sqlOperators = map[Operator]string{
	Eq:  "=",
	Ne:  "<>",
	Gt:  ">",
	Gte: ">=",
	Lt:  "<",
	Lte: "<=",
	In:  "IN",
	Nin: "NOT IN",

	Contains: "CONTAINS",
}

type FilterCondition struct {
	Field string
	Op    Operator
	Value interface{}
}

type SortOrder int

const (
	Asc  SortOrder = 1
	Desc SortOrder = -1
)

type SortField struct {
	Field string
	Order SortOrder
}

// Select describes a SELECT over a class or a record. Multiple filters are joined
// with AND.
type Select struct {
	From         string
	Projection   []string
	Filters      []FilterCondition
	SortBy       []SortField
	LimitCount   int
	SkipCount    int
	MaxFindLimit int
}

func NewSelect(from string) *Select {
	return &Select{From: from}
}

// Expand selects the records a link property of one record points to.
func Expand(target, field string) *Select {
	return NewSelect(target).Fields("expand(" + field + ")")
}

func (q *Select) Fields(fields ...string) *Select {
	q.Projection = append(q.Projection, fields...)

	return q
}

func (q *Select) Filter(field string, op Operator, value interface{}) *Select {
	q.Filters = append(q.Filters, FilterCondition{
		Field: field,
		Op:    op,
		Value: value,
	})

	return q
}

func (q *Select) Sort(field string, order SortOrder) *Select {
	q.SortBy = append(q.SortBy, SortField{
		Field: field,
		Order: order,
	})

	return q
}

func (q *Select) Limit(count int) *Select {
	if count < 0 {
		count = 0
	}

	q.LimitCount = count

	return q
}

func (q *Select) Skip(count int) *Select {
	if count < 0 {
		count = 0
	}

	q.SkipCount = count

	return q
}

func (q *Select) WithMaxFindLimit(limit int) *Select {
	if limit < 0 {
		limit = 0
	}

	q.MaxFindLimit = limit

	return q
}

// EffectiveLimit is LimitCount capped by MaxFindLimit, DefaultMaxFindLimit when unset.
func (q *Select) EffectiveLimit() int {
	ceiling := q.MaxFindLimit
	if ceiling == 0 {
		ceiling = DefaultMaxFindLimit
	}

	if q.LimitCount == 0 || q.LimitCount > ceiling {
		return ceiling
	}

	return q.LimitCount
}

func validField(field string) bool {
	if field == "" {
		return false
	}

	depth := 0

	for _, r := range field {
		switch {
		case r == '(':
			depth++
		case r == ')':
			depth--
			if depth < 0 {
				return false
			}
		case r == '_' || r == '@' || r == '.' || r == '*' || r == '-' || r == ',':
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		default:
			return false
		}
	}

	return depth == 0
}

func renderTargetOrClass(from string) (string, error) {
	if strings.HasPrefix(from, "#") {
		return Render(Link(from))
	}

	if !validField(from) {
		return "", fmt.Errorf("%w: %q", ErrInvalidField, from)
	}

	return from, nil
}

func renderList(value interface{}) (string, error) {
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return Render(value)
	}

	parts := make([]string, rv.Len())
	for i := range parts {
		s, err := Render(rv.Index(i).Interface())
		if err != nil {
			return "", err
		}

		parts[i] = s
	}

	return "[" + strings.Join(parts, ", ") + "]", nil
}

// String renders the statement.
func (q *Select) String() (string, error) {
	from, err := renderTargetOrClass(q.From)
	if err != nil {
		return "", err
	}

	var b strings.Builder

	b.WriteString("SELECT ")

	for _, f := range q.Projection {
		if !validField(f) {
			return "", fmt.Errorf("%w: %q", ErrInvalidField, f)
		}
	}

	if len(q.Projection) > 0 {
		b.WriteString(strings.Join(q.Projection, ", "))
		b.WriteString(" ")
	}

	b.WriteString("FROM ")
	b.WriteString(from)

	for i, f := range q.Filters {
		if !validField(f.Field) {
			return "", fmt.Errorf("%w: %q", ErrInvalidField, f.Field)
		}

		op, ok := sqlOperators[f.Op]
		if !ok {
			return "", fmt.Errorf("%w: %q", ErrUnknownOperator, f.Op)
		}

		var value string
		if f.Op == In || f.Op == Nin {
			value, err = renderList(f.Value)
		} else {
			value, err = Render(f.Value)
		}

		if err != nil {
			return "", fmt.Errorf("filter %s: %w", f.Field, err)
		}

		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}

		if f.Value == nil && (f.Op == Eq || f.Op == Ne) {
			if f.Op == Eq {
				fmt.Fprintf(&b, "%s IS NULL", f.Field)
			} else {
				fmt.Fprintf(&b, "%s IS NOT NULL", f.Field)
			}

			continue
		}

		fmt.Fprintf(&b, "%s %s %s", f.Field, op, value)
	}

	for i, s := range q.SortBy {
		if !validField(s.Field) {
			return "", fmt.Errorf("%w: %q", ErrInvalidField, s.Field)
		}

		if i == 0 {
			b.WriteString(" ORDER BY ")
		} else {
			b.WriteString(", ")
		}

		dir := "ASC"
		if s.Order == Desc {
			dir = "DESC"
		}

		b.WriteString(s.Field + " " + dir)
	}

	if q.SkipCount > 0 {
		b.WriteString(" SKIP " + strconv.Itoa(q.SkipCount))
	}

	b.WriteString(" LIMIT " + strconv.Itoa(q.EffectiveLimit()))

	return b.String(), nil
}
