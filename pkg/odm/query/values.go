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
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/united-manufacturing-hub/orientdb-odm/pkg/odm/rid"
	"github.com/united-manufacturing-hub/orientdb-odm/pkg/odm/types"
)

var ErrUnrenderable = errors.New("value cannot be rendered")

// Variable is a script-local name bound by LET. It renders as $name.
type Variable string

func (v Variable) String() string {
	return "$" + string(v)
}

// Link is a record reference rendered as a bare RID.
type Link string

func (l Link) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(l))
}

// Embedded is an inline document value.
type Embedded struct {
	Class  string
	Fields map[string]any
}

func (e Embedded) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Fields)+2)
	for k, v := range e.Fields {
		out[k] = v
	}

	out["@type"] = "d"
	if e.Class != "" {
		out["@class"] = e.Class
	}

	return json.Marshal(out)
}

// LinkList renders element-wise so links and variables stay unquoted.
type LinkList []any

// LinkMap renders element-wise with sorted keys.
type LinkMap map[string]any

// Quote single-quotes s with backslash escapes.
func Quote(s string) string {
	var b strings.Builder

	b.Grow(len(s) + 2)
	b.WriteByte('\'')

	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '\'':
			b.WriteString(`\'`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}

	b.WriteByte('\'')

	return b.String()
}

// Render turns a database value into script text.
func Render(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "null", nil
	case Variable:
		if val == "" {
			return "", fmt.Errorf("%w: empty variable", ErrUnrenderable)
		}

		return val.String(), nil
	case Link:
		r, err := rid.Parse(string(val))
		if err != nil {
			return "", fmt.Errorf("%w: link %q: %w", ErrUnrenderable, string(val), err)
		}

		return r.String(), nil
	case rid.RID:
		return val.String(), nil
	case LinkList:
		parts := make([]string, len(val))
		for i, el := range val {
			s, err := Render(el)
			if err != nil {
				return "", err
			}

			parts[i] = s
		}

		return "[" + strings.Join(parts, ", ") + "]", nil
	case LinkMap:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}

		sort.Strings(keys)

		parts := make([]string, len(keys))
		for i, k := range keys {
			s, err := Render(val[k])
			if err != nil {
				return "", err
			}

			parts[i] = strconv.Quote(k) + ": " + s
		}

		return "{" + strings.Join(parts, ", ") + "}", nil
	case string:
		return Quote(val), nil
	case bool:
		return strconv.FormatBool(val), nil
	case float32:
		return renderFloat(float64(val), 32)
	case float64:
		return renderFloat(val, 64)
	case time.Time:
		return Quote(val.UTC().Format(types.DateTimeLayout)), nil
	case []byte:
		return Quote(string(val)), nil
	case Embedded:
		return renderJSON(val)
	}

	rv := reflect.ValueOf(v)

	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10), nil
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		return renderJSON(v)
	case reflect.Pointer:
		if rv.IsNil() {
			return "null", nil
		}

		return Render(rv.Elem().Interface())
	}

	return "", fmt.Errorf("%w: %T", ErrUnrenderable, v)
}

func renderFloat(f float64, bits int) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", fmt.Errorf("%w: %v", ErrUnrenderable, f)
	}

	return strconv.FormatFloat(f, 'g', -1, bits), nil
}

func renderJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnrenderable, err)
	}

	return string(data), nil
}
