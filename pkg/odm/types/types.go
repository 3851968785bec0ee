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

package types

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"

	"github.com/united-manufacturing-hub/orientdb-odm/pkg/odm/rid"
)

const (
	String   = "string"
	Boolean  = "boolean"
	Short    = "short"
	Integer  = "integer"
	Long     = "long"
	Byte     = "byte"
	Float    = "float"
	Double   = "double"
	Date     = "date"
	DateTime = "datetime"
	Binary   = "binary"
	Link     = "link"
	Any      = "any"

	DateLayout     = "2006-01-02"
	DateTimeLayout = "2006-01-02 15:04:05"
)

var ErrConversion = errors.New("value conversion failed")

// Type converts between Go values and the JSON-compatible values the REST API exchanges.
type Type interface {
	Name() string
	// ToDatabase converts a Go value to a value the statement renderer accepts.
	ToDatabase(value any) (any, error)
	// FromDatabase converts a decoded JSON value to a value assignable to target.
	FromDatabase(raw any, target reflect.Type) (any, error)
}

func conversionError(typeName string, value any, target string) error {
	return fmt.Errorf("%w: %s: cannot convert %T to %s", ErrConversion, typeName, value, target)
}

type stringType struct{}

func (stringType) Name() string { return String }

func (stringType) ToDatabase(value any) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		return v, nil
	}

	// Named string types keep their underlying value even when they implement Stringer.
	if rv := reflect.ValueOf(value); rv.Kind() == reflect.String {
		return rv.String(), nil
	}

	if v, ok := value.(fmt.Stringer); ok {
		return v.String(), nil
	}

	return nil, conversionError(String, value, "string")
}

func (stringType) FromDatabase(raw any, target reflect.Type) (any, error) {
	switch v := raw.(type) {
	case nil:
		return reflect.Zero(target).Interface(), nil
	case string:
		return convertTo(v, target)
	}

	return convertTo(fmt.Sprint(raw), target)
}

type booleanType struct{}

func (booleanType) Name() string { return Boolean }

func (booleanType) ToDatabase(value any) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case bool:
		return v, nil
	}

	if rv := reflect.ValueOf(value); rv.Kind() == reflect.Bool {
		return rv.Bool(), nil
	}

	return nil, conversionError(Boolean, value, "bool")
}

func (booleanType) FromDatabase(raw any, target reflect.Type) (any, error) {
	switch v := raw.(type) {
	case nil:
		return reflect.Zero(target).Interface(), nil
	case bool:
		return convertTo(v, target)
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("%w: boolean: %w", ErrConversion, err)
		}

		return convertTo(b, target)
	}

	return nil, conversionError(Boolean, raw, target.String())
}

// integerType covers short, integer, long and byte; bits bounds the accepted range.
type integerType struct {
	name string
	bits int
}

func (t integerType) Name() string { return t.name }

func (t integerType) ToDatabase(value any) (any, error) {
	if value == nil {
		return nil, nil
	}

	rv := reflect.ValueOf(value)

	var n int64

	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n = rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return nil, conversionError(t.name, value, "int64")
		}

		n = int64(u)
	default:
		return nil, conversionError(t.name, value, "integer")
	}

	if t.bits < 64 {
		limit := int64(1) << (t.bits - 1)
		if n < -limit || n >= limit {
			return nil, fmt.Errorf("%w: %s: %d out of range", ErrConversion, t.name, n)
		}
	}

	return n, nil
}

func (t integerType) FromDatabase(raw any, target reflect.Type) (any, error) {
	var n int64

	switch v := raw.(type) {
	case nil:
		return reflect.Zero(target).Interface(), nil
	case float64:
		if v != math.Trunc(v) {
			return nil, fmt.Errorf("%w: %s: %v is not integral", ErrConversion, t.name, v)
		}

		n = int64(v)
	case int64:
		n = v
	case int:
		n = int64(v)
	case string:
		parsed, err := strconv.ParseInt(v, 10, t.bits)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrConversion, t.name, err)
		}

		n = parsed
	default:
		if num, ok := raw.(interface{ Int64() (int64, error) }); ok {
			parsed, err := num.Int64()
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrConversion, t.name, err)
			}

			n = parsed

			break
		}

		return nil, conversionError(t.name, raw, target.String())
	}

	return convertTo(n, target)
}

type floatType struct {
	name string
}

func (t floatType) Name() string { return t.name }

func (t floatType) ToDatabase(value any) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	}

	return nil, conversionError(t.name, value, "float")
}

func (t floatType) FromDatabase(raw any, target reflect.Type) (any, error) {
	switch v := raw.(type) {
	case nil:
		return reflect.Zero(target).Interface(), nil
	case float64:
		return convertTo(v, target)
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrConversion, t.name, err)
		}

		return convertTo(f, target)
	}

	if num, ok := raw.(interface{ Float64() (float64, error) }); ok {
		f, err := num.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrConversion, t.name, err)
		}

		return convertTo(f, target)
	}

	return nil, conversionError(t.name, raw, target.String())
}

// timeType renders times with a fixed layout in UTC.
type timeType struct {
	name   string
	layout string
}

func (t timeType) Name() string { return t.name }

func (t timeType) ToDatabase(value any) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case time.Time:
		if v.IsZero() {
			return nil, nil
		}

		return v.UTC().Format(t.layout), nil
	case *time.Time:
		if v == nil || v.IsZero() {
			return nil, nil
		}

		return v.UTC().Format(t.layout), nil
	}

	return nil, conversionError(t.name, value, "time")
}

func (t timeType) FromDatabase(raw any, target reflect.Type) (any, error) {
	var parsed time.Time

	switch v := raw.(type) {
	case nil:
		return reflect.Zero(target).Interface(), nil
	case string:
		ts, err := time.ParseInLocation(t.layout, v, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrConversion, t.name, err)
		}

		parsed = ts
	case float64:
		// The REST API may return epoch milliseconds.
		parsed = time.UnixMilli(int64(v)).UTC()
	case interface{ Int64() (int64, error) }:
		ms, err := v.Int64()
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrConversion, t.name, err)
		}

		parsed = time.UnixMilli(ms).UTC()
	default:
		return nil, conversionError(t.name, raw, target.String())
	}

	if target.Kind() == reflect.Pointer {
		return &parsed, nil
	}

	return parsed, nil
}

type binaryType struct{}

func (binaryType) Name() string { return Binary }

func (binaryType) ToDatabase(value any) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []byte:
		if v == nil {
			return nil, nil
		}

		return base64.StdEncoding.EncodeToString(v), nil
	}

	return nil, conversionError(Binary, value, "[]byte")
}

func (binaryType) FromDatabase(raw any, target reflect.Type) (any, error) {
	switch v := raw.(type) {
	case nil:
		return reflect.Zero(target).Interface(), nil
	case string:
		b, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return nil, fmt.Errorf("%w: binary: %w", ErrConversion, err)
		}

		return b, nil
	}

	return nil, conversionError(Binary, raw, target.String())
}

// linkType handles RID-valued scalar fields, which hold the identity string itself.
type linkType struct{}

func (linkType) Name() string { return Link }

func (linkType) ToDatabase(value any) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		if v == "" {
			return nil, nil
		}

		return rid.Normalize(v)
	case rid.RID:
		return v.String(), nil
	}

	return nil, conversionError(Link, value, "rid")
}

func (linkType) FromDatabase(raw any, target reflect.Type) (any, error) {
	switch v := raw.(type) {
	case nil:
		return reflect.Zero(target).Interface(), nil
	case string:
		r, err := rid.Parse(v)
		if err != nil {
			return nil, fmt.Errorf("%w: link: %w", ErrConversion, err)
		}

		if target == reflect.TypeOf(rid.RID{}) {
			return r, nil
		}

		return convertTo(r.String(), target)
	case map[string]any:
		if s, ok := v["@rid"].(string); ok {
			return linkType{}.FromDatabase(s, target)
		}
	}

	return nil, conversionError(Link, raw, target.String())
}

// anyType passes values through unchanged.
type anyType struct{}

func (anyType) Name() string { return Any }

func (anyType) ToDatabase(value any) (any, error) { return value, nil }

func (anyType) FromDatabase(raw any, target reflect.Type) (any, error) {
	if raw == nil {
		return reflect.Zero(target).Interface(), nil
	}

	return convertTo(raw, target)
}

// convertTo assigns v to target, converting between compatible kinds.
func convertTo(v any, target reflect.Type) (any, error) {
	rv := reflect.ValueOf(v)
	if target.Kind() == reflect.Interface {
		return v, nil
	}

	if target.Kind() == reflect.Pointer {
		inner, err := convertTo(v, target.Elem())
		if err != nil {
			return nil, err
		}

		ptr := reflect.New(target.Elem())
		ptr.Elem().Set(reflect.ValueOf(inner))

		return ptr.Interface(), nil
	}

	if rv.Type().AssignableTo(target) {
		return v, nil
	}

	if rv.Type().ConvertibleTo(target) && compatibleKinds(rv.Kind(), target.Kind()) {
		return rv.Convert(target).Interface(), nil
	}

	return nil, fmt.Errorf("%w: cannot assign %T to %s", ErrConversion, v, target)
}

// compatibleKinds rejects conversions reflect allows but that lose meaning, such as int to string.
func compatibleKinds(from, to reflect.Kind) bool {
	isNumber := func(k reflect.Kind) bool {
		return (k >= reflect.Int && k <= reflect.Float64) && k != reflect.Uintptr
	}

	switch {
	case isNumber(from) && isNumber(to):
		return true
	case from == reflect.String && to == reflect.String:
		return true
	case from == reflect.Bool && to == reflect.Bool:
		return true
	}

	return from == to
}
