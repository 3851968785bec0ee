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

package metadata

import (
	"fmt"
	"reflect"
	"strconv"

	"github.com/united-manufacturing-hub/orientdb-odm/pkg/odm/rid"
)

const (
	StorageRID     = "@rid"
	StorageVersion = "@version"
	StorageClass   = "@class"
	StorageType    = "@type"
)

var ridType = reflect.TypeOf(rid.RID{})

// ClassMetadata describes one mapped struct type.
type ClassMetadata struct {
	Name     string
	GoType   reflect.Type
	Embedded bool

	identifier *FieldMapping
	version    *FieldMapping
	fields     []*FieldMapping
	byName     map[string]*FieldMapping
	byStorage  map[string]*FieldMapping
}

// NewClassMetadata starts a class description for prototype, a struct or pointer to struct.
func NewClassMetadata(name string, prototype any, embedded bool) (*ClassMetadata, error) {
	t := reflect.TypeOf(prototype)
	if t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	if t == nil || t.Kind() != reflect.Struct {
		return nil, mappingErr(ErrInvalidMapping, name, "", "prototype %T is not a struct", prototype)
	}

	if name == "" {
		name = t.Name()
	}

	return &ClassMetadata{
		Name:      name,
		GoType:    t,
		Embedded:  embedded,
		byName:    make(map[string]*FieldMapping),
		byStorage: make(map[string]*FieldMapping),
	}, nil
}

func (c *ClassMetadata) structField(name string) (reflect.StructField, error) {
	sf, ok := c.GoType.FieldByName(name)
	if !ok {
		return reflect.StructField{}, mappingErr(ErrInvalidMapping, c.Name, name, "no such struct field")
	}

	if !sf.IsExported() {
		return reflect.StructField{}, mappingErr(ErrInvalidMapping, c.Name, name, "struct field is not exported")
	}

	return sf, nil
}

// AddField attaches a mapped field. Name must match an exported struct field.
func (c *ClassMetadata) AddField(f FieldMapping) error {
	sf, err := c.structField(f.Name)
	if err != nil {
		return err
	}

	if f.StorageName == "" {
		f.StorageName = f.Name
	}

	if _, dup := c.byName[f.Name]; dup {
		return mappingErr(ErrDuplicateField, c.Name, f.Name, "field mapped twice")
	}

	if _, dup := c.byStorage[f.StorageName]; dup || f.StorageName == StorageRID || f.StorageName == StorageVersion {
		return mappingErr(ErrDuplicateField, c.Name, f.Name, "storage name %q already in use", f.StorageName)
	}

	if f.Kind.IsEmbedded() && f.MappedBy != "" {
		return mappingErr(ErrInvalidMapping, c.Name, f.Name, "embedded associations cannot be inverse")
	}

	f.GoType = sf.Type
	f.index = sf.Index

	mapping := &f
	c.fields = append(c.fields, mapping)
	c.byName[f.Name] = mapping
	c.byStorage[f.StorageName] = mapping

	return nil
}

// SetIdentifier marks a string or rid.RID struct field as the record identity.
func (c *ClassMetadata) SetIdentifier(fieldName string) error {
	if c.Embedded {
		return mappingErr(ErrInvalidMapping, c.Name, fieldName, "embedded classes have no identifier")
	}

	sf, err := c.structField(fieldName)
	if err != nil {
		return err
	}

	if sf.Type.Kind() != reflect.String && sf.Type != ridType {
		return mappingErr(ErrInvalidMapping, c.Name, fieldName, "identifier must be a string or rid.RID, got %s", sf.Type)
	}

	if c.identifier != nil {
		return mappingErr(ErrDuplicateField, c.Name, fieldName, "identifier already mapped to %s", c.identifier.Name)
	}

	c.identifier = &FieldMapping{Name: fieldName, StorageName: StorageRID, GoType: sf.Type, index: sf.Index}

	return nil
}

// SetVersion marks an integer struct field as the record version.
func (c *ClassMetadata) SetVersion(fieldName string) error {
	sf, err := c.structField(fieldName)
	if err != nil {
		return err
	}

	switch sf.Type.Kind() {
	case reflect.Int, reflect.Int32, reflect.Int64:
	default:
		return mappingErr(ErrInvalidMapping, c.Name, fieldName, "version must be an integer, got %s", sf.Type)
	}

	if c.version != nil {
		return mappingErr(ErrDuplicateField, c.Name, fieldName, "version already mapped to %s", c.version.Name)
	}

	c.version = &FieldMapping{Name: fieldName, StorageName: StorageVersion, GoType: sf.Type, index: sf.Index}

	return nil
}

// Validate checks the class on its own. Cross-class checks happen in Factory.Resolve.
func (c *ClassMetadata) Validate() error {
	if !c.Embedded && c.identifier == nil {
		return mappingErr(ErrMissingIdentifier, c.Name, "", "document classes need an identifier field")
	}

	return nil
}

// Fields returns mapped fields in declaration order, excluding identity and version.
func (c *ClassMetadata) Fields() []*FieldMapping {
	return c.fields
}

// Field returns the mapping of a Go field name.
func (c *ClassMetadata) Field(name string) (*FieldMapping, bool) {
	f, ok := c.byName[name]

	return f, ok
}

// FieldByStorageName returns the mapping of a record property name.
func (c *ClassMetadata) FieldByStorageName(name string) (*FieldMapping, bool) {
	f, ok := c.byStorage[name]

	return f, ok
}

// Associations returns fields that refer to other classes.
func (c *ClassMetadata) Associations() []*FieldMapping {
	var out []*FieldMapping

	for _, f := range c.fields {
		if f.IsAssociation() {
			out = append(out, f)
		}
	}

	return out
}

func (c *ClassMetadata) IdentifierField() string {
	if c.identifier == nil {
		return ""
	}

	return c.identifier.Name
}

func (c *ClassMetadata) VersionField() string {
	if c.version == nil {
		return ""
	}

	return c.version.Name
}

func (c *ClassMetadata) HasVersion() bool {
	return c.version != nil
}

// IsInstance reports whether doc is a pointer to this class's struct type.
func (c *ClassMetadata) IsInstance(doc any) bool {
	t := reflect.TypeOf(doc)

	return t != nil && t.Kind() == reflect.Pointer && t.Elem() == c.GoType
}

// NewInstance returns a pointer to a new zero struct.
func (c *ClassMetadata) NewInstance() any {
	return reflect.New(c.GoType).Interface()
}

// Identifier returns the RID of doc, "" when unset.
func (c *ClassMetadata) Identifier(doc any) string {
	if c.identifier == nil {
		return ""
	}

	v := c.identifier.Value(doc)
	if v.Type() == ridType {
		r := v.Interface().(rid.RID)
		if r == (rid.RID{}) {
			return ""
		}

		return r.String()
	}

	return v.String()
}

// SetIdentifierValue stores id on doc. "" clears it.
func (c *ClassMetadata) SetIdentifierValue(doc any, id string) error {
	if c.identifier == nil {
		return mappingErr(ErrMissingIdentifier, c.Name, "", "cannot assign identity %s", id)
	}

	v := c.identifier.Value(doc)
	if v.Type() == ridType {
		if id == "" {
			v.Set(reflect.Zero(ridType))

			return nil
		}

		r, err := rid.Parse(id)
		if err != nil {
			return err
		}

		v.Set(reflect.ValueOf(r))

		return nil
	}

	v.SetString(id)

	return nil
}

// Version returns the version of doc, 0 when the class is unversioned.
func (c *ClassMetadata) Version(doc any) int64 {
	if c.version == nil {
		return 0
	}

	return c.version.Value(doc).Int()
}

func (c *ClassMetadata) SetVersionValue(doc any, version int64) {
	if c.version == nil {
		return
	}

	c.version.Value(doc).SetInt(version)
}

func (c *ClassMetadata) String() string {
	return c.Name + "(" + strconv.Itoa(len(c.fields)) + " fields)"
}

// Describe returns "Class" or "Class #12:3" for error messages.
func (c *ClassMetadata) Describe(doc any) string {
	if id := c.Identifier(doc); id != "" {
		return fmt.Sprintf("%s %s", c.Name, id)
	}

	return c.Name
}
