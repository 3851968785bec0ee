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
	"reflect"
	"strings"
	"unicode"
	"unicode/utf8"
)

// TagName is the struct tag read by RegisterStruct.
//
//	type Person struct {
//		RID     string        `odm:",id"`
//		Version int64         `odm:",version"`
//		Name    string        `odm:"name"`
//		Email   *EmailAddress `odm:"email,embed"`
//		Country *Country      `odm:"country,link,cascade=persist"`
//		Friends *collection.Collection `odm:"friends,linkset,target=Person"`
//		Secret  string        `odm:"-"`
//	}
//
// Options: id, version, nullable, orphanRemoval, type=<registry name>, target=<class>,
// mappedBy=<field>, cascade=persist|remove|all and one association kind
// (link, linklist, linkset, linkmap, linkbag, embed, embedlist, embedset, embedmap).
// Untagged exported fields are mapped with a lower-camel storage name.
const TagName = "odm"

// ClassOption tweaks RegisterStruct.
type ClassOption func(*classOptions)

type classOptions struct {
	embedded bool
}

// AsEmbedded registers the struct as an embedded class without identity.
func AsEmbedded() ClassOption {
	return func(o *classOptions) { o.embedded = true }
}

// RegisterStruct builds a class from the odm tags of prototype and registers it.
func (f *Factory) RegisterStruct(name string, prototype any, opts ...ClassOption) (*ClassMetadata, error) {
	var o classOptions
	for _, opt := range opts {
		opt(&o)
	}

	cm, err := ClassFromStruct(name, prototype, o.embedded)
	if err != nil {
		return nil, err
	}

	if err := f.Register(cm); err != nil {
		return nil, err
	}

	return cm, nil
}

// ClassFromStruct reads odm tags without registering the result.
func ClassFromStruct(name string, prototype any, embedded bool) (*ClassMetadata, error) {
	cm, err := NewClassMetadata(name, prototype, embedded)
	if err != nil {
		return nil, err
	}

	for i := 0; i < cm.GoType.NumField(); i++ {
		sf := cm.GoType.Field(i)
		if !sf.IsExported() || sf.Anonymous {
			continue
		}

		tag, hasTag := sf.Tag.Lookup(TagName)
		if tag == "-" {
			continue
		}

		fm, role, err := parseTag(cm.Name, sf, tag, hasTag)
		if err != nil {
			return nil, err
		}

		switch role {
		case roleIdentifier:
			err = cm.SetIdentifier(sf.Name)
		case roleVersion:
			err = cm.SetVersion(sf.Name)
		default:
			err = cm.AddField(fm)
		}

		if err != nil {
			return nil, err
		}
	}

	return cm, nil
}

type fieldRole int

const (
	roleField fieldRole = iota
	roleIdentifier
	roleVersion
)

func parseTag(class string, sf reflect.StructField, tag string, hasTag bool) (FieldMapping, fieldRole, error) {
	fm := FieldMapping{
		Name:     sf.Name,
		Nullable: nilableKind(sf.Type),
	}
	role := roleField

	parts := strings.Split(tag, ",")
	fm.StorageName = strings.TrimSpace(parts[0])

	if !hasTag || fm.StorageName == "" {
		fm.StorageName = lowerFirst(sf.Name)
	}

	for _, raw := range parts[1:] {
		opt := strings.TrimSpace(raw)
		key, value, _ := strings.Cut(opt, "=")

		switch key {
		case "":
		case "id":
			role = roleIdentifier
		case "version":
			role = roleVersion
		case "nullable":
			fm.Nullable = true
		case "orphanRemoval":
			fm.OrphanRemoval = true
		case "type":
			fm.Type = value
		case "target":
			fm.TargetClass = value
		case "mappedBy":
			fm.MappedBy = value
		case "cascade":
			for _, c := range strings.Split(value, "|") {
				switch c {
				case "persist":
					fm.CascadePersist = true
				case "remove":
					fm.CascadeRemove = true
				case "all":
					fm.CascadePersist = true
					fm.CascadeRemove = true
				default:
					return fm, role, mappingErr(ErrInvalidMapping, class, sf.Name, "unknown cascade %q", c)
				}
			}
		default:
			kind, err := ParseKind(key)
			if err != nil || kind == None {
				return fm, role, mappingErr(ErrInvalidMapping, class, sf.Name, "unknown tag option %q", opt)
			}

			if fm.Kind != None {
				return fm, role, mappingErr(ErrInvalidMapping, class, sf.Name, "association kind declared twice")
			}

			fm.Kind = kind
		}
	}

	return fm, role, nil
}

func lowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}

	return string(unicode.ToLower(r)) + s[size:]
}
