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
	_ "embed"
	"reflect"
	"sort"
	"strings"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
)

//go:embed directives.graphql
var directivesSource string

// LoadSDL registers the classes declared in a GraphQL SDL document.
//
//	type Country @document {
//		rid: ID @id
//		version: Int @version
//		name: String!
//	}
//	type Person @document {
//		rid: ID @id
//		email: EmailAddress @embed
//		country: Country @link(cascade: "persist")
//		tags: [String]
//	}
//	type EmailAddress @embedded { type: String }
//
// bindings maps each SDL type name to a Go prototype. SDL fields bind to the struct field
// whose odm storage name, lower-camel name or case-folded name matches.
func (f *Factory) LoadSDL(source string, bindings map[string]any) ([]*ClassMetadata, error) {
	schema, err := gqlparser.LoadSchema(
		&ast.Source{Name: "directives.graphql", Input: directivesSource, BuiltIn: true},
		&ast.Source{Name: "mapping.graphql", Input: source},
	)
	if err != nil {
		return nil, mappingErr(ErrInvalidMapping, "", "", "schema: %v", err)
	}

	defs := mappedDefinitions(schema)

	classes := make([]*ClassMetadata, 0, len(defs))
	for _, def := range defs {
		cm, err := classFromDefinition(def, schema, bindings)
		if err != nil {
			return nil, err
		}

		if err := f.Register(cm); err != nil {
			return nil, err
		}

		classes = append(classes, cm)
	}

	return classes, nil
}

// mappedDefinitions returns @document and @embedded object types in source order.
func mappedDefinitions(schema *ast.Schema) []*ast.Definition {
	var defs []*ast.Definition

	for _, def := range schema.Types {
		if def.BuiltIn || def.Kind != ast.Object {
			continue
		}

		if def.Directives.ForName("document") == nil && def.Directives.ForName("embedded") == nil {
			continue
		}

		defs = append(defs, def)
	}

	sort.Slice(defs, func(i, j int) bool {
		pi, pj := defs[i].Position, defs[j].Position
		if pi == nil || pj == nil {
			return defs[i].Name < defs[j].Name
		}

		return pi.Start < pj.Start
	})

	return defs
}

func directiveArg(d *ast.Directive, name string) string {
	if d == nil {
		return ""
	}

	arg := d.Arguments.ForName(name)
	if arg == nil || arg.Value == nil {
		return ""
	}

	return arg.Value.Raw
}

func classFromDefinition(def *ast.Definition, schema *ast.Schema, bindings map[string]any) (*ClassMetadata, error) {
	embedded := def.Directives.ForName("embedded") != nil

	name := def.Name
	if embedded {
		if n := directiveArg(def.Directives.ForName("embedded"), "name"); n != "" {
			name = n
		}
	} else if n := directiveArg(def.Directives.ForName("document"), "name"); n != "" {
		name = n
	}

	prototype, ok := bindings[def.Name]
	if !ok {
		return nil, mappingErr(ErrInvalidMapping, name, "", "no Go binding for SDL type %s", def.Name)
	}

	cm, err := NewClassMetadata(name, prototype, embedded)
	if err != nil {
		return nil, err
	}

	for _, fd := range def.Fields {
		if strings.HasPrefix(fd.Name, "__") || fd.Directives.ForName("transient") != nil {
			continue
		}

		goName, ok := bindField(cm.GoType, fd.Name)
		if !ok {
			return nil, mappingErr(ErrInvalidMapping, name, fd.Name, "no struct field of %s binds to it", cm.GoType)
		}

		switch {
		case fd.Directives.ForName("id") != nil:
			err = cm.SetIdentifier(goName)
		case fd.Directives.ForName("version") != nil:
			err = cm.SetVersion(goName)
		default:
			var fm FieldMapping

			fm, err = fieldFromDefinition(name, goName, fd, schema)
			if err == nil {
				err = cm.AddField(fm)
			}
		}

		if err != nil {
			return nil, err
		}
	}

	return cm, nil
}

// builtinScalars are inferred from the bound Go field type.
var builtinScalars = map[string]bool{
	"String":  true,
	"ID":      true,
	"Boolean": true,
	"Int":     true,
	"Float":   true,
}

func fieldFromDefinition(class, goName string, fd *ast.FieldDefinition, schema *ast.Schema) (FieldMapping, error) {
	fm := FieldMapping{
		Name:        goName,
		StorageName: fd.Name,
		Nullable:    !fd.Type.NonNull,
	}

	if d := fd.Directives.ForName("storage"); d != nil {
		fm.StorageName = directiveArg(d, "name")
	}

	if d := fd.Directives.ForName("type"); d != nil {
		fm.Type = directiveArg(d, "name")
	}

	isList := fd.Type.Elem != nil
	named := fd.Type.Name()
	target := schema.Types[named]

	link := fd.Directives.ForName("link")
	embed := fd.Directives.ForName("embed")

	switch {
	case link != nil || (target != nil && target.Directives.ForName("document") != nil):
		kind, err := kindFrom(directiveArg(link, "kind"), isList, Link, LinkList)
		if err != nil {
			return fm, mappingErr(ErrInvalidMapping, class, goName, "%v", err)
		}

		fm.Kind = kind
		fm.TargetClass = targetName(directiveArg(link, "target"), target)
		fm.MappedBy = directiveArg(link, "mappedBy")
		fm.OrphanRemoval = directiveArg(link, "orphanRemoval") == "true"

		for _, c := range strings.Split(directiveArg(link, "cascade"), "|") {
			switch c {
			case "":
			case "persist":
				fm.CascadePersist = true
			case "remove":
				fm.CascadeRemove = true
			case "all":
				fm.CascadePersist, fm.CascadeRemove = true, true
			default:
				return fm, mappingErr(ErrInvalidMapping, class, goName, "unknown cascade %q", c)
			}
		}
	case embed != nil || (target != nil && target.Directives.ForName("embedded") != nil):
		kind, err := kindFrom(directiveArg(embed, "kind"), isList, Embed, EmbedList)
		if err != nil {
			return fm, mappingErr(ErrInvalidMapping, class, goName, "%v", err)
		}

		fm.Kind = kind
		fm.TargetClass = targetName(directiveArg(embed, "target"), target)
	case isList:
		fm.Kind = EmbedList
		if fm.Type == "" {
			fm.Type = scalarType(named)
		}
	default:
		if fm.Type == "" {
			fm.Type = scalarType(named)
		}
	}

	return fm, nil
}

func targetName(explicit string, target *ast.Definition) string {
	if explicit != "" {
		return explicit
	}

	if target == nil {
		return ""
	}

	for _, d := range []string{"document", "embedded"} {
		if n := directiveArg(target.Directives.ForName(d), "name"); n != "" {
			return n
		}
	}

	return target.Name
}

// scalarType leaves built-in scalars to Go type inference and passes custom scalar
// names through lower-cased, so `scalar DateTime` resolves to the datetime type.
func scalarType(named string) string {
	if builtinScalars[named] {
		return ""
	}

	return strings.ToLower(named)
}

func kindFrom(explicit string, isList bool, single, many AssociationKind) (AssociationKind, error) {
	if explicit == "" {
		if isList {
			return many, nil
		}

		return single, nil
	}

	prefix := "link"
	if single == Embed {
		prefix = "embed"
	}

	return ParseKind(prefix + explicit)
}

// bindField finds the struct field for an SDL field name.
func bindField(t reflect.Type, sdlName string) (string, bool) {
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}

		if tag, ok := sf.Tag.Lookup(TagName); ok {
			if storage, _, _ := strings.Cut(tag, ","); storage == sdlName {
				return sf.Name, true
			}
		}
	}

	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if sf.IsExported() && (lowerFirst(sf.Name) == sdlName || strings.EqualFold(sf.Name, sdlName)) {
			return sf.Name, true
		}
	}

	return "", false
}
