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
	"strings"
)

// AssociationKind describes how a field relates to other records.
type AssociationKind int

const (
	None AssociationKind = iota
	Link
	LinkList
	LinkSet
	LinkMap
	LinkBag
	Embed
	EmbedList
	EmbedSet
	EmbedMap
)

var kindNames = map[AssociationKind]string{
	None:      "none",
	Link:      "link",
	LinkList:  "linklist",
	LinkSet:   "linkset",
	LinkMap:   "linkmap",
	LinkBag:   "linkbag",
	Embed:     "embed",
	EmbedList: "embedlist",
	EmbedSet:  "embedset",
	EmbedMap:  "embedmap",
}

func (k AssociationKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}

	return fmt.Sprintf("AssociationKind(%d)", int(k))
}

// ParseKind is the inverse of String, case-insensitive.
func ParseKind(s string) (AssociationKind, error) {
	for kind, name := range kindNames {
		if strings.EqualFold(name, s) {
			return kind, nil
		}
	}

	return None, fmt.Errorf("%w: unknown association kind %q", ErrInvalidMapping, s)
}

func (k AssociationKind) IsAssociation() bool { return k != None }

func (k AssociationKind) IsLink() bool { return k >= Link && k <= LinkBag }

func (k AssociationKind) IsEmbedded() bool { return k >= Embed && k <= EmbedMap }

func (k AssociationKind) IsToMany() bool {
	return k != None && k != Link && k != Embed
}

func (k AssociationKind) IsMap() bool { return k == LinkMap || k == EmbedMap }

func (k AssociationKind) IsSet() bool { return k == LinkSet || k == EmbedSet }
