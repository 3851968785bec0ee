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


package metadata_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/orientdb-odm/pkg/odm/metadata"
	"github.com/united-manufacturing-hub/orientdb-odm/pkg/odm/rid"
	"github.com/united-manufacturing-hub/orientdb-odm/pkg/odm/types"
)

type Country struct {
	RID     string `odm:",id"`
	Version int64  `odm:",version"`
	Name    string `odm:"name"`
	Founded time.Time
	Secret  string `odm:"-"`
}

type EmailAddress struct {
	Type    string `odm:"type"`
	Address string `odm:"address"`
}

type Person struct {
	ID      rid.RID       `odm:",id"`
	Name    string        `odm:"name"`
	Email   *EmailAddress `odm:"email,embed"`
	Country *Country      `odm:"country,link,cascade=persist|remove"`
	Tags    []string      `odm:"tags,embedlist"`
	Nick    *string       `odm:"nick"`
}

type Orphan struct {
	Name string
}

var _ = Describe("Struct tag driver", func() {
	var factory *metadata.Factory

	BeforeEach(func() {
		factory = metadata.NewFactory(types.NewRegistry())
	})

	It("should read identifiers, versions and fields in declaration order", func() {
		cm, err := factory.RegisterStruct("Country", &Country{})
		Expect(err).NotTo(HaveOccurred())
		Expect(factory.Resolve()).To(Succeed())

		Expect(cm.IdentifierField()).To(Equal("RID"))
		Expect(cm.VersionField()).To(Equal("Version"))

		names := []string{}
		for _, f := range cm.Fields() {
			names = append(names, f.StorageName)
		}
		Expect(names).To(Equal([]string{"name", "founded"}))

		founded, ok := cm.Field("Founded")
		Expect(ok).To(BeTrue())
		Expect(founded.Type).To(Equal(types.DateTime))
	})

	It("should resolve association targets from Go types", func() {
		_, err := factory.RegisterStruct("Country", &Country{})
		Expect(err).NotTo(HaveOccurred())
		_, err = factory.RegisterStruct("EmailAddress", &EmailAddress{}, metadata.AsEmbedded())
		Expect(err).NotTo(HaveOccurred())
		person, err := factory.RegisterStruct("Person", &Person{})
		Expect(err).NotTo(HaveOccurred())
		Expect(factory.Resolve()).To(Succeed())

		email, _ := person.Field("Email")
		Expect(email.Kind).To(Equal(metadata.Embed))
		Expect(email.TargetClass).To(Equal("EmailAddress"))
		Expect(email.OrphanRemoval).To(BeTrue())

		country, _ := person.Field("Country")
		Expect(country.Kind).To(Equal(metadata.Link))
		Expect(country.TargetClass).To(Equal("Country"))
		Expect(country.CascadePersist).To(BeTrue())
		Expect(country.CascadeRemove).To(BeTrue())
		Expect(country.IsOwning()).To(BeTrue())

		tags, _ := person.Field("Tags")
		Expect(tags.IsAssociation()).To(BeFalse())
		Expect(tags.Type).To(Equal(types.Any))

		nick, _ := person.Field("Nick")
		Expect(nick.Nullable).To(BeTrue())

		Expect(person.Associations()).To(HaveLen(2))
	})

	It("should read and write through the accessor table", func() {
		cm, err := factory.RegisterStruct("Person", &Person{})
		Expect(err).NotTo(HaveOccurred())

		p := &Person{Name: "A"}
		name, _ := cm.Field("Name")
		Expect(name.Get(p)).To(Equal("A"))
		Expect(name.Set(p, "B")).To(Succeed())
		Expect(p.Name).To(Equal("B"))

		nick, _ := cm.Field("Nick")
		Expect(nick.IsNil(p)).To(BeTrue())
		Expect(nick.Set(p, "bee")).To(Succeed())
		Expect(*p.Nick).To(Equal("bee"))
		Expect(nick.Set(p, nil)).To(Succeed())
		Expect(p.Nick).To(BeNil())

		Expect(name.Set(p, 42)).To(MatchError(metadata.ErrInvalidMapping))

		Expect(cm.Identifier(p)).To(Equal(""))
		Expect(cm.SetIdentifierValue(p, "#4:2")).To(Succeed())
		Expect(p.ID).To(Equal(rid.RID{Cluster: 4, Position: 2}))
		Expect(cm.Identifier(p)).To(Equal("#4:2"))
	})

	It("should bump versions through the accessors", func() {
		cm, err := factory.RegisterStruct("Country", &Country{})
		Expect(err).NotTo(HaveOccurred())

		c := &Country{}
		cm.SetVersionValue(c, 3)
		Expect(cm.Version(c)).To(Equal(int64(3)))
		Expect(cm.HasVersion()).To(BeTrue())
	})

	It("should look up classes by instance", func() {
		cm, err := factory.RegisterStruct("Country", &Country{})
		Expect(err).NotTo(HaveOccurred())

		found, err := factory.MetadataFor(&Country{})
		Expect(err).NotTo(HaveOccurred())
		Expect(found).To(BeIdenticalTo(cm))
		Expect(cm.IsInstance(&Country{})).To(BeTrue())
		Expect(cm.NewInstance()).To(BeAssignableToTypeOf(&Country{}))

		_, err = factory.MetadataFor(Country{})
		Expect(err).To(MatchError(metadata.ErrNotDocument))

		_, err = factory.MetadataFor("Atlantis")
		Expect(err).To(MatchError(metadata.ErrNotDocument))

		_, err = factory.MetadataFor(&Orphan{})
		Expect(err).To(MatchError(metadata.ErrUnmappedClass))
	})

	Context("when mappings are wrong", func() {
		It("should require an identifier on document classes", func() {
			_, err := factory.RegisterStruct("Orphan", &Orphan{})

			var mappingErr *metadata.MappingError
			Expect(err).To(BeAssignableToTypeOf(mappingErr))
			Expect(err).To(MatchError(metadata.ErrMissingIdentifier))
			Expect(err.Error()).To(ContainSubstring("class Orphan"))
		})

		It("should reject duplicate storage names", func() {
			type Twice struct {
				RID string `odm:",id"`
				A   string `odm:"name"`
				B   string `odm:"name"`
			}

			_, err := factory.RegisterStruct("Twice", &Twice{})
			Expect(err).To(MatchError(metadata.ErrDuplicateField))
		})

		It("should reject duplicate classes", func() {
			_, err := factory.RegisterStruct("Country", &Country{})
			Expect(err).NotTo(HaveOccurred())

			_, err = factory.RegisterStruct("Country", &Country{})
			Expect(err).To(MatchError(metadata.ErrDuplicateClass))
		})

		It("should report targets that cannot be resolved", func() {
			type Dangling struct {
				RID  string `odm:",id"`
				City any    `odm:"city,link,target=City"`
			}

			_, err := factory.RegisterStruct("Dangling", &Dangling{})
			Expect(err).NotTo(HaveOccurred())
			Expect(factory.Resolve()).To(MatchError(metadata.ErrUnresolvableTarget))
			Expect(factory.IsResolved()).To(BeFalse())
		})

		It("should reject embeds of document classes", func() {
			type Holder struct {
				RID     string   `odm:",id"`
				Country *Country `odm:"country,embed"`
			}

			_, err := factory.RegisterStruct("Country", &Country{})
			Expect(err).NotTo(HaveOccurred())
			_, err = factory.RegisterStruct("Holder", &Holder{})
			Expect(err).NotTo(HaveOccurred())
			Expect(factory.Resolve()).To(MatchError(metadata.ErrInvalidMapping))
		})

		It("should reject unknown mappedBy fields", func() {
			type Club struct {
				RID     string   `odm:",id"`
				Members []*Person `odm:"members,linklist,target=Person,mappedBy=club"`
			}

			_, err := factory.RegisterStruct("Person", &Person{})
			Expect(err).NotTo(HaveOccurred())
			_, err = factory.RegisterStruct("Club", &Club{})
			Expect(err).NotTo(HaveOccurred())
			Expect(factory.Resolve()).To(MatchError(metadata.ErrUnresolvableTarget))
		})

		It("should reject unknown tag options and struct-typed scalars", func() {
			type BadOption struct {
				RID  string `odm:",id"`
				Name string `odm:"name,shiny"`
			}

			_, err := factory.RegisterStruct("BadOption", &BadOption{})
			Expect(err).To(MatchError(metadata.ErrInvalidMapping))

			type Untyped struct {
				RID   string `odm:",id"`
				Inner Orphan
			}

			_, err = factory.RegisterStruct("Untyped", &Untyped{})
			Expect(err).NotTo(HaveOccurred())
			Expect(factory.Resolve()).To(MatchError(metadata.ErrInvalidMapping))
		})
	})
})
