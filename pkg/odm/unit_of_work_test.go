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

package odm_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/orientdb-odm/pkg/odm"
	"github.com/united-manufacturing-hub/orientdb-odm/pkg/odm/collection"
)

var _ = Describe("UnitOfWork", func() {
	var (
		s   *session
		uow *odm.UnitOfWork
	)

	BeforeEach(func() {
		s = newSession(testConfig())
		uow = s.manager.UnitOfWork()
	})

	AfterEach(func() {
		s.close()
	})

	Describe("Persist", func() {
		It("should schedule new documents for insertion", func() {
			c := &Country{Name: "Atlantis"}

			Expect(uow.State(c)).To(Equal(odm.StateNew))
			Expect(uow.Persist(c)).To(Succeed())
			Expect(uow.State(c)).To(Equal(odm.StateManaged))
			Expect(uow.IsScheduledForInsert(c)).To(BeTrue())
			Expect(uow.IsInIdentityMap(c)).To(BeFalse())
		})

		It("should reject values that are not mapped documents", func() {
			err := uow.Persist(Country{Name: "by value"})
			Expect(errors.Is(err, odm.ErrInvalidArgument)).To(BeTrue())

			var iae *odm.InvalidArgumentError
			Expect(errors.As(uow.Persist(&struct{ Name string }{}), &iae)).To(BeTrue())
		})

		It("should reject embedded documents", func() {
			Expect(errors.Is(uow.Persist(&EmailAddress{Type: "work"}), odm.ErrInvalidArgument)).To(BeTrue())
		})

		It("should cascade to links flagged cascade-persist", func() {
			p := &Person{Name: "Ada", Country: &Country{Name: "Atlantis"}}

			Expect(uow.Persist(p)).To(Succeed())
			Expect(uow.IsScheduledForInsert(p.Country)).To(BeTrue())
		})

		It("should manage a detached document with an identity", func() {
			c := &Country{RID: "#9:0", Name: "Atlantis"}
			Expect(uow.State(c)).To(Equal(odm.StateDetached))

			Expect(uow.Persist(c)).To(Succeed())
			Expect(uow.State(c)).To(Equal(odm.StateManaged))
			Expect(uow.IsScheduledForInsert(c)).To(BeFalse())

			found, ok := uow.TryGetByID("9:0")
			Expect(ok).To(BeTrue())
			Expect(found).To(BeIdenticalTo(c))

			Expect(uow.ComputeChangeSets()).To(Succeed())
			cs, ok := uow.DocumentChangeSet(c)
			Expect(ok).To(BeTrue())
			Expect(cs.Fields()).To(Equal([]string{"Name"}))
		})

		It("should refuse to persist a removed document", func() {
			c := &Country{Name: "Atlantis"}
			Expect(uow.RegisterManaged(c, "#9:0", map[string]any{"Name": "Atlantis"})).To(Succeed())
			Expect(uow.Remove(c)).To(Succeed())

			err := uow.Persist(c)
			Expect(errors.Is(err, odm.ErrRemovedPersist)).To(BeTrue())

			var se *odm.SessionError
			Expect(errors.As(err, &se)).To(BeTrue())
			Expect(se.RID).To(Equal("#9:0"))
		})
	})

	Describe("Remove", func() {
		It("should fail for documents that are not managed", func() {
			Expect(errors.Is(uow.Remove(&Country{Name: "new"}), odm.ErrDetachedRemove)).To(BeTrue())
			Expect(errors.Is(uow.Remove(&Country{RID: "#9:9"}), odm.ErrDetachedRemove)).To(BeTrue())
		})

		It("should unschedule a pending insert", func() {
			c := &Country{Name: "Atlantis"}
			Expect(uow.Persist(c)).To(Succeed())
			Expect(uow.Remove(c)).To(Succeed())

			Expect(uow.IsScheduledForInsert(c)).To(BeFalse())
			Expect(uow.IsScheduledForDelete(c)).To(BeFalse())
			Expect(uow.State(c)).To(Equal(odm.StateNew))
		})

		It("should schedule managed documents and ignore their later mutations", func() {
			c := &Country{}
			Expect(uow.RegisterManaged(c, "#9:0", map[string]any{"Name": "Atlantis"})).To(Succeed())
			c.Name = "Atlantis"

			Expect(uow.Remove(c)).To(Succeed())
			Expect(uow.Remove(c)).To(Succeed())
			Expect(uow.State(c)).To(Equal(odm.StateRemoved))
			Expect(uow.IsScheduledForDelete(c)).To(BeTrue())

			c.Name = "Lemuria"
			Expect(uow.ComputeChangeSets()).To(Succeed())
			_, ok := uow.DocumentChangeSet(c)
			Expect(ok).To(BeFalse())
		})
	})

	Describe("RegisterManaged", func() {
		It("should keep one instance per identity", func() {
			a, b := &Country{}, &Country{}

			Expect(uow.RegisterManaged(a, "#9:0", nil)).To(Succeed())
			Expect(uow.RegisterManaged(a, "#9:0", nil)).To(Succeed())

			err := uow.RegisterManaged(b, "#9:0", nil)
			Expect(errors.Is(err, odm.ErrIdentityConflict)).To(BeTrue())
			Expect(uow.Size()).To(Equal(1))
			Expect(a.RID).To(Equal("#9:0"))
		})

		It("should reject unknown fields in the original data", func() {
			err := uow.RegisterManaged(&Country{}, "#9:0", map[string]any{"Population": 3})
			Expect(errors.Is(err, odm.ErrInvalidArgument)).To(BeTrue())
		})
	})

	Describe("ComputeChangeSets", func() {
		var p *Person

		BeforeEach(func() {
			p = &Person{Name: "Ada", Tags: []string{"math"}, Email: &EmailAddress{Type: "work"}}
			Expect(uow.RegisterManaged(p, "#10:0", map[string]any{
				"Name":  "Ada",
				"Tags":  []string{"math"},
				"Email": &EmailAddress{Type: "work"},
			})).To(Succeed())
		})

		It("should report nothing for an unchanged document", func() {
			Expect(uow.ComputeChangeSets()).To(Succeed())

			_, ok := uow.DocumentChangeSet(p)
			Expect(ok).To(BeFalse())
			Expect(uow.IsScheduledForUpdate(p)).To(BeFalse())
		})

		It("should list exactly the modified fields", func() {
			p.Name = "Ada Lovelace"
			p.Tags = append(p.Tags, "poetry")

			Expect(uow.ComputeChangeSets()).To(Succeed())

			cs, ok := uow.DocumentChangeSet(p)
			Expect(ok).To(BeTrue())
			Expect(cs.Fields()).To(Equal([]string{"Name", "Tags"}))
			Expect(uow.IsScheduledForUpdate(p)).To(BeTrue())

			name, err := cs.Field("Name")
			Expect(err).NotTo(HaveOccurred())
			Expect(name.Old).To(Equal("Ada"))
			Expect(name.New).To(Equal("Ada Lovelace"))

			_, err = cs.Field("Email")
			Expect(errors.Is(err, odm.ErrFieldNotInChangeSet)).To(BeTrue())
		})

		It("should detect in-place mutation of slices", func() {
			p.Tags[0] = "logic"

			Expect(uow.ComputeChangeSets()).To(Succeed())

			cs, ok := uow.DocumentChangeSet(p)
			Expect(ok).To(BeTrue())
			Expect(cs.Has("Tags")).To(BeTrue())
		})

		It("should compare embedded documents by content", func() {
			p.Email = &EmailAddress{Type: "work"}
			Expect(uow.ComputeChangeSets()).To(Succeed())
			_, ok := uow.DocumentChangeSet(p)
			Expect(ok).To(BeFalse())

			p.Email.Type = "home"
			Expect(uow.ComputeChangeSets()).To(Succeed())
			cs, ok := uow.DocumentChangeSet(p)
			Expect(ok).To(BeTrue())
			Expect(cs.Fields()).To(Equal([]string{"Email"}))
		})

		It("should compare links by identity", func() {
			p.Country = &Country{RID: "#9:0"}
			Expect(uow.Persist(p.Country)).To(Succeed())

			Expect(uow.ComputeChangeSets()).To(Succeed())
			cs, _ := uow.DocumentChangeSet(p)
			Expect(cs.Fields()).To(ContainElement("Country"))
		})

		It("should fail for new documents behind links that do not cascade", func() {
			p.Friends = collection.NewList(&Person{Name: "Charles"})

			err := uow.ComputeChangeSets()
			Expect(errors.Is(err, odm.ErrNotCascaded)).To(BeTrue())
		})

		It("should persist new documents behind cascading links", func() {
			p.Country = &Country{Name: "Atlantis"}

			Expect(uow.ComputeChangeSets()).To(Succeed())
			Expect(uow.IsScheduledForInsert(p.Country)).To(BeTrue())

			cs, ok := uow.DocumentChangeSet(p.Country)
			Expect(ok).To(BeTrue())
			Expect(cs.Fields()).To(Equal([]string{"Name"}))
		})

		It("should record a replaced collection as a field change", func() {
			friends := collection.NewList()
			p.Friends = friends

			Expect(uow.ComputeChangeSets()).To(Succeed())

			cs, ok := uow.DocumentChangeSet(p)
			Expect(ok).To(BeTrue())

			change, err := cs.Field("Friends")
			Expect(err).NotTo(HaveOccurred())
			Expect(change.Old).To(BeNil())
			Expect(change.New).To(BeIdenticalTo(friends))
		})

		It("should recompute a single document", func() {
			p.Name = "Countess"

			Expect(uow.ComputeSingleDocumentChangeSet(p)).To(Succeed())
			cs, ok := uow.DocumentChangeSet(p)
			Expect(ok).To(BeTrue())
			Expect(cs.Fields()).To(Equal([]string{"Name"}))

			err := uow.ComputeSingleDocumentChangeSet(&Person{})
			Expect(errors.Is(err, odm.ErrNotManaged)).To(BeTrue())
		})
	})

	Describe("Detach and Clear", func() {
		It("should forget detached documents and their pending work", func() {
			c := &Country{}
			Expect(uow.RegisterManaged(c, "#9:0", nil)).To(Succeed())
			n := &Country{Name: "new"}
			Expect(uow.Persist(n)).To(Succeed())

			uow.Detach(c)
			Expect(uow.State(c)).To(Equal(odm.StateDetached))
			Expect(uow.IsInIdentityMap(c)).To(BeFalse())

			uow.Clear("Country")
			Expect(uow.IsScheduledForInsert(n)).To(BeFalse())
			Expect(uow.Size()).To(BeZero())
		})

		It("should only clear documents of the given class", func() {
			c := &Country{}
			p := &Person{}
			Expect(uow.RegisterManaged(c, "#9:0", nil)).To(Succeed())
			Expect(uow.RegisterManaged(p, "#10:0", nil)).To(Succeed())

			uow.Clear("Person")
			Expect(uow.IsInIdentityMap(c)).To(BeTrue())
			Expect(uow.IsInIdentityMap(p)).To(BeFalse())

			uow.Clear("")
			Expect(uow.Size()).To(BeZero())
		})
	})

	Describe("Commit", func() {
		It("should not call the server when nothing changed", func() {
			c := &Country{Name: "Atlantis"}
			Expect(uow.RegisterManaged(c, "#9:0", map[string]any{"Name": "Atlantis"})).To(Succeed())

			Expect(uow.Commit(context.Background(), nil)).To(Succeed())
			Expect(uow.Commit(context.Background(), c)).To(Succeed())
		})
	})
})
