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
)

var _ = Describe("Persister", func() {
	var (
		s   *session
		m   *odm.Manager
		ctx context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		s = newSession(testConfig())
		m = s.manager
	})

	AfterEach(func() {
		s.close()
	})

	findPerson := func(id string, version int, friends []any) *Person {
		record := map[string]any{"@rid": id, "@version": version, "@class": "Person", "name": "Ada"}
		if friends != nil {
			record["friends"] = friends
		}

		expectDocument(id[1:], record)

		p, err := odm.Find[Person](ctx, m, id)
		Expect(err).NotTo(HaveOccurred())

		return p
	}

	findTeam := func(record map[string]any) *Team {
		record["@rid"] = "#11:0"
		record["@version"] = 2
		record["@class"] = "Team"
		record["name"] = "Core"
		expectDocument("11:0", record)

		t, err := odm.Find[Team](ctx, m, "#11:0")
		Expect(err).NotTo(HaveOccurred())

		return t
	}

	person := func(id string) any {
		doc, err := m.Reference("Person", id)
		Expect(err).NotTo(HaveOccurred())

		return doc
	}

	Describe("link collections", func() {
		It("should write removals and bump the owner version for the next update", func() {
			ada := findPerson("#10:0", 1, []any{"#10:1", "#10:2"})

			removed, err := ada.Friends.RemoveElement(ctx, person("#10:1"))
			Expect(err).NotTo(HaveOccurred())
			Expect(removed).To(BeTrue())

			expectBatch([]any{}, "UPDATE #10:0 REMOVE friends = #10:1")
			Expect(m.Flush(ctx)).To(Succeed())
			Expect(ada.Version).To(Equal(int64(2)))

			ada.Name = "Ada Lovelace"
			expectBatch([]any{1},
				"LET u0 = UPDATE #10:0 SET name = 'Ada Lovelace' RETURN COUNT WHERE @version = 2 LOCK RECORD",
				"RETURN [$u0]",
			)
			Expect(m.Flush(ctx)).To(Succeed())
			Expect(ada.Version).To(Equal(int64(3)))
		})

		It("should bump a document once when fields and collections change together", func() {
			ada := findPerson("#10:0", 1, []any{})

			ada.Name = "Ada Lovelace"
			ada.Friends.Add(person("#10:1"))

			expectBatch([]any{1},
				"LET u0 = UPDATE #10:0 SET name = 'Ada Lovelace' RETURN COUNT WHERE @version = 1 LOCK RECORD",
				"UPDATE #10:0 ADD friends = #10:1",
				"RETURN [$u0]",
			)
			Expect(m.Flush(ctx)).To(Succeed())
			Expect(ada.Version).To(Equal(int64(2)))
		})

		It("should empty a cleared collection in one statement", func() {
			ada := findPerson("#10:0", 1, []any{"#10:1"})

			Expect(ada.Friends.Clear(ctx)).To(Succeed())

			expectBatch([]any{}, "UPDATE #10:0 SET friends = []")
			Expect(m.Flush(ctx)).To(Succeed())
			Expect(ada.Version).To(Equal(int64(2)))
			Expect(m.UnitOfWork().IsScheduledForUpdate(ada)).To(BeFalse())

			Expect(m.Flush(ctx)).To(Succeed())
		})

		It("should delete elements dropped from an orphan removal collection", func() {
			team := findTeam(map[string]any{"members": []any{"#10:1", "#10:2"}})
			grace := person("#10:2")

			removed, err := team.Members.RemoveElement(ctx, grace)
			Expect(err).NotTo(HaveOccurred())
			Expect(removed).To(BeTrue())
			Expect(m.UnitOfWork().IsScheduledForDelete(grace)).To(BeTrue())

			expectBatch([]any{},
				"UPDATE #11:0 REMOVE members = #10:2",
				"DELETE FROM #10:2",
			)
			Expect(m.Flush(ctx)).To(Succeed())

			Expect(m.UnitOfWork().State(grace)).To(Equal(odm.StateDetached))
			Expect(m.UnitOfWork().IsInIdentityMap(grace)).To(BeFalse())
			Expect(team.Version).To(Equal(int64(3)))
		})
	})

	Describe("link maps", func() {
		It("should write removed keys and changed entries", func() {
			team := findTeam(map[string]any{"roles": map[string]any{"lead": "#10:1", "owner": "#10:2"}})

			_, found, err := team.Roles.Remove(ctx, "owner")
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(BeTrue())
			Expect(team.Roles.Set("lead", person("#10:3"))).To(Succeed())

			expectBatch([]any{},
				"UPDATE #11:0 REMOVE roles = 'owner'",
				"UPDATE #11:0 PUT roles = 'lead', #10:3",
			)
			Expect(m.Flush(ctx)).To(Succeed())

			Expect(team.Version).To(Equal(int64(3)))
			Expect(team.Roles.IsDirty()).To(BeFalse())

			keys, err := team.Roles.Keys(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(keys).To(Equal([]string{"lead"}))
		})
	})

	Describe("stale updates", func() {
		It("should apply the committed part of the script and report only the stale documents", func() {
			expectDocument("9:0", map[string]any{"@rid": "#9:0", "@version": 3, "@class": "Country", "name": "A"})
			expectDocument("9:1", map[string]any{"@rid": "#9:1", "@version": 5, "@class": "Country", "name": "B"})
			expectDocument("9:2", map[string]any{"@rid": "#9:2", "@version": 1, "@class": "Country", "name": "C"})

			a, err := odm.Find[Country](ctx, m, "#9:0")
			Expect(err).NotTo(HaveOccurred())
			b, err := odm.Find[Country](ctx, m, "#9:1")
			Expect(err).NotTo(HaveOccurred())
			c, err := odm.Find[Country](ctx, m, "#9:2")
			Expect(err).NotTo(HaveOccurred())

			a.Name = "A2"
			b.Name = "B2"
			Expect(m.Remove(c)).To(Succeed())

			expectBatch([]any{0, 1},
				"LET u0 = UPDATE #9:0 SET name = 'A2' RETURN COUNT WHERE @version = 3 LOCK RECORD",
				"LET u1 = UPDATE #9:1 SET name = 'B2' RETURN COUNT WHERE @version = 5 LOCK RECORD",
				"DELETE FROM #9:2",
				"RETURN [$u0,$u1]",
			)

			err = m.Flush(ctx)
			Expect(errors.Is(err, odm.ErrOptimisticLock)).To(BeTrue())

			var lockErr *odm.OptimisticLockError
			Expect(errors.As(err, &lockErr)).To(BeTrue())
			Expect(lockErr.Documents).To(ConsistOf(BeIdenticalTo(a)))

			uow := m.UnitOfWork()
			Expect(a.Version).To(Equal(int64(3)))
			Expect(uow.IsScheduledForUpdate(a)).To(BeTrue())
			Expect(b.Version).To(Equal(int64(6)))
			Expect(uow.IsScheduledForUpdate(b)).To(BeFalse())
			Expect(uow.State(c)).To(Equal(odm.StateDetached))

			expectBatch([]any{1},
				"LET u0 = UPDATE #9:0 SET name = 'A2' RETURN COUNT WHERE @version = 3 LOCK RECORD",
				"RETURN [$u0]",
			)
			Expect(m.Flush(ctx)).To(Succeed())
			Expect(a.Version).To(Equal(int64(4)))
		})
	})
})
