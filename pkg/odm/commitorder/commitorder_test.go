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

package commitorder_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/orientdb-odm/pkg/odm/commitorder"
	"github.com/united-manufacturing-hub/orientdb-odm/pkg/odm/metadata"
)

type doc struct {
	RID    string
	Parent *doc
}

// class builds a document class whose Parent field is the inverse side of target.
func class(name, inverseOf string) *metadata.ClassMetadata {
	cm, err := metadata.NewClassMetadata(name, &doc{}, false)
	Expect(err).NotTo(HaveOccurred())
	Expect(cm.SetIdentifier("RID")).To(Succeed())

	if inverseOf != "" {
		Expect(cm.AddField(metadata.FieldMapping{
			Name:        "Parent",
			StorageName: "parent",
			Kind:        metadata.Link,
			TargetClass: inverseOf,
			MappedBy:    "children",
		})).To(Succeed())
	}

	return cm
}

func names(classes []*metadata.ClassMetadata) []string {
	out := make([]string, len(classes))
	for i, cm := range classes {
		out[i] = cm.Name
	}

	return out
}

var _ = Describe("Calculator", func() {
	var calc *commitorder.Calculator

	BeforeEach(func() {
		calc = commitorder.NewCalculator()
	})

	It("should order parents before children and keep registration order otherwise", func() {
		order, err := calc.Order([]*metadata.ClassMetadata{
			class("A", ""), class("B", "A"), class("C", "B"), class("D", ""),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(names(order)).To(Equal([]string{"A", "B", "C", "D"}))
	})

	It("should move a referenced class ahead of its referrer", func() {
		order, err := calc.Order([]*metadata.ClassMetadata{class("A", "B"), class("B", "")})
		Expect(err).NotTo(HaveOccurred())
		Expect(names(order)).To(Equal([]string{"B", "A"}))
	})

	It("should satisfy every edge in a wider graph", func() {
		classes := []*metadata.ClassMetadata{
			class("Order", "Customer"), class("Line", "Order"), class("Customer", ""), class("Note", "Line"),
		}
		order, err := calc.Order(classes)
		Expect(err).NotTo(HaveOccurred())

		pos := map[string]int{}
		for i, n := range names(order) {
			pos[n] = i
		}
		Expect(pos["Customer"]).To(BeNumerically("<", pos["Order"]))
		Expect(pos["Order"]).To(BeNumerically("<", pos["Line"]))
		Expect(pos["Line"]).To(BeNumerically("<", pos["Note"]))
	})

	It("should ignore self references and unknown targets", func() {
		order, err := calc.Order([]*metadata.ClassMetadata{class("Tree", "Tree"), class("Leaf", "Elsewhere")})
		Expect(err).NotTo(HaveOccurred())
		Expect(names(order)).To(Equal([]string{"Tree", "Leaf"}))
	})

	It("should report cycles", func() {
		_, err := calc.Order([]*metadata.ClassMetadata{class("A", "B"), class("B", "A")})

		var cycleErr *commitorder.CycleError
		Expect(errors.As(err, &cycleErr)).To(BeTrue())
		Expect(cycleErr.Path).To(HaveLen(3))
		Expect(cycleErr.Error()).To(ContainSubstring("->"))
	})

	It("should cache per class set until invalidated", func() {
		a, b := class("A", ""), class("B", "A")
		first, err := calc.Order([]*metadata.ClassMetadata{a, b})
		Expect(err).NotTo(HaveOccurred())

		// A later mapping change on the same names is invisible until Invalidate.
		Expect(a.AddField(metadata.FieldMapping{
			Name: "Parent", StorageName: "parent", Kind: metadata.Link, TargetClass: "B", MappedBy: "x",
		})).To(Succeed())

		second, err := calc.Order([]*metadata.ClassMetadata{a, b})
		Expect(err).NotTo(HaveOccurred())
		Expect(names(second)).To(Equal(names(first)))

		calc.Invalidate()
		_, err = calc.Order([]*metadata.ClassMetadata{a, b})
		Expect(err).To(HaveOccurred())
	})
})
