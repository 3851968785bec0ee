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


package rid_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/orientdb-odm/pkg/odm/rid"
)

var _ = Describe("RID", func() {
	DescribeTable("should parse valid identities",
		func(input string, cluster int16, position int64) {
			r, err := rid.Parse(input)
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Cluster).To(Equal(cluster))
			Expect(r.Position).To(Equal(position))
		},
		Entry("with hash", "#12:3", int16(12), int64(3)),
		Entry("without hash", "9:0", int16(9), int64(0)),
		Entry("temporary", "#-1:-2", int16(-1), int64(-2)),
	)

	DescribeTable("should reject malformed identities",
		func(input string) {
			_, err := rid.Parse(input)
			Expect(err).To(MatchError(rid.ErrInvalidRID))
		},
		Entry("empty", ""),
		Entry("no separator", "#12"),
		Entry("missing position", "#12:"),
		Entry("non numeric", "#a:b"),
		Entry("cluster overflow", "#70000:1"),
	)

	It("should format and normalize", func() {
		r := rid.MustParse("5:10")
		Expect(r.String()).To(Equal("#5:10"))
		Expect(r.Path()).To(Equal("5:10"))

		normalized, err := rid.Normalize(" 5:10 ")
		Expect(err).NotTo(HaveOccurred())
		Expect(normalized).To(Equal("#5:10"))
	})

	It("should detect temporary identities", func() {
		Expect(rid.MustParse("#-1:-1").IsTemporary()).To(BeTrue())
		Expect(rid.MustParse("#3:1").IsTemporary()).To(BeFalse())
		Expect(rid.IsValid("#3:1")).To(BeTrue())
		Expect(rid.IsValid("nope")).To(BeFalse())
	})
})
