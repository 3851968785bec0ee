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


package types_test

import (
	"reflect"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/orientdb-odm/pkg/odm/types"
)

type status string

func (s status) String() string { return "status " + string(s) }

type flag bool

type upperType struct{}

func (upperType) Name() string { return "upper" }

func (upperType) ToDatabase(value any) (any, error) { return value, nil }

func (upperType) FromDatabase(raw any, _ reflect.Type) (any, error) { return raw, nil }

var _ = Describe("Registry", func() {
	var registry *types.Registry

	BeforeEach(func() {
		registry = types.NewRegistry()
	})

	It("should hold the built-in types", func() {
		for _, name := range []string{types.String, types.Long, types.DateTime, types.Link, types.Binary} {
			Expect(registry.Has(name)).To(BeTrue(), name)
		}
	})

	It("should keep registries independent", func() {
		Expect(registry.Register(upperType{})).To(Succeed())
		Expect(types.NewRegistry().Has("upper")).To(BeFalse())
	})

	It("should reject duplicate and unknown names", func() {
		Expect(registry.Register(upperType{})).To(Succeed())
		Expect(registry.Register(upperType{})).To(MatchError(types.ErrDuplicateType))

		_, err := registry.Lookup("nope")
		Expect(err).To(MatchError(types.ErrUnknownType))
	})

	DescribeTable("should infer names from Go types",
		func(sample any, expected string) {
			name, ok := types.ForGoType(reflect.TypeOf(sample))
			Expect(ok).To(BeTrue())
			Expect(name).To(Equal(expected))
		},
		Entry("string", "", types.String),
		Entry("bool", false, types.Boolean),
		Entry("int32", int32(0), types.Integer),
		Entry("int64", int64(0), types.Long),
		Entry("float64", 0.0, types.Double),
		Entry("time", time.Time{}, types.DateTime),
		Entry("bytes", []byte{}, types.Binary),
	)

	It("should not infer struct types", func() {
		_, ok := types.ForGoType(reflect.TypeOf(struct{ A int }{}))
		Expect(ok).To(BeFalse())
	})
})

var _ = Describe("Converters", func() {
	var registry *types.Registry

	BeforeEach(func() {
		registry = types.NewRegistry()
	})

	convert := func(name string, raw any, target any) (any, error) {
		t, err := registry.Lookup(name)
		Expect(err).NotTo(HaveOccurred())

		return t.FromDatabase(raw, reflect.TypeOf(target))
	}

	It("should convert JSON numbers to the target integer kind", func() {
		v, err := convert(types.Integer, float64(42), int32(0))
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(int32(42)))

		_, err = convert(types.Integer, 4.5, int32(0))
		Expect(err).To(MatchError(types.ErrConversion))
	})

	It("should range check on the way to the database", func() {
		short, _ := registry.Lookup(types.Short)
		_, err := short.ToDatabase(70000)
		Expect(err).To(MatchError(types.ErrConversion))

		v, err := short.ToDatabase(int16(12))
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(int64(12)))
	})

	It("should round trip datetimes in UTC", func() {
		dt, _ := registry.Lookup(types.DateTime)
		ts := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

		out, err := dt.ToDatabase(ts)
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal("2024-03-01 12:30:00"))

		back, err := dt.FromDatabase(out, reflect.TypeOf(time.Time{}))
		Expect(err).NotTo(HaveOccurred())
		Expect(back.(time.Time).Equal(ts)).To(BeTrue())
	})

	It("should render zero times as null", func() {
		dt, _ := registry.Lookup(types.Date)
		out, err := dt.ToDatabase(time.Time{})
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(BeNil())
	})

	It("should encode binaries as base64", func() {
		bin, _ := registry.Lookup(types.Binary)
		out, err := bin.ToDatabase([]byte("hi"))
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal("aGk="))

		back, err := bin.FromDatabase("aGk=", reflect.TypeOf([]byte(nil)))
		Expect(err).NotTo(HaveOccurred())
		Expect(back).To(Equal([]byte("hi")))
	})

	It("should normalize link strings", func() {
		link, _ := registry.Lookup(types.Link)
		out, err := link.ToDatabase("9:1")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal("#9:1"))

		v, err := convert(types.Link, map[string]any{"@rid": "#9:1"}, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal("#9:1"))
	})

	It("should return zero values for null", func() {
		v, err := convert(types.String, nil, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(""))
	})

	It("should write named string and bool types by their underlying value", func() {
		str, _ := registry.Lookup(types.String)
		out, err := str.ToDatabase(status("open"))
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal("open"))

		back, err := convert(types.String, "open", status(""))
		Expect(err).NotTo(HaveOccurred())
		Expect(back).To(Equal(status("open")))

		boolean, _ := registry.Lookup(types.Boolean)
		out, err = boolean.ToDatabase(flag(true))
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal(true))

		_, err = boolean.ToDatabase("yes")
		Expect(err).To(MatchError(types.ErrConversion))
	})

	It("should fill pointer targets", func() {
		v, err := convert(types.Long, float64(7), new(int64))
		Expect(err).NotTo(HaveOccurred())
		Expect(*(v.(*int64))).To(Equal(int64(7)))
	})
})
