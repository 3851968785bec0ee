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

package env_test

import (
	"errors"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/orientdb-odm/pkg/env"
)

const key = "ODM_ENV_TEST_VALUE"

var _ = Describe("Environment lookups", func() {
	AfterEach(func() {
		Expect(os.Unsetenv(key)).To(Succeed())
	})

	It("should fall back to defaults for unset optional variables", func() {
		s, err := env.GetAsString(key, false, "fallback")
		Expect(err).NotTo(HaveOccurred())
		Expect(s).To(Equal("fallback"))

		d, err := env.GetAsDuration(key, false, 5*time.Second)
		Expect(err).NotTo(HaveOccurred())
		Expect(d).To(Equal(5 * time.Second))
	})

	It("should fail for unset required variables", func() {
		_, err := env.GetAsInt(key, true, 0)
		Expect(errors.Is(err, env.ErrMissing)).To(BeTrue())
	})

	DescribeTable("should parse booleans",
		func(raw string, expected bool) {
			GinkgoT().Setenv(key, raw)

			b, err := env.GetAsBool(key, true, !expected)
			Expect(err).NotTo(HaveOccurred())
			Expect(b).To(Equal(expected))
		},
		Entry("true", "true", true),
		Entry("yes", "YES", true),
		Entry("on", "on", true),
		Entry("zero", "0", false),
		Entry("off", "off", false),
	)

	It("should parse numbers and durations", func() {
		GinkgoT().Setenv(key, " 42 ")
		i, err := env.GetAsInt(key, true, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(i).To(Equal(42))

		GinkgoT().Setenv(key, "1.5")
		f, err := env.GetAsFloat(key, true, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(f).To(Equal(1.5))

		GinkgoT().Setenv(key, "1m30s")
		d, err := env.GetAsDuration(key, true, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(d).To(Equal(90 * time.Second))
	})

	It("should only fail on malformed values when required", func() {
		GinkgoT().Setenv(key, "soon")

		_, err := env.GetAsDuration(key, true, 0)
		Expect(errors.Is(err, env.ErrMalformed)).To(BeTrue())

		d, err := env.GetAsDuration(key, false, time.Minute)
		Expect(err).NotTo(HaveOccurred())
		Expect(d).To(Equal(time.Minute))
	})
})
