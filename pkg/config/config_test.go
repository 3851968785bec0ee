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

package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/orientdb-odm/pkg/config"
)

const sample = `
binding:
  url: http://orient.local:2480
  database: demo
  username: root
  password: secret
  timeout: 5s
  serverVersion: 2.0.18
  compressionThreshold: 4096
session:
  optimisticLocking: false
retry:
  enabled: true
  maxRetries: 2
`

var _ = Describe("Config", func() {
	It("should decode YAML over the defaults", func() {
		cfg, err := config.Parse(strings.NewReader(sample))
		Expect(err).NotTo(HaveOccurred())

		Expect(cfg.Binding.URL).To(Equal("http://orient.local:2480"))
		Expect(cfg.Binding.Timeout).To(Equal(5 * time.Second))
		Expect(cfg.Binding.CompressionThreshold).To(Equal(4096))
		Expect(cfg.Session.OptimisticLocking).To(BeFalse())
		Expect(cfg.Session.LockRecords).To(BeTrue())
		Expect(cfg.Session.FetchPlan).To(Equal("*:0"))
		Expect(cfg.Retry.MaxRetries).To(Equal(uint64(2)))
		Expect(cfg.Retry.InitialInterval).To(Equal(100 * time.Millisecond))
		Expect(cfg.Validate()).To(Succeed())
	})

	It("should accept an empty document", func() {
		cfg, err := config.Parse(strings.NewReader(""))
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg).To(Equal(config.Default()))
	})

	It("should reject unknown keys", func() {
		_, err := config.Parse(strings.NewReader("binding:\n  uri: http://x\n"))
		Expect(err).To(HaveOccurred())
	})

	It("should collect every validation problem", func() {
		cfg := config.Default()
		cfg.Binding.URL = "orient.local"
		cfg.Session.FindConcurrency = 0

		err := cfg.Validate()
		Expect(errors.Is(err, config.ErrInvalidConfig)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("binding.url"))
		Expect(err.Error()).To(ContainSubstring("binding.database"))
		Expect(err.Error()).To(ContainSubstring("session.findConcurrency"))
	})

	It("should let the environment win over the file", func() {
		path := filepath.Join(GinkgoT().TempDir(), "odm.yaml")
		Expect(os.WriteFile(path, []byte(sample), 0o600)).To(Succeed())

		GinkgoT().Setenv("ODM_DATABASE", "override")
		GinkgoT().Setenv("ODM_TIMEOUT", "1m")
		GinkgoT().Setenv("ODM_RETRY", "off")

		cfg, err := config.Load(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Binding.Database).To(Equal("override"))
		Expect(cfg.Binding.Timeout).To(Equal(time.Minute))
		Expect(cfg.Retry.Enabled).To(BeFalse())
		Expect(cfg.Binding.Username).To(Equal("root"))
	})

	It("should fail for missing files", func() {
		_, err := config.Load(filepath.Join(GinkgoT().TempDir(), "absent.yaml"))
		Expect(err).To(MatchError(ContainSubstring("failed to read config file")))
	})

	It("should clone independently and derive the retry policy", func() {
		cfg := config.Default()
		clone, err := cfg.Clone()
		Expect(err).NotTo(HaveOccurred())
		Expect(clone).To(Equal(cfg))

		clone.Binding.Database = "other"
		Expect(cfg.Binding.Database).To(BeEmpty())

		policy := cfg.RetryPolicy()
		Expect(policy.MaxRetries).To(Equal(cfg.Retry.MaxRetries))
		Expect(policy.MaxInterval).To(Equal(cfg.Retry.MaxInterval))
	})
})
