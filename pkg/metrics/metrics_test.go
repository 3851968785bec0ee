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

package metrics_test

import (
	"io"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/united-manufacturing-hub/orientdb-odm/pkg/metrics"
)

func counterValue(name string, labels map[string]string) float64 {
	families, err := prometheus.DefaultGatherer.Gather()
	Expect(err).NotTo(HaveOccurred())

	for _, family := range families {
		if family.GetName() != name {
			continue
		}

		for _, m := range family.GetMetric() {
			if matches(m, labels) {
				return m.GetCounter().GetValue()
			}
		}
	}

	return 0
}

func matches(m *dto.Metric, labels map[string]string) bool {
	found := 0

	for _, pair := range m.GetLabel() {
		if want, ok := labels[pair.GetName()]; ok {
			if want != pair.GetValue() {
				return false
			}
			found++
		}
	}

	return found == len(labels)
}

var _ = Describe("Metrics", func() {
	It("should count batches by phase and status", func() {
		before := counterValue("odm_core_batch_requests_total", map[string]string{"phase": metrics.PhaseInsert, "status": "200"})
		metrics.ObserveBatch(metrics.PhaseInsert, 200, 15*time.Millisecond)
		Expect(counterValue("odm_core_batch_requests_total", map[string]string{"phase": metrics.PhaseInsert, "status": "200"})).To(Equal(before + 1))

		metrics.ObserveBatch(metrics.PhaseUpdate, 0, time.Millisecond)
		Expect(counterValue("odm_core_batch_requests_total", map[string]string{"phase": metrics.PhaseUpdate, "status": "error"})).To(BeNumerically(">=", 1))
	})

	It("should ignore empty statement counts", func() {
		before := counterValue("odm_core_statements_total", map[string]string{"kind": "insert"})
		metrics.AddStatements("insert", 0)
		metrics.AddStatements("insert", 3)
		Expect(counterValue("odm_core_statements_total", map[string]string{"kind": "insert"})).To(Equal(before + 3))
	})

	It("should expose the registry over HTTP", func() {
		metrics.IncErrorCount(metrics.ComponentBinding)
		metrics.ObserveCommitTime(metrics.ScopeSession, 3*time.Millisecond)
		metrics.SetManagedDocuments(7)

		rec := httptest.NewRecorder()
		metrics.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

		body, err := io.ReadAll(rec.Result().Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(body)).To(ContainSubstring("odm_core_errors_total"))
		Expect(string(body)).To(ContainSubstring("odm_core_managed_documents 7"))
		Expect(string(body)).To(ContainSubstring("odm_core_commit_duration_milliseconds"))
	})
})
