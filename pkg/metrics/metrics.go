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

// Package metrics holds the prometheus instruments of the persistence core.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// Component labels.
	ComponentUnitOfWork = "unit_of_work"
	ComponentPersister  = "persister"
	ComponentBinding    = "binding"
	ComponentHydrator   = "hydrator"
	ComponentManager    = "manager"

	// Batch phases.
	PhaseInsert = "insert"
	PhaseUpdate = "update"
	PhaseQuery  = "query"
	PhaseLoad   = "load"

	// Commit scopes.
	ScopeSession  = "session"
	ScopeDocument = "document"
)

var (
	namespace = "odm"
	subsystem = "core"

	errorCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "errors_total",
			Help:      "Total number of errors encountered by component",
		},
		[]string{"component"},
	)

	batchRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "batch_requests_total",
			Help:      "Requests sent to the database by phase and HTTP status",
		},
		[]string{"phase", "status"},
	)

	batchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "batch_duration_seconds",
			Help:      "Round-trip time of database requests in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"phase"},
	)

	statements = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "statements_total",
			Help:      "Script statements rendered by kind",
		},
		[]string{"kind"},
	)

	commitTime = promauto.NewSummaryVec(
		prometheus.SummaryOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "commit_duration_milliseconds",
			Help:      "Time taken to commit a unit of work (in milliseconds)",
			Objectives: map[float64]float64{
				0.5:  0.01,
				0.9:  0.01,
				0.99: 0.01,
			},
		},
		[]string{"scope"},
	)

	managedDocuments = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "managed_documents",
			Help:      "Documents in the identity map after the last commit",
		},
	)
)

// IncErrorCount increments the error counter for a component.
func IncErrorCount(component string) {
	errorCounter.WithLabelValues(component).Inc()
}

// ObserveBatch records one database round trip. status 0 means no response.
func ObserveBatch(phase string, status int, duration time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}

	batchRequests.WithLabelValues(phase, label).Inc()
	batchDuration.WithLabelValues(phase).Observe(duration.Seconds())
}

// AddStatements counts rendered statements of one kind.
func AddStatements(kind string, n int) {
	if n > 0 {
		statements.WithLabelValues(kind).Add(float64(n))
	}
}

// ObserveCommitTime records the time taken for a commit.
func ObserveCommitTime(scope string, duration time.Duration) {
	commitTime.WithLabelValues(scope).Observe(float64(duration.Milliseconds()))
}

func SetManagedDocuments(n int) {
	managedDocuments.Set(float64(n))
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
