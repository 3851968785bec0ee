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

package sentry_test

import (
	"errors"
	"sync"

	sentrygo "github.com/getsentry/sentry-go"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/united-manufacturing-hub/orientdb-odm/pkg/sentry"
)

var _ = Describe("Sentry reporting", Serial, func() {
	var (
		logger   *zap.SugaredLogger
		mu       sync.Mutex
		captured []*sentrygo.Event
	)

	events := func() []*sentrygo.Event {
		mu.Lock()
		defer mu.Unlock()

		return append([]*sentrygo.Event(nil), captured...)
	}

	BeforeEach(func() {
		logger = zaptest.NewLogger(GinkgoT()).Sugar()
		captured = nil

		Expect(sentrygo.Init(sentrygo.ClientOptions{
			Dsn: "https://public@sentry.example.com/1",
			BeforeSend: func(event *sentrygo.Event, _ *sentrygo.EventHint) *sentrygo.Event {
				mu.Lock()
				captured = append(captured, event)
				mu.Unlock()

				return nil
			},
		})).To(Succeed())
	})

	AfterEach(func() {
		sentry.DisableTestMode()
	})

	DescribeTable("should derive the environment from the release version",
		func(version, expected string) {
			Expect(sentry.Environment(version)).To(Equal(expected))
		},
		Entry("release", "1.4.0", sentry.EnvironmentProduction),
		Entry("prerelease", "1.4.0-rc.1", sentry.EnvironmentDevelopment),
		Entry("garbage", "main", sentry.EnvironmentDevelopment),
	)

	It("should stay disabled for development builds", func() {
		Expect(sentry.InitSentry("", "1.0.0", true)).To(Succeed())
		Expect(sentry.InitSentry("https://public@sentry.example.com/1", sentry.DefaultAppVersion, true)).To(Succeed())
	})

	It("should send tagged events with a short title", func() {
		sentry.EnableTestMode()

		sentry.ReportIssueWithContext(errors.New("malformed insert response: expected 2 rids"), sentry.IssueTypeError, logger,
			map[string]interface{}{"operation": "insert", "documents": 2, "classes": []string{"Country"}})

		Expect(events()).To(HaveLen(1))
		event := events()[0]
		Expect(event.Level).To(Equal(sentrygo.LevelError))
		Expect(event.Exception[0].Type).To(Equal("malformed insert response"))
		Expect(event.Tags).To(HaveKeyWithValue("operation", "insert"))
		Expect(event.Tags).To(HaveKeyWithValue("documents", "2"))
		Expect(event.Extra).To(HaveKey("classes"))
		Expect(event.Fingerprint).To(ContainElement("operation: insert"))
	})

	It("should debounce repeats of the same issue", func() {
		err := errors.New("debounce me once")

		sentry.ReportIssue(err, sentry.IssueTypeWarning, logger)
		sentry.ReportIssue(err, sentry.IssueTypeWarning, logger)
		sentry.ReportIssuef(sentry.IssueTypeWarning, logger, "debounce %s", "someone else")

		Expect(events()).To(HaveLen(2))
	})

	It("should ignore nil errors", func() {
		sentry.ReportIssue(nil, sentry.IssueTypeError, nil)
		Expect(events()).To(BeEmpty())
	})
})
