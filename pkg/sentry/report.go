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

package sentry

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
)

type IssueType string

const (
	IssueTypeWarning IssueType = "warning"
	IssueTypeError   IssueType = "error"
	IssueTypeFatal   IssueType = "fatal"
)

// debounceWindow suppresses repeats of the same issue title per level.
const debounceWindow = 2 * time.Hour

var (
	shouldDebounce atomic.Bool
	lastSentMu     sync.Mutex
	lastSent       = map[string]time.Time{}
)

func init() {
	shouldDebounce.Store(true)
}

// EnableTestMode disables debouncing for testing.
func EnableTestMode() {
	shouldDebounce.Store(false)
}

// DisableTestMode restores normal debouncing behavior.
func DisableTestMode() {
	shouldDebounce.Store(true)
}

func debounced(level sentry.Level, err error) bool {
	if !shouldDebounce.Load() {
		return false
	}

	key := string(level) + "|" + getMeaningfulErrorTitle(err)

	lastSentMu.Lock()
	defer lastSentMu.Unlock()

	if at, ok := lastSent[key]; ok && time.Since(at) < debounceWindow {
		return true
	}

	lastSent[key] = time.Now()

	return false
}

func ReportIssue(err error, issueType IssueType, log *zap.SugaredLogger) {
	ReportIssueWithContext(err, issueType, log, nil)
}

func ReportIssuef(issueType IssueType, log *zap.SugaredLogger, template string, args ...interface{}) {
	ReportIssue(fmt.Errorf(template, args...), issueType, log)
}

// ReportIssueWithContext reports an issue with additional context data that will be included in Sentry.
// Fatal issues are flushed synchronously; the caller decides whether to stop.
func ReportIssueWithContext(err error, issueType IssueType, log *zap.SugaredLogger, context map[string]interface{}) {
	if err == nil {
		return
	}

	if log == nil {
		log = zap.NewNop().Sugar()
	}

	var level sentry.Level

	switch issueType {
	case IssueTypeFatal:
		level = sentry.LevelFatal
		log.Errorf("Fatal persistence error: %s", err)
	case IssueTypeError:
		level = sentry.LevelError
		log.Error(err)
	case IssueTypeWarning:
		level = sentry.LevelWarning
		log.Warn(err)
	default:
		return
	}

	if level != sentry.LevelFatal && debounced(level, err) {
		return
	}

	sendSentryEvent(createSentryEvent(level, err, context))

	if level == sentry.LevelFatal {
		sentry.Flush(5 * time.Second)
	}
}
