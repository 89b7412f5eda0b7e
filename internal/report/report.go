// Package report carries the non-fatal problems a build collects along the way.
package report

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Kind classifies a problem
type Kind string

const (
	DataUnavailable  Kind = "data_unavailable"
	AssetUnavailable Kind = "asset_unavailable"
	RenderDegraded   Kind = "render_degraded"
	TransferFailed   Kind = "transfer_failed"
)

// Warning is a single problem that did not stop the build
type Warning struct {
	Kind    Kind
	Subject string
	Err     error
}

func (w Warning) String() string {
	if w.Err == nil {
		return fmt.Sprintf("%s: %s", w.Kind, w.Subject)
	}
	return fmt.Sprintf("%s: %s: %v", w.Kind, w.Subject, w.Err)
}

// Result is a value plus the warnings accumulated while producing it
type Result[T any] struct {
	Value    T
	Warnings []Warning
}

// Warn appends a warning to the result
func (r *Result[T]) Warn(kind Kind, subject string, err error) {
	r.Warnings = append(r.Warnings, Warning{Kind: kind, Subject: subject, Err: err})
}

// Count returns how many warnings of the given kind were collected
func Count(warnings []Warning, kind Kind) int {
	n := 0
	for _, w := range warnings {
		if w.Kind == kind {
			n++
		}
	}
	return n
}

// Log writes one line per warning
func Log(logger *logrus.Logger, warnings []Warning) {
	for _, w := range warnings {
		entry := logger.WithFields(logrus.Fields{
			"kind":    string(w.Kind),
			"subject": w.Subject,
		})
		if w.Err != nil {
			entry = entry.WithError(w.Err)
		}
		entry.Warn("Build degraded")
	}
}
