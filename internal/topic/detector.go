// Package topic classifies messages by scanning for domain keywords.
package topic

import (
	"strings"

	"japagenie/internal/catalog"
	"japagenie/internal/domain"
)

// Detector matches message text against a fixed vocabulary.
// It holds no mutable state and is safe for concurrent use.
type Detector struct {
	vocabulary  []string
	ambiguous   string
	suppressors []string
}

// NewDetector builds a detector from the catalog's topic tables.
// The catalog is expected to be normalized to lowercase already.
func NewDetector(t catalog.Topics) *Detector {
	return &Detector{
		vocabulary:  t.Vocabulary,
		ambiguous:   t.Ambiguous.Term,
		suppressors: t.Ambiguous.SuppressedBy,
	}
}

// Detect returns the vocabulary entries contained in text, in vocabulary
// order. The ambiguous term is left out when a suppressor is also present,
// so "visa debit card" is not reported as a visa topic.
func (d *Detector) Detect(text string) domain.TopicMatch {
	lower := strings.ToLower(text)
	suppressed := d.ambiguous != "" && containsAny(lower, d.suppressors)

	var matched domain.TopicMatch
	for _, kw := range d.vocabulary {
		if !strings.Contains(lower, kw) {
			continue
		}
		if suppressed && kw == d.ambiguous {
			continue
		}
		matched = append(matched, kw)
	}
	return matched
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if w != "" && strings.Contains(s, w) {
			return true
		}
	}
	return false
}
