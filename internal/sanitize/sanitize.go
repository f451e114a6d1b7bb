// Package sanitize strips markup from user-provided chat text. Messages are
// stored and re-broadcast to other widget surfaces, so anything that could
// execute in a browser must be removed before the text leaves the handler.
package sanitize

import (
	"html"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

// policy is the singleton bluemonday policy for chat text. Chat messages are
// plain text: every tag is stripped, only the text content survives.
// Initialized once via sync.Once for thread-safe lazy initialization.
var (
	policy     *bluemonday.Policy
	policyOnce sync.Once
)

// getPolicy returns the shared sanitization policy, initializing it on first call.
func getPolicy() *bluemonday.Policy {
	policyOnce.Do(func() {
		policy = bluemonday.StrictPolicy()
	})
	return policy
}

// Text strips all HTML from user-provided chat input and returns the plain
// text, with HTML entities decoded and surrounding whitespace trimmed.
//
// This MUST be called on every user message before it is stored in the
// transcript or broadcast over the notification gateway.
func Text(input string) string {
	cleaned := getPolicy().Sanitize(input)
	// bluemonday escapes entities in its output; decode them back so the
	// transcript holds the literal characters the user typed.
	return strings.TrimSpace(html.UnescapeString(cleaned))
}
