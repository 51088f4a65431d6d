//go:build !debug

package metavote

import "log"

// assertNotExceeding logs and continues on a count-exceeding logic
// violation; this is the default (non-debug) build behavior. Callers that
// want the violation surfaced to their own structured logger should use
// Counts.CheckExceeding directly instead of relying on this package default.
func assertNotExceeding(c Counts) {
	c.CheckExceeding(func(msg string) {
		log.Printf("metavote: logic violation: %s: %+v", msg, c)
	})
}
