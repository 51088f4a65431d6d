//go:build debug

package metavote

// assertNotExceeding panics on a count-exceeding logic violation. Built only
// under the `debug` build tag; see assert_release.go for the production
// behavior (log and continue).
func assertNotExceeding(c Counts) {
	c.CheckExceeding(func(msg string) {
		panic(msg)
	})
}
