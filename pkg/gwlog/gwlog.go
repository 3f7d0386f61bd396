// Package gwlog is a thin wrapper over the standard library log package,
// used for the WARN-level fall-through diagnostics the core emits:
// credential fallback, scoped-block drops, discarded unknown chunks, and
// swallowed cache-write failures (spec.md §4.1, §4.2, §4.6). No
// structured logging framework is wired — the teacher never imports one
// either, reaching for log.Println at the few call sites that warn at
// all (see e.g. providers/together/provider.go).
package gwlog

import "log"

// Warnf logs a WARN-prefixed diagnostic. The core never logs at ERROR
// level for conditions it already returns as an error value; Warnf is
// reserved for conditions the caller chose to tolerate (a fallback
// succeeded, a chunk was discarded) and that a caller should still be
// able to see.
func Warnf(format string, args ...interface{}) {
	log.Printf("WARN: "+format, args...)
}
