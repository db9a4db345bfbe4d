// Package monitoring holds the process-wide diagnostic logger used by
// the counting pipeline and its sinks.
package monitoring

import "log"

// Logf writes a diagnostic line. Defaults to log.Printf; replace it via
// SetLogger to redirect or mute output.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger swaps the package logger. nil installs a no-op.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
