// Package monitoring holds the diagnostic logger and the link counters shared
// by the sender, receiver and control paths.
package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Warnf logs through Logf with the highlighted warning colour used for
// sequence anomalies and dropped sends.
func Warnf(format string, v ...interface{}) {
	Logf("\033[93m"+format+"\033[0m", v...)
}
