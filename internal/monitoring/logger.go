// Package monitoring holds the process-wide diagnostic loggers used by the
// library packages. Commands may redirect or mute them; tests usually mute.
package monitoring

import "log"

// Logf reports notable events (index builds, skipped files, migrations).
// It defaults to log.Printf.
var Logf func(format string, v ...interface{}) = log.Printf

// Debugf reports per-shape detail. It is muted until EnableDebug(true).
var Debugf func(format string, v ...interface{}) = noop

func noop(string, ...interface{}) {}

// SetLogger replaces Logf. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = noop
		return
	}
	Logf = f
}

// EnableDebug routes Debugf to the current Logf, or mutes it.
func EnableDebug(on bool) {
	if !on {
		Debugf = noop
		return
	}
	Debugf = func(format string, v ...interface{}) {
		Logf("[debug] "+format, v...)
	}
}
