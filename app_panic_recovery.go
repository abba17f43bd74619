package main

import (
	"runtime/debug"
)

// recoverWorkerPanic logs a recovered panic with the current capture session
// and its stack, and reports whether there was one. Call it as
// a.recoverWorkerPanic(name, recover()) from a deferred function.
func (a *App) recoverWorkerPanic(worker string, recovered any) bool {
	if recovered == nil {
		return false
	}
	a.log().Error("[DEBUG-PANIC] worker recovered from panic",
		"worker", worker,
		"session", a.statusSnapshot().Session,
		"panic", recovered,
		"stack", string(debug.Stack()),
	)
	return true
}
