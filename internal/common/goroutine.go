// -----------------------------------------------------------------------
// Safe Goroutine - Panic-protected goroutine wrappers
// -----------------------------------------------------------------------

package common

import (
	"fmt"
	"os"
	"sync/atomic"

	"github.com/ternarybob/arbor"
)

// goroutineCounter tracks spawned goroutines for diagnostics
var goroutineCounter int64

// GetGoroutineCount returns the number of goroutines spawned via SafeGo
func GetGoroutineCount() int64 {
	return atomic.LoadInt64(&goroutineCounter)
}

// SafeGo runs a function in a goroutine with panic recovery.
// Panics are logged and written to a crash file but don't crash the service.
//
// Example:
//
//	common.SafeGo(logger, "run:"+run.ID, func() {
//	    o.execute(ctx, run)
//	})
func SafeGo(logger arbor.ILogger, name string, fn func()) {
	atomic.AddInt64(&goroutineCounter, 1)

	go func() {
		defer RecoverGoroutine(logger, name, nil)
		fn()
	}()
}

// RecoverGoroutine is the deferred half of SafeGo, usable directly by long-lived workers.
// onPanic, when set, is invoked with the recovered value after it has been logged.
func RecoverGoroutine(logger arbor.ILogger, name string, onPanic func(r interface{})) {
	r := recover()
	if r == nil {
		return
	}

	stackTrace := GetStackTrace()
	if logger != nil {
		logger.Error().
			Str("goroutine", name).
			Str("panic", fmt.Sprintf("%v", r)).
			Str("stack", stackTrace).
			Msg("Recovered from panic in goroutine - continuing service operation")
	} else {
		fmt.Fprintf(os.Stderr, "PANIC in goroutine %s: %v\n%s\n", name, r, stackTrace)
	}

	WriteCrashFile(name, r, stackTrace, false)

	if onPanic != nil {
		onPanic(r)
	}
}
