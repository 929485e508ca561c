// -----------------------------------------------------------------------
// Crash Protection - panic reports written next to the log files
// -----------------------------------------------------------------------

package common

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// CrashLogDir is the directory where crash files will be written.
// InitLogger points it at the logs directory when file output is enabled.
var CrashLogDir = "./logs"

// WriteCrashFile writes a crash report for a recovered panic and returns its path.
// fatal controls whether the report is labelled as process-ending.
func WriteCrashFile(source string, panicVal interface{}, stackTrace string, fatal bool) string {
	if err := os.MkdirAll(CrashLogDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "CRASH: Failed to create crash directory: %v\n", err)
		return ""
	}

	kind := "goroutine"
	if fatal {
		kind = "fatal"
	}
	filename := fmt.Sprintf("crash-%s-%s.log", kind, time.Now().Format("2006-01-02T15-04-05.000"))
	crashPath := filepath.Join(CrashLogDir, filename)

	var report bytes.Buffer
	fmt.Fprintf(&report, "=== LABNEX CRASH REPORT (%s) ===\n", kind)
	fmt.Fprintf(&report, "Time: %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(&report, "Version: %s\n", GetFullVersion())
	fmt.Fprintf(&report, "Source: %s\n\n", source)
	fmt.Fprintf(&report, "=== PANIC VALUE ===\n%v\n\n", panicVal)
	fmt.Fprintf(&report, "=== STACK TRACE ===\n%s\n", stackTrace)
	fmt.Fprintf(&report, "=== RUNTIME ===\nNumGoroutine: %d\nGOOS: %s\nGOARCH: %s\n",
		runtime.NumGoroutine(), runtime.GOOS, runtime.GOARCH)

	if err := os.WriteFile(crashPath, report.Bytes(), 0644); err != nil {
		fmt.Fprintf(os.Stderr, "CRASH: Failed to write crash file: %v\n%s", err, report.String())
		return ""
	}

	return crashPath
}

// GetStackTrace returns the current goroutine's stack trace.
func GetStackTrace() string {
	buf := make([]byte, 8192)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// RecoverWithCrashFile is a helper for deferred panic recovery in main that writes a crash file.
// Usage: defer common.RecoverWithCrashFile()
func RecoverWithCrashFile() {
	if r := recover(); r != nil {
		path := WriteCrashFile("main", r, GetStackTrace(), true)
		fmt.Fprintf(os.Stderr, "\n!!! FATAL CRASH - Report saved to: %s !!!\nPanic: %v\n", path, r)
		os.Exit(1)
	}
}
