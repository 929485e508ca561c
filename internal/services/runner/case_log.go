package runner

import (
	"fmt"
	"sync"
	"time"
)

const logTimeFormat = "15:04:05.000"

// caseLog is an ordered, append-only, timestamped log for one case
type caseLog struct {
	mu    sync.Mutex
	lines []string
	now   func() time.Time
}

func newCaseLog() *caseLog {
	return &caseLog{now: time.Now}
}

func (l *caseLog) Logf(format string, args ...interface{}) {
	line := fmt.Sprintf("[%s] %s", l.now().Format(logTimeFormat), fmt.Sprintf(format, args...))
	l.mu.Lock()
	l.lines = append(l.lines, line)
	l.mu.Unlock()
}

// Lines returns a copy of the log
func (l *caseLog) Lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines...)
}
