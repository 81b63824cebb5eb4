package logging

import (
	"fmt"
	"os"
)

// EarlyLog covers the window before the real logger exists, which is exactly
// the config-load and logger-build failures at process start.
type EarlyLog struct{}

func NewEarlyLog() *EarlyLog {
	return &EarlyLog{}
}

func (l *EarlyLog) Error(msg string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "ERROR: "+msg+"\n", args...)
	os.Exit(1)
}
