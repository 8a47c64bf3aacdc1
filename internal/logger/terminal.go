//go:build linux || darwin

package logger

import (
	"os"

	"golang.org/x/sys/unix"
)

// colorOutput reports whether log lines written to f get ANSI colors. f must
// be a terminal, and NO_COLOR or TERM=dumb turn colors off. Workers share
// the supervisor's stderr, so both sides agree.
func colorOutput(f *os.File) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	if os.Getenv("TERM") == "dumb" {
		return false
	}
	return isTerminal(f.Fd())
}

func isTerminal(fd uintptr) bool {
	_, err := unix.IoctlGetTermios(int(fd), ioctlReadTermios)
	return err == nil
}
