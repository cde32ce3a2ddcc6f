//go:build !windows

package session

import (
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// isAlive sends signal 0 to pid, the POSIX idiom for checking liveness
// without delivering a signal, then treats a zombie or dead process
// (/proc/<pid>/stat state Z or X) as not running.
func isAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	if unix.Kill(pid, 0) != nil {
		return false
	}

	data, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return false
	}

	statStr := string(data)
	closeParen := strings.LastIndex(statStr, ")")
	if closeParen == -1 || closeParen+2 >= len(statStr) {
		return false
	}
	state := statStr[closeParen+2]
	return state != 'Z' && state != 'X'
}

// commandMatches guards session reconciliation against a pid recycled by an
// unrelated process after a restart: it checks that /proc/<pid>/cmdline
// still references the recorded command. A missing /proc (non-Linux unix,
// permission denied) is treated as a match.
func commandMatches(pid int, expectedCommand string) bool {
	if pid <= 0 {
		return false
	}
	if expectedCommand == "" {
		return true
	}
	data, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/cmdline")
	if err != nil {
		return true
	}

	actual := strings.TrimSpace(strings.ReplaceAll(string(data), "\x00", " "))
	if actual == "" {
		return true
	}
	return strings.Contains(actual, expectedCommand) || strings.Contains(expectedCommand, strings.Split(actual, " ")[0])
}
