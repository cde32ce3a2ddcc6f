//go:build windows

package session

import (
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// isAlive checks pid liveness via gopsutil since Windows has no signal-0
// equivalent.
func isAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	ok, err := process.PidExists(int32(pid))
	return err == nil && ok
}

// commandMatches guards session reconciliation against a pid recycled by an
// unrelated process after a restart, the same check alive_unix.go does via
// /proc/<pid>/cmdline but sourced from gopsutil here.
func commandMatches(pid int, expectedCommand string) bool {
	if pid <= 0 {
		return false
	}
	if expectedCommand == "" {
		return true
	}
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return true
	}
	cmdline, err := proc.Cmdline()
	if err != nil || cmdline == "" {
		return true
	}
	firstToken := cmdline
	if idx := strings.IndexByte(cmdline, ' '); idx >= 0 {
		firstToken = cmdline[:idx]
	}
	return strings.Contains(cmdline, expectedCommand) || strings.Contains(expectedCommand, firstToken)
}
