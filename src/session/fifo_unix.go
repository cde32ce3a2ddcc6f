//go:build !windows

package session

import "golang.org/x/sys/unix"

// mkfifo creates a named pipe at path: every session directory carries a
// stdin and a control FIFO alongside its session.json.
func mkfifo(path string) error {
	if err := unix.Mkfifo(path, 0o600); err != nil && err != unix.EEXIST {
		return err
	}
	return nil
}
