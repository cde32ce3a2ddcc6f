// Package lib holds small filesystem helpers shared across handlers.
package lib

import (
	"os/user"
	"path/filepath"
	"strings"
)

// ExpandHome resolves a leading "~" the way a shell would: "~" alone
// becomes the current user's home directory, "~/..." is joined onto it.
// Any other path is returned unchanged.
func ExpandHome(dir string) string {
	if dir == "" || dir[0] != '~' {
		return dir
	}
	u, err := user.Current()
	if err != nil {
		return dir
	}
	if dir == "~" {
		return u.HomeDir
	}
	if strings.HasPrefix(dir, "~/") {
		return filepath.Join(u.HomeDir, dir[2:])
	}
	return dir
}
