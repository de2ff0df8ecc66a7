//go:build !windows

package util

import "os"

// RunningAsRoot reports whether the process has an effective uid of 0. The
// proxy mints TLS leaf certificates and should never do so as root.
func RunningAsRoot() bool {
	return os.Geteuid() == 0
}
