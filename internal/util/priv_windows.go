//go:build windows

package util

func RunningAsRoot() bool {
	return false
}
