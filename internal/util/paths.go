package util

import (
	"os"
	"path/filepath"
)

func EnsureDir(path string) error {
	return os.MkdirAll(path, 0o755)
}

func CACertPath(dir string) string {
	return filepath.Join(dir, "ca_cert.pem")
}

func CAKeyPath(dir string) string {
	return filepath.Join(dir, "ca_key.pem")
}

func EventsPath(dir string) string {
	return filepath.Join(dir, "events.jsonl")
}

// StateDir holds the file-backed settings, alerts and whitelist records.
func StateDir(dir string) string {
	return filepath.Join(dir, "state")
}

func DBPath(dir, name string) string {
	return filepath.Join(dir, name)
}

// RetiredCADir keeps rotated and revoked CA material for audit.
func RetiredCADir(dir string) string {
	return filepath.Join(dir, "ca_retired")
}
