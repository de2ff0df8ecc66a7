// Package version holds the build version, set at link time:
//
//	go build -ldflags "-X github.com/Thianeswaran-G/DarkPatent/internal/version.Version=vX.Y.Z" ./cmd/darkpatent
package version

import (
	"fmt"
	"strings"
)

var Version = "dev"

// String is the one-line version banner printed by `darkpatent version`.
func String() string {
	v := strings.TrimSpace(Version)
	if v == "" {
		v = "dev"
	}
	return fmt.Sprintf("darkpatent version %s", v)
}
