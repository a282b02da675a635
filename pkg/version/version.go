// Package version reports the callbind release, embedded from version.txt
// at compile time.
package version

import (
	_ "embed"
	"runtime"
	"strings"
)

//go:embed version.txt
var versionFile string

// Version is the current callbind release.
var Version = strings.TrimSpace(versionFile)

// String returns the version string.
func String() string {
	return Version
}

// Full returns the version line printed by callbind -v.
func Full() string {
	return "callbind version " + Version + " " + runtime.Version()
}
