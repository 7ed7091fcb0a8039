package version

import "runtime/debug"

// version is set at build time with
// -ldflags "-X github.com/cbodonnell/lobbysync/pkg/version.version=v1.2.3"
var version = ""

// Get returns the build version, falling back to the module version
// recorded in the binary and then "dev".
func Get() string {
	if version != "" {
		return version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}
