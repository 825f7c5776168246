// Package version reports the version of this module, as recorded in the build information.
package version

import (
	"runtime/debug"
	"strings"
)

// Default is the default version value used when none was found.
const Default = "dev"

const modulePath = "github.com/tetratelabs/armjit"

// version is set by ldflag for release builds of the armjit CLI.
var version string

// GetVersion returns the version of armjit either in the go.mod of the program using it or set by
// ldflag for the armjit CLI.
func GetVersion() (ret string) {
	if len(version) != 0 {
		return version
	}
	info, ok := debug.ReadBuildInfo()
	if ok {
		ret = fromBuildInfo(info)
	}
	if versionMissing(ret) {
		return Default
	}
	return
}

func fromBuildInfo(info *debug.BuildInfo) (ret string) {
	for _, dep := range info.Deps {
		if strings.HasPrefix(dep.Path, modulePath) {
			ret = dep.Version
			if dep.Replace != nil {
				ret = dep.Replace.Version
			}
		}
	}
	// For the armjit CLI, armjit is the main module.
	if versionMissing(ret) && info.Main.Path == modulePath {
		ret = info.Main.Version
	}
	return
}

func versionMissing(ret string) bool {
	return ret == "" || ret == "(devel)"
}
