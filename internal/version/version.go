// Package version holds build information injected with -ldflags, e.g.
//
//	-X github.com/RemiBardon/imt-fil-a1-acdc-projet-lapin-robot/internal/version.Version=v1.2.0
package version

import "fmt"

var (
	Version   = "dev"
	GitSHA    = "unknown"
	BuildTime = "unknown"
)

// String formats the build information for a program named name.
func String(name string) string {
	return fmt.Sprintf("%s %s (%s, built %s)", name, Version, GitSHA, BuildTime)
}
