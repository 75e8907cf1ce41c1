// Package version carries build metadata injected with -ldflags -X.
package version

import (
	"fmt"
	"runtime"
)

var (
	Version   = "dev"
	Revision  = "unknown"
	BuildTime = "unknown"
)

// String renders the metadata as the version command prints it.
func String() string {
	return fmt.Sprintf("fcctl %s\nrevision: %s\nbuilt: %s\ngo: %s %s/%s\n",
		Version, Revision, BuildTime, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
