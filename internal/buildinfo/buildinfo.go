// Package buildinfo holds the version data stamped at link time:
//
//	go build -ldflags "-X github.com/dmitrijs2005/hivenode/internal/buildinfo.Version=v2.9.1 \
//	    -X github.com/dmitrijs2005/hivenode/internal/buildinfo.Commit=$(git rev-parse HEAD)"
package buildinfo

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

var (
	Version = "v2.0.0"
	Commit  = "N/A"
	Date    = "N/A"
)

// PrintBuildData writes the build data to w.
func PrintBuildData(w io.Writer) {
	fmt.Fprintf(w, "Build version: %s\n", Version)
	fmt.Fprintf(w, "Build date: %s\n", Date)
	fmt.Fprintf(w, "Build commit: %s\n", Commit)
}

// Semver splits a "vMAJOR.MINOR.PATCH[-suffix]" version. Missing or
// malformed parts are 0.
func Semver(v string) (major, minor, patch int) {
	v = strings.TrimPrefix(v, "v")
	if i := strings.IndexAny(v, "-+"); i >= 0 {
		v = v[:i]
	}
	parts := strings.SplitN(v, ".", 3)
	nums := make([]int, 3)
	for i, p := range parts {
		nums[i], _ = strconv.Atoi(p)
	}
	return nums[0], nums[1], nums[2]
}
