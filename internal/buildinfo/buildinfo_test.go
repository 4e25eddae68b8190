package buildinfo

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSemver(t *testing.T) {
	tests := []struct {
		in                  string
		major, minor, patch int
	}{
		{"v2.9.1", 2, 9, 1},
		{"2.9.1", 2, 9, 1},
		{"v1.4.0-rc1", 1, 4, 0},
		{"v3", 3, 0, 0},
		{"dev", 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			major, minor, patch := Semver(tt.in)
			assert.Equal(t, []int{tt.major, tt.minor, tt.patch}, []int{major, minor, patch})
		})
	}
}

func TestPrintBuildData(t *testing.T) {
	var buf bytes.Buffer
	PrintBuildData(&buf)
	assert.Contains(t, buf.String(), "Build version: "+Version)
	assert.Contains(t, buf.String(), "Build commit: "+Commit)
}
