package version

import (
	"runtime"
	"testing"
)

func TestFormatVersion(t *testing.T) {
	if got := FormatVersion("dev", "none", "unknown"); got != "dev (development build)" {
		t.Errorf("Unexpected dev format %q", got)
	}
	if got := FormatVersion("v1.2.0", "abc123", "2026-01-02"); got != "v1.2.0 (commit: abc123, built: 2026-01-02)" {
		t.Errorf("Unexpected release format %q", got)
	}
}

func TestGet(t *testing.T) {
	info := Get()
	if info.Version != Version || info.Commit != Commit || info.Date != Date {
		t.Errorf("Info does not match build variables: %+v", info)
	}
	if info.GoVersion != runtime.Version() {
		t.Errorf("Unexpected Go version %q", info.GoVersion)
	}
	if info.Platform != runtime.GOOS+"/"+runtime.GOARCH {
		t.Errorf("Unexpected platform %q", info.Platform)
	}
}
