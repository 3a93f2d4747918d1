package version

import (
	"strings"
	"testing"
)

func TestGet(t *testing.T) {
	info := Get()

	if info.Version == "" {
		t.Error("Version should not be empty")
	}

	if info.GoVersion == "" {
		t.Error("GoVersion should not be empty")
	}
}

func TestString(t *testing.T) {
	str := Get().String()

	if !strings.HasPrefix(str, "voltwatch "+Version) {
		t.Errorf("String should start with the version, got %q", str)
	}

	if !strings.Contains(str, "commit "+GitCommit) {
		t.Errorf("String should contain the commit, got %q", str)
	}
}

func TestUserAgent(t *testing.T) {
	if got := UserAgent(); got != "voltwatch/"+Version {
		t.Errorf("unexpected user agent %q", got)
	}
}
