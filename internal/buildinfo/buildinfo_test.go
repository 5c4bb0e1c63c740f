package buildinfo

import (
	"strings"
	"testing"
)

func TestUserAgentPrefix(t *testing.T) {
	if ua := UserAgent(); !strings.HasPrefix(ua, "AgentDash/") {
		t.Errorf("UserAgent() = %q, want AgentDash/ prefix", ua)
	}
}

func TestRuntimeInfoHasUptime(t *testing.T) {
	info := RuntimeInfo()
	if _, ok := info["uptime"]; !ok {
		t.Error("RuntimeInfo() missing uptime")
	}
	if _, ok := BuildInfo()["uptime"]; ok {
		t.Error("BuildInfo() should not include uptime")
	}
}
