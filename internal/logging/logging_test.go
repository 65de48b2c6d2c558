package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{" warn ", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"trace", LevelTrace},
		{"", LevelInfo},
		{"verbose", LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestHasFmtVerb(t *testing.T) {
	if !hasFmtVerb("count is %d") {
		t.Errorf("expected %%d to be detected")
	}
	if hasFmtVerb("100%% done") {
		t.Error("escaped percent should not count as a verb")
	}
	if hasFmtVerb("plain message") {
		t.Error("plain message has no verbs")
	}
}

func TestLogStyles(t *testing.T) {
	var buf bytes.Buffer
	Init(&LogConfig{Level: LevelDebug, Output: &buf})
	defer Init(nil)

	L_info("loaded %d members", 3)
	L_warn("store reloaded", "path", "/tmp/bot_db.json")
	L_debug("plain")
	L_object("cfg", map[string]int{"port": 3000})

	out := buf.String()
	for _, want := range []string{"loaded 3 members", "store reloaded", "/tmp/bot_db.json", "plain", "port: 3000"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	Init(&LogConfig{Level: LevelWarn, Output: &buf})
	defer Init(nil)

	L_info("hidden")
	L_error("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info should be filtered at warn level:\n%s", out)
	}
	if !strings.Contains(out, "shown") {
		t.Errorf("error should pass at warn level:\n%s", out)
	}
}
