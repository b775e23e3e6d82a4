package main

import (
	"strings"
	"testing"
	"time"
)

func TestTimelineCmd_Help(t *testing.T) {
	out := execWithArgs(t, "timeline", "--help")
	if !strings.Contains(out, "Timeline management") {
		t.Errorf("expected help to mention 'Timeline management', got: %s", out)
	}
	for _, sub := range []string{"create", "list", "show"} {
		if !strings.Contains(out, sub) {
			t.Errorf("expected help to list %q subcommand, got: %s", sub, out)
		}
	}
}

func TestTimelineCreateCmd_Flags(t *testing.T) {
	cmd := newTimelineCreateCmd()
	if cmd.Use != "create" {
		t.Errorf("Use = %q, want create", cmd.Use)
	}
	for _, name := range []string{"name", "description", "start", "reference", "reference-id", "config", "actor"} {
		if cmd.Flags().Lookup(name) == nil {
			t.Errorf("missing --%s flag", name)
		}
	}
	if got := cmd.Flags().Lookup("reference").DefValue; got != "project" {
		t.Errorf("reference default = %q, want project", got)
	}
}

func TestFormatEnd(t *testing.T) {
	if got := formatEnd(nil); got != "-" {
		t.Errorf("formatEnd(nil) = %q, want -", got)
	}
	d := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	if got := formatEnd(&d); got != "2024-06-01" {
		t.Errorf("formatEnd = %q", got)
	}
}
