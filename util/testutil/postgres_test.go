package testutil

import (
	"strings"
	"testing"
)

func TestEventsDBName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"TestEvents_InsertAndList", "stam_testevents_insertandlist"},
		{"TestSink/case-1 with spaces", "stam_testsink_case_1_with_spaces"},
	}
	for _, tt := range tests {
		if got := eventsDBName(tt.in); got != tt.want {
			t.Errorf("eventsDBName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if got := eventsDBName(strings.Repeat("a", 100)); len(got) != 63 {
		t.Errorf("long names should be truncated to 63 bytes, got %d", len(got))
	}
}
