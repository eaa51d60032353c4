package main

import (
	"testing"
	"time"
)

func TestParseOffset(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"00:00:00", 0, false},
		{"00:01:30", 90 * time.Second, false},
		{"01:02:03", time.Hour + 2*time.Minute + 3*time.Second, false},
		{"02:05", 2*time.Minute + 5*time.Second, false},
		{"45", 45 * time.Second, false},
		{"00:61:00", 0, true},
		{"1:2:3:4", 0, true},
		{"aa:00:00", 0, true},
		{"", 0, true},
		{"-1", 0, true},
	}

	for _, tt := range tests {
		got, err := parseOffset(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseOffset(%q) expected error, got %v", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseOffset(%q) unexpected error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseOffset(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
