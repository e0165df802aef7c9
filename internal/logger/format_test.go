package logger

import "testing"

func TestStripAnsiCodes(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "connection established", "connection established"},
		{"coloured", "\x1b[32mconnection to\x1b[0m 127.0.0.1", "connection to 127.0.0.1"},
		{"bold and colour", "\x1b[1m\x1b[35m10.0.0.1:9042\x1b[0m", "10.0.0.1:9042"},
		{"empty", "", ""},
		{"escape at end", "ready\x1b[0m", "ready"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stripAnsiCodes(tt.input); got != tt.want {
				t.Errorf("stripAnsiCodes(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
