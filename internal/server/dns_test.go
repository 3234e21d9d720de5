package server

import "testing"

func TestExtractTokenFromQName(t *testing.T) {
	tests := []struct {
		name     string
		qname    string
		domain   string
		expected string
	}{
		{
			name:     "direct token query",
			qname:    "abc123.callback.example.com",
			domain:   "callback.example.com",
			expected: "abc123",
		},
		{
			name:     "prepended exfil labels keep the token label",
			qname:    "hostname.secret.abc123.callback.example.com",
			domain:   "callback.example.com",
			expected: "abc123",
		},
		{
			name:     "bare domain",
			qname:    "callback.example.com",
			domain:   "callback.example.com",
			expected: "",
		},
		{
			name:     "unrelated domain",
			qname:    "abc123.other.example.com",
			domain:   "callback.example.com",
			expected: "",
		},
		{
			name:     "case folded domain",
			qname:    "abc123.callback.example.com",
			domain:   "Callback.Example.Com",
			expected: "abc123",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractTokenFromQName(tt.qname, tt.domain)
			if got != tt.expected {
				t.Errorf("extractTokenFromQName(%q) = %q, want %q", tt.qname, got, tt.expected)
			}
		})
	}
}
