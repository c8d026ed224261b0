package utils

import "testing"

func TestMaskKey(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty string", "", "(empty)"},
		{"whitespace only", "   ", "(empty)"},
		{"short token", "abc.def.ghi", "****"},
		{"user token", "MTIzNDU2Nzg5MDEyMzQ1Njc4.GaBcDe.xyz0123456789", "MTIzNDU2...6789"},
		{"bot prefixed token", "Bot MTIzNDU2Nzg5MDEyMzQ1Njc4.GaBcDe.abcd", "Bot MTIz...abcd"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := MaskKey(tt.input)
			if result != tt.expected {
				t.Errorf("MaskKey(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestJoinURL(t *testing.T) {
	tests := []struct {
		base, path, expected string
	}{
		{"https://discord.com/api/v9", "/users/@me", "https://discord.com/api/v9/users/@me"},
		{"https://discord.com/api/v9/", "/users/@me", "https://discord.com/api/v9/users/@me"},
		{"https://discord.com/api/v9", "channels//42/messages", "https://discord.com/api/v9/channels/42/messages"},
		{"http://127.0.0.1:8080", "", "http://127.0.0.1:8080"},
	}

	for _, tt := range tests {
		if got := JoinURL(tt.base, tt.path); got != tt.expected {
			t.Errorf("JoinURL(%q, %q) = %q, want %q", tt.base, tt.path, got, tt.expected)
		}
	}
}
