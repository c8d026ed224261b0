// Package utils provides common utility functions.
package utils

import "strings"

// MaskKey masks a bearer credential for safe logging (shows first 8 and last 4 chars).
// Tokens reach the gateway verbatim from clients, so never log them any other way.
func MaskKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return "(empty)"
	}
	if len(key) < 16 {
		return "****"
	}
	return key[:8] + "..." + key[len(key)-4:]
}

// JoinURL joins a base URL and a path with exactly one slash between them and
// collapses doubled slashes in the path, keeping the scheme's "//" intact.
func JoinURL(base, path string) string {
	base = strings.TrimRight(base, "/")
	if path == "" {
		return base
	}
	for strings.Contains(path, "//") {
		path = strings.ReplaceAll(path, "//", "/")
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}
