// Package api declares HTTP contracts and route registration helpers.
package api

import "strings"

// splitSessionPath extracts the session id and trailing segment from a
// /sessions/{id}[/{rest}] path. Returns false when no id is present.
func splitSessionPath(path string) (sessionID, rest string, ok bool) {
	trimmed := strings.TrimPrefix(path, "/sessions/")
	if trimmed == "" || trimmed == path {
		return "", "", false
	}
	parts := strings.SplitN(trimmed, "/", 2)
	sessionID = parts[0]
	if sessionID == "" {
		return "", "", false
	}
	if len(parts) == 2 {
		rest = strings.Trim(parts[1], "/")
	}
	return sessionID, rest, true
}
