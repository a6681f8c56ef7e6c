package chatproto

import "strings"

// UserID builds a fully qualified user id ("@localpart:server") from a handle.
// Handles that are already qualified are returned as is.
func UserID(localpart, serverName string) string {
	if strings.HasPrefix(localpart, "@") {
		return localpart
	}
	return "@" + localpart + ":" + serverName
}

// Localpart extracts the handle of a fully qualified user id.
func Localpart(userID string) string {
	id := strings.TrimPrefix(userID, "@")
	if idx := strings.IndexByte(id, ':'); idx >= 0 {
		return id[:idx]
	}
	return id
}
