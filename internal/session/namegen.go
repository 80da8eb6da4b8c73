package session

import "time"

// NamePrefix marks sessions managed by this tool. List membership checks it
// first, before falling back to a content sniff.
const NamePrefix = "claude-"

// GenerateName returns the default session name for the given moment:
// claude-<MMDD-HHMMSS>. Collisions are accepted; Start replaces an existing
// session of the same name, and callers can always pass their own.
func GenerateName(now time.Time) string {
	return NamePrefix + now.Format("0102-150405")
}
