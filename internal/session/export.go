package session

import "regexp"

// ansiPattern matches CSI escape sequences (colors, cursor movement) plus the
// odd bare escape. Terminal multiplexer captures are full of them.
var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)

// StripANSI removes ANSI escape sequences from captured terminal text.
func StripANSI(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}
