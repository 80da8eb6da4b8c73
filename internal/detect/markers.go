// Package detect decides, from polled terminal text and a hook-written
// sentinel file, whether an assistant turn has finished. The text heuristics
// are inherently fragile, so all marker lists and their precedence live behind
// the pure Classify function where they can be tested without timing.
package detect

import "strings"

// Verdict is the outcome of classifying one heuristic poll.
type Verdict int

const (
	// VerdictWorking means a progress indicator is visible; the turn is not
	// complete no matter what else the text contains.
	VerdictWorking Verdict = iota

	// VerdictComplete means the turn finished, by marker or by stability.
	VerdictComplete

	// VerdictUnchanged means the output matched the previous poll but has not
	// yet been stable for long enough.
	VerdictUnchanged

	// VerdictChanged means the output changed with no marker matched.
	VerdictChanged
)

func (v Verdict) String() string {
	switch v {
	case VerdictWorking:
		return "working"
	case VerdictComplete:
		return "complete"
	case VerdictUnchanged:
		return "unchanged"
	case VerdictChanged:
		return "changed"
	default:
		return "unknown"
	}
}

// StabilityThreshold is the number of consecutive unchanged polls after which
// output is presumed final. At the 3s heuristic interval this means the pane
// sat still for ~12s.
const StabilityThreshold = 4

// Markers holds the substring sets driving heuristic classification.
// StillWorking matches are case-sensitive (the spinner text is rendered
// verbatim); Completion and Error matches are case-insensitive.
type Markers struct {
	StillWorking []string
	Completion   []string
	Error        []string
}

// DefaultMarkers returns the built-in marker sets for Claude Code output.
func DefaultMarkers() Markers {
	return Markers{
		StillWorking: []string{
			"Wibbling…",
			"Synthesizing…",
			"Writing…",
			"Thinking…",
			"Processing…",
			"⚒ 0 tokens", // still starting
			"esc to interrupt",
			"ctrl+c to interrupt", // newer Claude Code versions
		},
		Completion: []string{
			"Task completed",
			"Done!",
			"Finished",
			"✅",
			"✓",
		},
		Error: []string{
			"Error:",
			"Failed:",
			"❌",
			"✗",
			"Exception:",
		},
	}
}

// Merge produces the effective marker sets from defaults, overrides and
// extras. A non-nil overrides field replaces the default set wholesale (even
// if empty); extras fields are appended after.
func Merge(defaults Markers, overrides, extras *Markers) Markers {
	result := Markers{
		StillWorking: copySlice(defaults.StillWorking),
		Completion:   copySlice(defaults.Completion),
		Error:        copySlice(defaults.Error),
	}

	if overrides != nil {
		if overrides.StillWorking != nil {
			result.StillWorking = copySlice(overrides.StillWorking)
		}
		if overrides.Completion != nil {
			result.Completion = copySlice(overrides.Completion)
		}
		if overrides.Error != nil {
			result.Error = copySlice(overrides.Error)
		}
	}

	if extras != nil {
		result.StillWorking = append(result.StillWorking, extras.StillWorking...)
		result.Completion = append(result.Completion, extras.Completion...)
		result.Error = append(result.Error, extras.Error...)
	}

	return result
}

// Classify inspects one heuristic poll and returns the verdict together with
// the updated stability counter. Precedence, in order:
//
//  1. A still-working marker forces VerdictWorking and resets the counter.
//     Stale output from an older message must not complete the turn while
//     the assistant is visibly busy.
//  2. A completion or error marker (case-insensitive) completes immediately.
//  3. Output identical to the previous poll bumps the counter; reaching the
//     threshold completes by stability.
//  4. Anything else resets the counter.
func (m Markers) Classify(prev, cur string, stableCount, threshold int) (Verdict, int) {
	if containsAny(cur, m.StillWorking) {
		return VerdictWorking, 0
	}
	if containsAnyFold(cur, m.Completion) || containsAnyFold(cur, m.Error) {
		return VerdictComplete, stableCount
	}
	if cur == prev {
		stableCount++
		if stableCount >= threshold {
			return VerdictComplete, stableCount
		}
		return VerdictUnchanged, stableCount
	}
	return VerdictChanged, 0
}

// readyIndicators are scanned after session startup to confirm the assistant
// finished initializing.
var readyIndicators = []string{
	"claude-code>",
	"How can I help you",
	"What would you like me to help you with",
	"I'm ready to help",
}

// identityIndicators classify an arbitrary tmux session as one of ours when
// its name carries no hint.
var identityIndicators = []string{
	"claude-code",
	"claude",
	"how can i help",
	"i'm claude",
}

// IsReady reports whether the captured text looks like an initialized
// assistant prompt.
func IsReady(content string) bool {
	return containsAnyFold(content, readyIndicators)
}

// LooksLikeAssistant reports whether a captured snippet appears to come from
// an assistant session.
func LooksLikeAssistant(content string) bool {
	return containsAnyFold(content, identityIndicators)
}

func copySlice(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func containsAnyFold(s string, subs []string) bool {
	lower := strings.ToLower(s)
	for _, sub := range subs {
		if strings.Contains(lower, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}
