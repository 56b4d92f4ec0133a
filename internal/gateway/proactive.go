package gateway

import (
	"strings"
	"time"

	"github.com/stellarlinkco/nova/internal/memory"
)

const (
	proactiveJobName = "__internal_proactive_checkin"
	proactiveMsg     = "__internal:proactive:checkin"

	// quietPeriod is the minimum silence before a check-in is sent.
	quietPeriod = 30 * time.Minute
	longSilence = 2 * time.Hour
)

var (
	morningLines = []string{
		"Morning! How'd you sleep?",
		"Good morning! What's on the agenda today?",
	}
	middayLines = []string{
		"Did you eat lunch yet?",
		"How's the day going? Need me to do anything?",
	}
	eveningLines = []string{
		"How was your day? Get everything done you wanted?",
		"Evening check-in! What did you get done today?",
	}
	lateLines = []string{
		"Still up? Should I remind you to rest?",
		"Late night. Need anything before bed?",
	}
	silenceLines = []string{
		"Haven't heard from you in a while. All good?",
		"Been a minute... everything cool?",
	}
	casualLines = []string{
		"What are you up to?",
		"Need me to do anything for you?",
		"Just checking in! How's it going?",
	}
)

// checkInMessage picks a check-in line for now given how long the user has
// been quiet. It returns "" when a check-in would be too soon. Whether the
// persona wants to check in at all is decided by the caller.
func checkInMessage(now time.Time, silence time.Duration, recent []memory.Activity) string {
	if silence < quietPeriod {
		return ""
	}

	pick := func(lines []string) string {
		return lines[now.Minute()%len(lines)]
	}

	hour := now.Hour()
	switch {
	case hour >= 6 && hour < 10 && silence > time.Hour:
		return pick(morningLines)
	case hour >= 12 && hour < 14 && silence > time.Hour:
		return pick(middayLines)
	case hour >= 19 && hour < 22 && silence > time.Hour:
		return pick(eveningLines)
	case hour >= 22 || hour < 6:
		return pick(lateLines)
	}

	if len(recent) > 0 {
		if line := activityLine(recent[0]); line != "" {
			return line
		}
	}
	if silence > longSilence {
		return pick(silenceLines)
	}
	return pick(casualLines)
}

// activityLine asks about the most recent activity, or returns "".
func activityLine(a memory.Activity) string {
	if a.Type == activityToolUse {
		if name, ok := a.Metadata["tool"].(string); ok && name != "" {
			return "I saw you had me running the " + name + " tool earlier. Still at it?"
		}
		return ""
	}
	desc := strings.ToLower(strings.TrimSpace(a.Description))
	if desc == "" {
		return ""
	}
	return "How's " + desc + " going?"
}
