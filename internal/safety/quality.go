package safety

import (
	"regexp"
	"strings"
)

// AutoRegenPrompt is sent once per turn when a reply fails CheckQuality.
const AutoRegenPrompt = "Can you say a little more about that?"

// FallbackPrompt stands in for an empty reply from the engine.
const FallbackPrompt = "I'm here with you. Would you like to tell me a bit more about what's on your mind?"

var apologyOnly = regexp.MustCompile(`^i'?m (so )?sorry`)

// CheckQuality reports whether a reply has enough substance to show. Only
// short, purely apologetic replies fail.
func CheckQuality(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return false
	}
	if strings.Contains(lower, "?") {
		return true
	}
	if len(lower) >= 80 {
		return true
	}
	if apologyOnly.MatchString(lower) && len(lower) < 60 {
		return false
	}
	return true
}
