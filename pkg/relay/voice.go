package relay

import "strings"

// Intent is what a recognized voice command asks for
type Intent string

const (
	IntentNone  Intent = ""
	IntentStart Intent = "start"
	IntentStop  Intent = "stop"
)

var (
	startKeywords = []string{"شغل", "ابدأ", "start", "play"}
	stopKeywords  = []string{"أوقف", "اوقف", "وقف", "stop"}
)

// DetectIntent matches text against the start and stop keywords. Start
// keywords win when both appear. The intent is only reported; the hub does
// not act on it.
func DetectIntent(text string) Intent {
	lower := strings.ToLower(text)
	for _, kw := range startKeywords {
		if strings.Contains(lower, kw) {
			return IntentStart
		}
	}
	for _, kw := range stopKeywords {
		if strings.Contains(lower, kw) {
			return IntentStop
		}
	}
	return IntentNone
}
