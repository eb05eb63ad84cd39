// Package intent routes an utterance to one of the receptionist's handlers
// using fixed keyword sets.
package intent

import "strings"

type Intent int

const (
	General Intent = iota
	Exit
	CalendarQuery
	CalendarCreate
)

func (i Intent) String() string {
	switch i {
	case Exit:
		return "exit"
	case CalendarQuery:
		return "calendar_query"
	case CalendarCreate:
		return "calendar_create"
	default:
		return "general"
	}
}

var (
	exitWords     = []string{"exit", "goodbye", "stop", "quit"}
	calendarWords = []string{"schedule", "appointment", "calendar"}
	queryWords    = []string{"check", "show", "what", "list"}
	createWords   = []string{"book", "create", "make", "schedule"}
)

// Classify returns the intent of text. Matching is by substring on the
// lower-cased text and the first rule that matches wins: exit, calendar query,
// calendar create, general conversation.
//
// "schedule" is both a calendar word and a create word, so any calendar
// request that also carries a query word is treated as a query.
func Classify(text string) Intent {
	lower := strings.ToLower(text)

	if containsAny(lower, exitWords) {
		return Exit
	}

	if !containsAny(lower, calendarWords) {
		return General
	}

	switch {
	case containsAny(lower, queryWords):
		return CalendarQuery
	case containsAny(lower, createWords):
		return CalendarCreate
	default:
		return General
	}
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
