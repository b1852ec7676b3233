package memory

import "strings"

// EventKind is the closed set of event kinds. Unknown kinds are carried as
// EventOther with the original tag preserved in Event.SubKind.
type EventKind string

const (
	EventTaskStarted       EventKind = "task-started"
	EventTaskCompleted     EventKind = "task-completed"
	EventCodeChange        EventKind = "code-change"
	EventSuccess           EventKind = "success"
	EventWarning           EventKind = "warning"
	EventError             EventKind = "error"
	EventGitCommit         EventKind = "git-commit"
	EventAction            EventKind = "action"
	EventNote              EventKind = "note"
	EventDecision          EventKind = "decision"
	EventFileModified      EventKind = "file-modified"
	EventPatternIdentified EventKind = "pattern-identified"
	EventContextShared     EventKind = "context-shared"
	EventOther             EventKind = "other"
)

var eventKinds = []EventKind{
	EventTaskStarted, EventTaskCompleted, EventCodeChange, EventSuccess,
	EventWarning, EventError, EventGitCommit, EventAction, EventNote,
	EventDecision, EventFileModified, EventPatternIdentified, EventContextShared,
	EventOther,
}

// EventKinds returns every known event kind.
func EventKinds() []EventKind {
	out := make([]EventKind, len(eventKinds))
	copy(out, eventKinds)
	return out
}

// ParseEventKind maps a raw tag onto the closed set. Underscores and case are
// normalized ("task_started" == "task-started"). Anything unrecognised becomes
// EventOther and the raw tag is returned as the sub-kind.
func ParseEventKind(raw string) (EventKind, string) {
	norm := normalizeTag(raw)
	for _, k := range eventKinds {
		if k != EventOther && string(k) == norm {
			return k, ""
		}
	}
	return EventOther, strings.TrimSpace(raw)
}

// PatternType is the closed set of pattern types, with PatternOther as catch-all.
type PatternType string

const (
	PatternSuccess   PatternType = "success"
	PatternFailure   PatternType = "failure"
	PatternTechnical PatternType = "technical"
	PatternProcess   PatternType = "process"
	PatternOther     PatternType = "other"
)

var patternTypes = []PatternType{PatternSuccess, PatternFailure, PatternTechnical, PatternProcess, PatternOther}

// PatternTypes returns every known pattern type.
func PatternTypes() []PatternType {
	out := make([]PatternType, len(patternTypes))
	copy(out, patternTypes)
	return out
}

// ParsePatternType maps a raw tag onto the closed set, see ParseEventKind.
func ParsePatternType(raw string) (PatternType, string) {
	norm := normalizeTag(raw)
	for _, t := range patternTypes {
		if t != PatternOther && string(t) == norm {
			return t, ""
		}
	}
	return PatternOther, strings.TrimSpace(raw)
}

func normalizeTag(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	return strings.ReplaceAll(s, "_", "-")
}
