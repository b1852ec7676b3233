package memory

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// SessionText is the text embedded for a session: summary plus context.
func SessionText(s *Session) string {
	var b strings.Builder
	if s.Summary != nil {
		b.WriteString(*s.Summary)
	}
	if s.Project != "" {
		fmt.Fprintf(&b, "\nproject: %s", s.Project)
	}
	writeFields(&b, s.Context)
	return strings.TrimSpace(b.String())
}

// EventText is the text embedded for an event: kind plus payload.
func EventText(e *Event) string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.SubKind != "" {
		b.WriteString(" " + e.SubKind)
	}
	writeFields(&b, e.Data)
	return strings.TrimSpace(b.String())
}

// PatternText is the text embedded for a pattern narrative.
func PatternText(p *Pattern) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\naction: %s", p.Description, p.Action)
	if p.Outcome != "" {
		fmt.Fprintf(&b, "\noutcome: %s", p.Outcome)
	}
	if p.Domain != "" {
		fmt.Fprintf(&b, "\ndomain: %s", p.Domain)
	}
	writeFields(&b, p.Context)
	return strings.TrimSpace(b.String())
}

// writeFields appends "key: value" lines in key order so identical maps
// always produce identical text.
func writeFields(b *strings.Builder, m map[string]any) {
	if len(m) == 0 {
		return
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			fmt.Fprintf(b, "\n%s: %s", k, v)
		default:
			data, err := json.Marshal(v)
			if err != nil {
				continue
			}
			fmt.Fprintf(b, "\n%s: %s", k, data)
		}
	}
}
