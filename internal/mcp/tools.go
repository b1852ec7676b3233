package mcp

// pagination properties shared by list actions.
func pageProperties(props map[string]interface{}) map[string]interface{} {
	props["page"] = map[string]interface{}{
		"type":        "integer",
		"description": "Page number, starting at 1 (default 1)",
		"minimum":     1,
	}
	props["page_size"] = map[string]interface{}{
		"type":        "integer",
		"description": "Items per page (default 20, max 100)",
		"minimum":     1,
		"maximum":     100,
	}
	return props
}

func str(description string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": description}
}

func obj(description string) map[string]interface{} {
	return map[string]interface{}{"type": "object", "description": description}
}

func enum(description string, values ...string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": description, "enum": values}
}

var timeRangeDoc = "RFC 3339 timestamp or YYYY-MM-DD date"

// toolDefinitions returns the tools with AI-facing descriptions.
func toolDefinitions() []map[string]interface{} {
	return []map[string]interface{}{
		{
			"name": "manage_session",
			"description": `Create, end, update and look up agent work sessions.

WHEN TO USE:
- At the start of a task: action="create" with your agent name (and project)
- When done: action="end" with a summary of what was accomplished
- To resume work: action="last" or action="recent" for your agent

Ending twice fails with AlreadyEndedError; use action="update" to change a summary later.`,
			"inputSchema": map[string]interface{}{
				"type": "object",
				"properties": pageProperties(map[string]interface{}{
					"action":         enum("Operation to perform", "create", "end", "update", "get", "list", "last", "recent", "delete"),
					"session_id":     str("Session id (end, update, get, delete)"),
					"agent":          str("Agent name (create, list, last, recent)"),
					"project":        str("Project name (create, list)"),
					"summary":        str("What the session accomplished (end, update)"),
					"context":        obj("Free-form session context (create, update)"),
					"metadata":       obj("Free-form metadata; merged on end (create, end, update)"),
					"status":         enum("Filter by lifecycle state (list)", "active", "ended"),
					"created_after":  str("Only sessions created at or after this time (list). " + timeRangeDoc),
					"created_before": str("Only sessions created at or before this time (list). " + timeRangeDoc),
					"since_days":     map[string]interface{}{"type": "integer", "description": "Window in days (recent, default 7)", "minimum": 1},
				}),
				"required": []string{"action"},
			},
		},
		{
			"name": "manage_event",
			"description": `Log and list timestamped events within a session.

WHEN TO USE: Record progress as you work (task-started, code-change, decision, error, ...).
Unknown kinds are stored as "other" with the original tag kept as sub_kind.
Events can still be logged after the session has ended.`,
			"inputSchema": map[string]interface{}{
				"type": "object",
				"properties": pageProperties(map[string]interface{}{
					"action":     enum("Operation to perform", "log", "list", "get"),
					"session_id": str("Owning session id (log, list)"),
					"event_id":   str("Event id (get)"),
					"kind": str("Event kind: task-started, task-completed, code-change, success, warning, error, " +
						"git-commit, action, note, decision, file-modified, pattern-identified, context-shared, other"),
					"sub_kind": str("Free-text tag; required when kind is \"other\""),
					"data":     obj("Event payload (log)"),
					"metadata": obj("Free-form metadata (log)"),
					"kinds": map[string]interface{}{
						"type":        "array",
						"items":       map[string]interface{}{"type": "string"},
						"description": "Only these kinds (list)",
					},
				}),
				"required": []string{"action"},
			},
		},
		{
			"name": "manage_pattern",
			"description": `Harvest reusable lessons and record how well they worked.

WHEN TO USE:
- After solving something worth remembering: action="harvest"
- Before starting similar work: action="search" with a description of the problem
- After applying a pattern: action="observe" with a rating from 1 to 5

Patterns are immutable and never deleted; action="get" includes an effectiveness score.`,
			"inputSchema": map[string]interface{}{
				"type": "object",
				"properties": pageProperties(map[string]interface{}{
					"action":         enum("Operation to perform", "harvest", "observe", "get", "list", "search"),
					"pattern_id":     str("Pattern id (observe, get)"),
					"type":           str("success, failure, technical, process or other (harvest, list, search)"),
					"sub_type":       str("Free-text tag for type \"other\" (harvest)"),
					"domain":         str("Domain such as performance or testing (harvest, list, search)"),
					"description":    str("The situation the lesson applies to (harvest)"),
					"pattern_action": str("What to do (harvest)"),
					"outcome":        str("What happened when it was done (harvest)"),
					"context":        obj("Free-form context (harvest)"),
					"created_by":     str("Author, usually the agent name (harvest, list)"),
					"session_id":     str("Session the pattern came from or was applied in (harvest, observe)"),
					"rating":         map[string]interface{}{"type": "integer", "minimum": 1, "maximum": 5, "description": "How well it worked (observe)"},
					"feedback":       str("Notes on the application (observe)"),
					"query":          str("Natural language problem description (search)"),
					"limit":          map[string]interface{}{"type": "integer", "minimum": 1, "maximum": 100, "description": "Max results (search, default 10)"},
					"min_similarity": map[string]interface{}{"type": "number", "minimum": 0, "maximum": 1, "description": "Similarity threshold (search)"},
				}),
				"required": []string{"action"},
			},
		},
		{
			"name": "search_memory",
			"description": `Find relevant past sessions, events or patterns by meaning.

WHEN TO USE: Before starting work, to recall how similar problems were handled.
Filters are exact and always applied; the query ranks what passes them by similarity.
Without a query, results come back newest first.

Result status is "complete", "partial" (deadline hit; best results so far) or
"degraded" (similarity unavailable; recency order).`,
			"inputSchema": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"space":          enum("Which records to search", "sessions", "events", "patterns"),
					"query":          str("Natural language description of what you are looking for"),
					"keyword":        str("Only records whose text contains these words"),
					"hybrid":         map[string]interface{}{"type": "boolean", "description": "Blend keyword relevance into the ranking"},
					"limit":          map[string]interface{}{"type": "integer", "minimum": 1, "maximum": 100, "description": "Max results (default 10)"},
					"min_similarity": map[string]interface{}{"type": "number", "minimum": 0, "maximum": 1, "description": "Similarity threshold"},
					"agent":          str("sessions: agent name"),
					"project":        str("sessions: project"),
					"status":         enum("sessions: lifecycle state", "active", "ended"),
					"session_id":     str("events: owning session"),
					"kinds": map[string]interface{}{
						"type":        "array",
						"items":       map[string]interface{}{"type": "string"},
						"description": "events: only these kinds",
					},
					"domain":         str("patterns: domain"),
					"type":           str("patterns: type"),
					"created_by":     str("patterns: author"),
					"created_after":  str("Created at or after. " + timeRangeDoc),
					"created_before": str("Created at or before. " + timeRangeDoc),
				},
				"required": []string{"space"},
			},
		},
		{
			"name":        "memory_health",
			"description": `Report storage driver, row counts, enrichment queue depth, vector index sizes and the embedding model.`,
			"inputSchema": map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
	}
}
