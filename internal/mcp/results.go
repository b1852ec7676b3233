package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/khanglvm/session-memory-mcp/internal/memory"
	"github.com/khanglvm/session-memory-mcp/internal/retrieval"
)

// decode unmarshals tool arguments, reporting malformed input as a
// ValidationError naming the offending field when possible.
func decode(raw json.RawMessage, v interface{}) error {
	if err := json.Unmarshal(raw, v); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return memory.Validation(typeErr.Field, "expected %s, got %s", typeErr.Type, typeErr.Value)
		}
		return memory.Validation("arguments", "invalid arguments: %v", err)
	}
	return nil
}

func badAction(action string, valid ...string) error {
	if action == "" {
		return memory.Validation("action", "action is required: one of %s", strings.Join(valid, ", "))
	}
	return memory.Validation("action", "unknown action %q; expected one of %s", action, strings.Join(valid, ", "))
}

// entity wraps a single record.
func entity(key string, v interface{}) map[string]interface{} {
	return map[string]interface{}{key: v}
}

func listPayload[T any](key string, res *memory.ListResult[T]) map[string]interface{} {
	return map[string]interface{}{
		key:         res.Items,
		"count":     res.Count,
		"total":     res.Total,
		"page":      res.Page,
		"page_size": res.Size,
	}
}

func resultPayload(res *retrieval.Result) map[string]interface{} {
	payload := map[string]interface{}{
		"space":   res.Space,
		"status":  res.Status,
		"results": res.Items,
		"count":   len(res.Items),
	}
	if res.Reason != "" {
		payload["reason"] = res.Reason
	}
	return payload
}

func errorKind(err error) memory.Kind {
	return memory.KindOf(err)
}

// toolResult renders a tool outcome as MCP text content. Failures carry
// isError and a structured error naming the kind, field and id involved.
func toolResult(payload map[string]interface{}, err error) map[string]interface{} {
	body := map[string]interface{}{}
	if err != nil {
		var merr *memory.Error
		if !errors.As(err, &merr) {
			merr = memory.Internal(err)
		}
		message := merr.Message
		if merr.Err != nil {
			message = fmt.Sprintf("%s: %v", message, merr.Err)
		}
		body["success"] = false
		body["error"] = map[string]interface{}{
			"kind":    merr.Kind,
			"message": message,
			"field":   merr.Field,
			"id":      merr.ID,
			"hint":    merr.Hint,
		}
	} else {
		for k, v := range payload {
			body[k] = v
		}
		body["success"] = true
	}

	text, mErr := json.MarshalIndent(body, "", "  ")
	if mErr != nil {
		text = []byte(fmt.Sprintf(`{"success":false,"error":{"kind":%q,"message":%q}}`, memory.KindInternal, mErr.Error()))
		err = mErr
	}

	result := map[string]interface{}{
		"content": []map[string]interface{}{
			{"type": "text", "text": string(text)},
		},
	}
	if err != nil {
		result["isError"] = true
	}
	return result
}
