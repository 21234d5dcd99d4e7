package vision

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const snippetLimit = 160

// DecodeJSON decodes a model reply into target. Replies wrapped in a
// markdown fence or surrounded by prose are reduced to the outermost object.
func DecodeJSON(content string, target any) error {
	raw := strings.TrimSpace(content)
	if raw == "" {
		return errors.New("empty payload")
	}
	err := json.Unmarshal([]byte(raw), target)
	if err == nil {
		return nil
	}
	body := extractObject(raw)
	if body == raw {
		return fmt.Errorf("%w (payload: %s)", err, snippet(raw))
	}
	if err := json.Unmarshal([]byte(body), target); err != nil {
		return fmt.Errorf("%w (extracted payload: %s)", err, snippet(body))
	}
	return nil
}

func extractObject(raw string) string {
	body := unfence(raw)
	start := strings.IndexByte(body, '{')
	end := strings.LastIndexByte(body, '}')
	if start < 0 || end <= start {
		return body
	}
	return body[start : end+1]
}

// unfence strips a leading ``` or ```json and the closing fence.
func unfence(raw string) string {
	body, ok := strings.CutPrefix(raw, "```")
	if !ok {
		return raw
	}
	body = strings.TrimLeft(body, " \t\r\n")
	if len(body) >= 4 && strings.EqualFold(body[:4], "json") {
		body = body[4:]
	}
	if i := strings.LastIndex(body, "```"); i >= 0 {
		body = body[:i]
	}
	return strings.TrimSpace(body)
}

// snippet collapses whitespace and caps s for use inside error messages.
func snippet(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return "<empty>"
	}
	if r := []rune(s); len(r) > snippetLimit {
		return string(r[:snippetLimit]) + "..."
	}
	return s
}
