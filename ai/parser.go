package ai

import (
	"encoding/json"
	"strings"
	"time"
)

// The upstream model has no schema guarantee: it returns free text that
// is expected to contain a single JSON value, often fenced in a markdown
// code block. Everything in this file treats that text as untrusted and
// fails soft.

const maxTaskLength = 120

// Reply is the structured reply draft parsed from a generation response.
type Reply struct {
	Subject    string `json:"subject"`
	Body       string `json:"body"`
	Closing    string `json:"closing"`
	Signature  string `json:"signature"`
	TriggerTag string `json:"trigger_tag"`
}

// TodoItem is one action item parsed from an extraction response.
type TodoItem struct {
	Task       string
	DueDate    *time.Time
	Confidence float64
}

// stripCodeFence removes a surrounding markdown code fence (``` or
// ```json) if one is present and returns the trimmed inner text.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// Drop the language tag on the opening fence line.
	if idx := strings.Index(s, "\n"); idx >= 0 {
		first := strings.TrimSpace(s[:idx])
		if first == "" || !strings.ContainsAny(first, "{[\"") {
			s = s[idx+1:]
		}
	}
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

// parseReply parses a generation response into a Reply. A response that
// cannot be parsed, or that parses without a body, yields (nil, false);
// the caller falls back to a raw-text draft instead of failing.
func parseReply(content string) (*Reply, bool) {
	cleaned := stripCodeFence(content)

	var reply Reply
	if err := json.Unmarshal([]byte(cleaned), &reply); err != nil {
		return nil, false
	}
	if strings.TrimSpace(reply.Body) == "" {
		return nil, false
	}
	return &reply, true
}

type rawTodo struct {
	Task       string  `json:"task"`
	DueDate    string  `json:"due_date"`
	Confidence float64 `json:"confidence"`
}

// parseTodos parses an extraction response into zero or more todo items.
// Malformed responses and malformed entries yield an empty (or shorter)
// list, never an error: extraction is best-effort and must not block the
// draft.
func parseTodos(content string) []TodoItem {
	cleaned := stripCodeFence(content)

	var raw []rawTodo
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		// Some models wrap the list in an object.
		var wrapped struct {
			Todos []rawTodo `json:"todos"`
		}
		if err := json.Unmarshal([]byte(cleaned), &wrapped); err != nil {
			return nil
		}
		raw = wrapped.Todos
	}

	todos := make([]TodoItem, 0, len(raw))
	for _, r := range raw {
		task := strings.TrimSpace(r.Task)
		if task == "" {
			continue
		}
		if len(task) > maxTaskLength {
			task = task[:maxTaskLength]
		}
		todos = append(todos, TodoItem{
			Task:       task,
			DueDate:    parseDueDate(r.DueDate),
			Confidence: clampConfidence(r.Confidence),
		})
	}
	return todos
}

func parseDueDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
