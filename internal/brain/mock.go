package brain

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// MockCompleter provides deterministic local replies when no completion
// service is configured. It recognizes a handful of phrasings and answers in
// the same JSON shape the real service is asked for.
type MockCompleter struct{}

func NewMockCompleter() *MockCompleter { return &MockCompleter{} }

var (
	mockClockPattern = regexp.MustCompile(`(?i)\bat (\d{1,2}(?::\d{2})?\s*(?:am|pm)?)`)
	mockDayPattern   = regexp.MustCompile(`(?i)\b(today|tomorrow|next week|monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)
)

func (m *MockCompleter) Complete(ctx context.Context, messages []Message, _ string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	text := ""
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			text = strings.TrimSpace(messages[i].Content)
			break
		}
	}
	if text == "" {
		text = "I am listening."
	}
	return mockReply(text), nil
}

func mockReply(text string) string {
	lower := strings.ToLower(text)

	if rest, ok := cutAnyPrefix(lower, text, "remind me to ", "add a task to ", "add task ", "create a task to "); ok {
		return encodeMock(fmt.Sprintf("Added %q to your tasks.", rest), map[string]any{
			"type": "create_task", "title": rest,
		})
	}
	if rest, ok := cutAnyPrefix(lower, text, "schedule ", "book "); ok {
		act := map[string]any{"type": "create_event", "title": stripScheduling(rest)}
		if m := mockDayPattern.FindString(rest); m != "" {
			act["date"] = strings.ToLower(m)
		}
		if m := mockClockPattern.FindStringSubmatch(rest); m != nil {
			act["time"] = m[1]
		}
		return encodeMock("Scheduled.", act)
	}
	if rest, ok := cutAnyPrefix(lower, text, "cancel the ", "cancel "); ok {
		return encodeMock("Cancelled.", map[string]any{"type": "cancel_event", "target": rest})
	}
	if rest, ok := cutAnyPrefix(lower, text, "complete ", "finish ", "i finished "); ok {
		return encodeMock("Marked as done.", map[string]any{
			"type": "update_task", "target": rest, "status": "completed",
		})
	}
	if strings.Contains(lower, "summar") || strings.Contains(lower, "brief me") {
		kind := "daily"
		for _, k := range []string{"tasks", "meetings", "deals"} {
			if strings.Contains(lower, k) {
				kind = k
			}
		}
		return encodeMock("Here is your summary.", map[string]any{"type": "summarize", "summaryType": kind})
	}
	return encodeMock(fmt.Sprintf("I heard you: %s", text), nil)
}

func cutAnyPrefix(lower, original string, prefixes ...string) (string, bool) {
	for _, p := range prefixes {
		if strings.HasPrefix(lower, p) {
			rest := strings.TrimSpace(strings.TrimRight(original[len(p):], ".!?"))
			return rest, rest != ""
		}
	}
	return "", false
}

func stripScheduling(s string) string {
	s = mockClockPattern.ReplaceAllString(s, "")
	s = mockDayPattern.ReplaceAllString(s, "")
	s = strings.Join(strings.Fields(s), " ")
	s = strings.TrimSuffix(strings.TrimSpace(s), " for")
	s = strings.TrimSuffix(s, " on")
	return strings.TrimSpace(s)
}

func encodeMock(reply string, act map[string]any) string {
	out := map[string]any{"reply": reply}
	if act != nil {
		out["action"] = act
		out["intent"] = act["type"]
	} else {
		out["intent"] = "general_chat"
	}
	b, _ := json.Marshal(out)
	return string(b)
}
