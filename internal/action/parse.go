package action

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ent0n29/tempo/internal/apperr"
)

// Reply is the parsed completion output.
type Reply struct {
	Text   string
	Intent string
	Action Action
}

type wireReply struct {
	Reply  string          `json:"reply"`
	Intent string          `json:"intent"`
	Action json.RawMessage `json:"action"`
}

type wireAction struct {
	Type            string   `json:"type"`
	Target          string   `json:"target"`
	Title           *string  `json:"title"`
	Description     *string  `json:"description"`
	Status          *string  `json:"status"`
	Priority        *string  `json:"priority"`
	DueDate         *string  `json:"dueDate"`
	DueTime         *string  `json:"dueTime"`
	Date            *string  `json:"date"`
	Time            *string  `json:"time"`
	Location        *string  `json:"location"`
	DurationMinutes *int     `json:"durationMinutes"`
	Attendees       []string `json:"attendees"`
	SummaryType     string   `json:"summaryType"`
}

// ParseReply reads the completion output. Text that is not a JSON object is
// treated as a plain chat reply. A malformed action yields a validation error
// alongside the reply text, so the caller can still answer.
func ParseReply(raw string) (Reply, error) {
	body := extractJSONObject(raw)
	if body == "" {
		return Reply{Text: strings.TrimSpace(raw), Intent: string(KindGeneralChat), Action: GeneralChat{}}, nil
	}

	var w wireReply
	if err := json.Unmarshal([]byte(body), &w); err != nil {
		return Reply{Text: strings.TrimSpace(raw), Intent: string(KindGeneralChat), Action: GeneralChat{}}, nil
	}

	out := Reply{Text: strings.TrimSpace(w.Reply), Intent: strings.TrimSpace(w.Intent), Action: GeneralChat{}}
	trimmed := strings.TrimSpace(string(w.Action))
	if trimmed == "" || trimmed == "null" {
		if out.Intent == "" {
			out.Intent = string(KindGeneralChat)
		}
		return out, nil
	}

	var wa wireAction
	if err := json.Unmarshal(w.Action, &wa); err != nil {
		return out, apperr.Validation("the requested action could not be understood")
	}
	act, err := wa.toAction()
	if err != nil {
		return out, err
	}
	out.Action = act
	if out.Intent == "" {
		out.Intent = string(act.Kind())
	}
	return out, nil
}

func (w wireAction) toAction() (Action, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(w.Type))) {
	case KindCreateTask:
		title := deref(w.Title)
		if strings.TrimSpace(title) == "" {
			return nil, apperr.Validation("a title is required to create a task")
		}
		return CreateTask{
			Title:       strings.TrimSpace(title),
			Description: deref(w.Description),
			Priority:    deref(w.Priority),
			DueDate:     deref(w.DueDate),
			DueTime:     deref(w.DueTime),
		}, nil
	case KindUpdateTask:
		if strings.TrimSpace(w.Target) == "" {
			return nil, apperr.Validation("which task should be updated?")
		}
		return UpdateTask{
			Target:      strings.TrimSpace(w.Target),
			Title:       w.Title,
			Description: w.Description,
			Status:      w.Status,
			Priority:    w.Priority,
			DueDate:     w.DueDate,
			DueTime:     w.DueTime,
		}, nil
	case KindCreateEvent:
		title := deref(w.Title)
		if strings.TrimSpace(title) == "" {
			return nil, apperr.Validation("a title is required to schedule a meeting")
		}
		duration := 0
		if w.DurationMinutes != nil {
			duration = *w.DurationMinutes
		}
		if duration < 0 {
			return nil, apperr.Validation("a meeting cannot have a negative duration")
		}
		return CreateEvent{
			Title:           strings.TrimSpace(title),
			Description:     deref(w.Description),
			Location:        deref(w.Location),
			Date:            firstNonEmpty(deref(w.Date), deref(w.DueDate)),
			Time:            firstNonEmpty(deref(w.Time), deref(w.DueTime)),
			DurationMinutes: duration,
			Attendees:       w.Attendees,
		}, nil
	case KindUpdateEvent:
		if strings.TrimSpace(w.Target) == "" {
			return nil, apperr.Validation("which meeting should be updated?")
		}
		if w.DurationMinutes != nil && *w.DurationMinutes <= 0 {
			return nil, apperr.Validation("a meeting needs a positive duration")
		}
		return UpdateEvent{
			Target:          strings.TrimSpace(w.Target),
			Title:           w.Title,
			Description:     w.Description,
			Location:        w.Location,
			Date:            w.Date,
			Time:            w.Time,
			DurationMinutes: w.DurationMinutes,
		}, nil
	case KindCancelEvent:
		target := firstNonEmpty(w.Target, deref(w.Title))
		if strings.TrimSpace(target) == "" {
			return nil, apperr.Validation("which meeting should be cancelled?")
		}
		return CancelEvent{Target: strings.TrimSpace(target)}, nil
	case KindSummarize:
		return Summarize{Type: firstNonEmpty(w.SummaryType, "daily")}, nil
	case KindGeneralChat, "":
		return GeneralChat{}, nil
	}
	return nil, apperr.Validation(fmt.Sprintf("unsupported action %q", w.Type))
}

// extractJSONObject returns the outermost {...} span of raw, tolerating code
// fences and prose around it.
func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return ""
	}
	return raw[start : end+1]
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
