// Package memory keeps per-session conversational state: recent messages,
// cached counts and a free-form context map.
package memory

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is the persisted record for one (user, session) pair.
type Session struct {
	SessionID        string         `json:"sessionId"`
	UserID           string         `json:"userId"`
	RecentMessages   []Message      `json:"recentMessages"`
	PendingTasks     int            `json:"pendingTasks"`
	UpcomingMeetings int            `json:"upcomingMeetings"`
	Context          map[string]any `json:"context"`
	LastUpdated      time.Time      `json:"lastUpdated"`
	CreatedAt        time.Time      `json:"createdAt"`
}

// Clone returns a copy that shares no mutable state with s.
func (s Session) Clone() Session {
	out := s
	out.RecentMessages = append(make([]Message, 0, len(s.RecentMessages)), s.RecentMessages...)
	out.Context = cloneMap(s.Context)
	return out
}

// Patch lists the fields to change; nil fields are left alone. Context
// replaces the whole map.
type Patch struct {
	RecentMessages   *[]Message
	PendingTasks     *int
	UpcomingMeetings *int
	Context          map[string]any
}

func (p Patch) apply(s *Session) map[string]any {
	fields := map[string]any{}
	if p.RecentMessages != nil {
		s.RecentMessages = append(make([]Message, 0, len(*p.RecentMessages)), *p.RecentMessages...)
		fields["recentMessages"] = s.RecentMessages
	}
	if p.PendingTasks != nil {
		s.PendingTasks = *p.PendingTasks
		fields["pendingTasks"] = s.PendingTasks
	}
	if p.UpcomingMeetings != nil {
		s.UpcomingMeetings = *p.UpcomingMeetings
		fields["upcomingMeetings"] = s.UpcomingMeetings
	}
	if p.Context != nil {
		s.Context = cloneMap(p.Context)
		fields["context"] = s.Context
	}
	return fields
}

func cloneMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
