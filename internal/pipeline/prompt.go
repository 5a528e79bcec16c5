package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ent0n29/tempo/internal/brain"
	"github.com/ent0n29/tempo/internal/memory"
)

const replyProtocol = `Answer with one JSON object and nothing else:
{"reply": "<short reply to the user>", "intent": "<action type or general_chat>", "action": <action object or null>}

Action objects (include only the fields you know):
- {"type":"create_task","title":"...","description":"...","priority":"high|medium|low","dueDate":"today|tomorrow|<weekday>|next week|YYYY-MM-DD","dueTime":"3pm|15:30"}
- {"type":"update_task","target":"<words from the task title>","title":"...","status":"pending|in_progress|completed|cancelled","priority":"...","dueDate":"...","dueTime":"..."}
- {"type":"create_event","title":"...","date":"...","time":"...","durationMinutes":60,"location":"...","attendees":["..."]}
- {"type":"update_event","target":"<words from the meeting title>","title":"...","date":"...","time":"...","durationMinutes":30,"location":"..."}
- {"type":"cancel_event","target":"<words from the meeting title>"}
- {"type":"summarize","summaryType":"daily|tasks|meetings|deals"}

Use at most one action. Never invent ids. If the user is just chatting, set "action" to null.`

const voiceConstraint = `The reply will be spoken aloud. Keep it to one or two short sentences of plain prose. No markdown, lists, emoji or URLs.`

func buildSystemPrompt(agentName string, sess memory.Session, now time.Time, voiceMode bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a personal productivity assistant that manages the user's tasks, meetings and deals.\n", agentName)
	fmt.Fprintf(&b, "Current time: %s.\n", now.Format("Monday, January 2, 2006 3:04 PM MST"))
	fmt.Fprintf(&b, "The user has %d pending tasks and %d upcoming meetings.\n", sess.PendingTasks, sess.UpcomingMeetings)
	if len(sess.Context) > 0 {
		if ctxJSON, err := json.Marshal(sess.Context); err == nil {
			fmt.Fprintf(&b, "Session context: %s\n", ctxJSON)
		}
	}
	b.WriteString("\n")
	b.WriteString(replyProtocol)
	if voiceMode {
		b.WriteString("\n\n")
		b.WriteString(voiceConstraint)
	}
	return b.String()
}

// conversation turns the stored exchange plus the new user text into the
// completion request.
func conversation(sess memory.Session, text string) []brain.Message {
	out := make([]brain.Message, 0, len(sess.RecentMessages)+1)
	for _, m := range sess.RecentMessages {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		out = append(out, brain.Message{Role: m.Role, Content: m.Content})
	}
	return append(out, brain.Message{Role: memory.RoleUser, Content: text})
}
