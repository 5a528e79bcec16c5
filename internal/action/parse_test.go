package action

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/tempo/internal/apperr"
)

func TestParseReplyPlainText(t *testing.T) {
	r, err := ParseReply("  Sure thing, happy to help.  ")
	require.NoError(t, err)
	assert.Equal(t, "Sure thing, happy to help.", r.Text)
	assert.Equal(t, GeneralChat{}, r.Action)
	assert.Equal(t, "general_chat", r.Intent)
}

func TestParseReplyCreateTaskInsideFence(t *testing.T) {
	raw := "```json\n" + `{"reply":"Added it.","intent":"create_task","action":{"type":"create_task","title":"Call Bob","priority":"high","dueDate":"tomorrow","dueTime":"3pm"}}` + "\n```"
	r, err := ParseReply(raw)
	require.NoError(t, err)
	assert.Equal(t, "Added it.", r.Text)
	assert.Equal(t, CreateTask{Title: "Call Bob", Priority: "high", DueDate: "tomorrow", DueTime: "3pm"}, r.Action)
}

func TestParseReplyUpdateKeepsOnlyPresentFields(t *testing.T) {
	r, err := ParseReply(`{"reply":"Done.","action":{"type":"update_task","target":"login bug","status":"completed"}}`)
	require.NoError(t, err)
	upd, ok := r.Action.(UpdateTask)
	require.True(t, ok)
	assert.Equal(t, "login bug", upd.Target)
	require.NotNil(t, upd.Status)
	assert.Equal(t, "completed", *upd.Status)
	assert.Nil(t, upd.Title)
	assert.Nil(t, upd.DueDate)
	assert.Equal(t, "update_task", r.Intent)
}

func TestParseReplyEventVariants(t *testing.T) {
	r, err := ParseReply(`{"reply":"Booked.","action":{"type":"create_event","title":"Design review","date":"friday","time":"10am","durationMinutes":30,"attendees":["ana@example.com"]}}`)
	require.NoError(t, err)
	assert.Equal(t, CreateEvent{
		Title:           "Design review",
		Date:            "friday",
		Time:            "10am",
		DurationMinutes: 30,
		Attendees:       []string{"ana@example.com"},
	}, r.Action)

	r, err = ParseReply(`{"reply":"Moved.","action":{"type":"update_event","target":"design review","time":"2pm"}}`)
	require.NoError(t, err)
	upd := r.Action.(UpdateEvent)
	assert.True(t, upd.Reschedules())

	r, err = ParseReply(`{"reply":"Cancelled.","action":{"type":"cancel_event","title":"standup"}}`)
	require.NoError(t, err)
	assert.Equal(t, CancelEvent{Target: "standup"}, r.Action)

	r, err = ParseReply(`{"reply":"Here you go.","action":{"type":"summarize","summaryType":"deals"}}`)
	require.NoError(t, err)
	assert.Equal(t, Summarize{Type: "deals"}, r.Action)
}

func TestParseReplyInvalidActionKeepsReply(t *testing.T) {
	cases := []string{
		`{"reply":"On it.","action":{"type":"create_task"}}`,
		`{"reply":"On it.","action":{"type":"update_event"}}`,
		`{"reply":"On it.","action":{"type":"launch_rocket"}}`,
		`{"reply":"On it.","action":"create_task"}`,
	}
	for _, raw := range cases {
		r, err := ParseReply(raw)
		require.Error(t, err, raw)
		assert.True(t, apperr.Is(err, apperr.KindValidation), raw)
		assert.Equal(t, "On it.", r.Text, raw)
		assert.Equal(t, GeneralChat{}, r.Action, raw)
	}
}

func TestParseReplyNullAction(t *testing.T) {
	r, err := ParseReply(`{"reply":"Hello there!","action":null}`)
	require.NoError(t, err)
	assert.Equal(t, "Hello there!", r.Text)
	assert.Equal(t, KindGeneralChat, r.Action.Kind())
}
