package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ent0n29/tempo/internal/apperr"
)

func TestParseClientMessageJoin(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"join_session","userId":" u1 ","sessionId":"s1"}`))
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	join, ok := msg.(JoinSession)
	if !ok {
		t.Fatalf("message type = %T, want JoinSession", msg)
	}
	if join.UserID != "u1" || join.SessionID != "s1" {
		t.Fatalf("unexpected join: %+v", join)
	}
}

func TestParseClientMessageJoinWithoutUserIsAccepted(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"join_session","sessionId":"s1"}`))
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	if msg.(JoinSession).UserID != "" {
		t.Fatalf("UserID should be empty")
	}
}

func TestParseClientMessageUserMessage(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"user_message","text":"hi","sessionId":"s1","voiceMode":true}`))
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	um := msg.(UserMessage)
	if um.Text != "hi" || !um.VoiceMode {
		t.Fatalf("unexpected user message: %+v", um)
	}

	_, err = ParseClientMessage([]byte(`{"type":"user_message","text":"  ","sessionId":"s1"}`))
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("error = %v, want validation error", err)
	}
}

func TestParseClientMessageVoiceEnd(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"voice_end","sessionId":"s1","transcript":"  ","audioBase64":"AQID","contentType":"audio/webm"}`))
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	end := msg.(VoiceEnd)
	if end.Transcript != "" {
		t.Fatalf("Transcript = %q, want empty", end.Transcript)
	}
	audio, err := end.Audio()
	if err != nil || len(audio) != 3 {
		t.Fatalf("Audio() = %v, %v", audio, err)
	}

	bad := VoiceEnd{AudioBase64: "%%%"}
	if _, err := bad.Audio(); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("Audio() error = %v, want validation error", err)
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
	if _, err := ParseClientMessage([]byte(`not json`)); err == nil {
		t.Fatalf("expected envelope error")
	}
}

func TestServerEventFieldNames(t *testing.T) {
	ts := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	cases := []struct {
		event any
		want  []string
	}{
		{NewStatus(StatusThinking), []string{`"type":"agent_status"`, `"status":"thinking"`}},
		{NewTyping(false), []string{`"type":"agent_typing"`, `"isTyping":false`}},
		{VoiceAudio{Type: TypeVoiceAudio, AudioURL: "/v1/audio/x", Duration: 1.5, Timestamp: ts}, []string{`"audioUrl":"/v1/audio/x"`, `"duration":1.5`}},
		{AgentResponse{Type: TypeAgentResponse, MessageID: "m1", Actions: []Action{}}, []string{`"messageId":"m1"`, `"actions":[]`}},
		{NewError(apperr.Unauthenticated("a user id is required"), ts), []string{`"type":"error"`, `"code":"unauthorized"`, `"message":"a user id is required"`}},
	}
	for _, tc := range cases {
		raw, err := json.Marshal(tc.event)
		if err != nil {
			t.Fatalf("Marshal(%T) error = %v", tc.event, err)
		}
		for _, w := range tc.want {
			if !strings.Contains(string(raw), w) {
				t.Fatalf("%T JSON %s missing %s", tc.event, raw, w)
			}
		}
	}
}

func TestTypeOf(t *testing.T) {
	if typ, ok := TypeOf(NewTyping(true)); !ok || typ != TypeAgentTyping {
		t.Fatalf("TypeOf(AgentTyping) = %q, %v", typ, ok)
	}
	if _, ok := TypeOf("nope"); ok {
		t.Fatalf("TypeOf(string) ok = true")
	}
}
