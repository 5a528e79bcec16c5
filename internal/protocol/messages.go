// Package protocol defines the realtime channel envelopes exchanged with
// clients.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ent0n29/tempo/internal/apperr"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeJoinSession MessageType = "join_session"
	TypeUserMessage MessageType = "user_message"
	TypeVoiceStart  MessageType = "voice_start"
	TypeVoiceEnd    MessageType = "voice_end"

	TypeSessionJoined MessageType = "session_joined"
	TypeAgentStatus   MessageType = "agent_status"
	TypeAgentTyping   MessageType = "agent_typing"
	TypeAgentResponse MessageType = "agent_response"
	TypeVoiceAudio    MessageType = "voice_audio"
	TypeError         MessageType = "error"
)

// Status is the agent state shown to every connection in a session room.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusListening Status = "listening"
	StatusThinking  Status = "thinking"
	StatusSpeaking  Status = "speaking"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type JoinSession struct {
	Type      MessageType `json:"type"`
	UserID    string      `json:"userId"`
	SessionID string      `json:"sessionId"`
}

type UserMessage struct {
	Type      MessageType `json:"type"`
	Text      string      `json:"text"`
	SessionID string      `json:"sessionId"`
	VoiceMode bool        `json:"voiceMode,omitempty"`
}

type VoiceStart struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"sessionId"`
}

// VoiceEnd closes a voice capture. Clients either send the transcript they
// recognized locally or the recorded audio for server-side transcription.
type VoiceEnd struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"sessionId"`
	Transcript  string      `json:"transcript"`
	AudioBase64 string      `json:"audioBase64,omitempty"`
	ContentType string      `json:"contentType,omitempty"`
}

// Audio decodes the optional recorded audio.
func (v VoiceEnd) Audio() ([]byte, error) {
	if v.AudioBase64 == "" {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(v.AudioBase64)
	if err != nil {
		return nil, apperr.Validation("voice_end audio is not valid base64")
	}
	return data, nil
}

type SessionJoined struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"sessionId"`
	AgentName   string      `json:"agentName"`
	AgentAvatar string      `json:"agentAvatar,omitempty"`
}

type AgentStatus struct {
	Type   MessageType `json:"type"`
	Status Status      `json:"status"`
}

type AgentTyping struct {
	Type     MessageType `json:"type"`
	IsTyping bool        `json:"isTyping"`
}

type Action struct {
	Type     string `json:"type"`
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	EntityID string `json:"entityId,omitempty"`
}

type AgentResponse struct {
	Type      MessageType `json:"type"`
	Text      string      `json:"text"`
	MessageID string      `json:"messageId"`
	Actions   []Action    `json:"actions"`
	Timestamp time.Time   `json:"timestamp"`
}

// VoiceAudio points at a synthesized clip. Duration is in seconds.
type VoiceAudio struct {
	Type      MessageType `json:"type"`
	AudioURL  string      `json:"audioUrl"`
	Duration  float64     `json:"duration"`
	Timestamp time.Time   `json:"timestamp"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	Timestamp time.Time   `json:"timestamp"`
}

func NewStatus(s Status) AgentStatus {
	return AgentStatus{Type: TypeAgentStatus, Status: s}
}

func NewTyping(on bool) AgentTyping {
	return AgentTyping{Type: TypeAgentTyping, IsTyping: on}
}

// NewError builds an error event from any error, keeping only its public
// code and message.
func NewError(err error, now time.Time) ErrorEvent {
	return ErrorEvent{
		Type:      TypeError,
		Code:      apperr.CodeOf(err),
		Message:   apperr.PublicMessage(err),
		Timestamp: now,
	}
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeJoinSession:
		var msg JoinSession
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		msg.UserID = strings.TrimSpace(msg.UserID)
		msg.SessionID = strings.TrimSpace(msg.SessionID)
		if msg.SessionID == "" {
			return nil, apperr.Validation("join_session requires a sessionId")
		}
		return msg, nil
	case TypeUserMessage:
		var msg UserMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.Text) == "" {
			return nil, apperr.Validation("user_message requires text")
		}
		return msg, nil
	case TypeVoiceStart:
		var msg VoiceStart
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeVoiceEnd:
		var msg VoiceEnd
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		msg.Transcript = strings.TrimSpace(msg.Transcript)
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// TypeOf returns the envelope type of a parsed or outgoing message.
func TypeOf(v any) (MessageType, bool) {
	switch m := v.(type) {
	case JoinSession:
		return m.Type, true
	case UserMessage:
		return m.Type, true
	case VoiceStart:
		return m.Type, true
	case VoiceEnd:
		return m.Type, true
	case SessionJoined:
		return m.Type, true
	case AgentStatus:
		return m.Type, true
	case AgentTyping:
		return m.Type, true
	case AgentResponse:
		return m.Type, true
	case VoiceAudio:
		return m.Type, true
	case ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
