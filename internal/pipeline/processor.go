// Package pipeline runs one conversational turn: it asks the completion
// service for a reply and an action, performs the action against the user's
// records and stores the exchange in session memory.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ent0n29/tempo/internal/action"
	"github.com/ent0n29/tempo/internal/apperr"
	"github.com/ent0n29/tempo/internal/brain"
	"github.com/ent0n29/tempo/internal/memory"
	"github.com/ent0n29/tempo/internal/observability"
	"github.com/ent0n29/tempo/internal/records"
	"github.com/ent0n29/tempo/internal/summary"
	"github.com/ent0n29/tempo/internal/voice"
)

// Memory is the slice of the session memory store a turn needs.
type Memory interface {
	GetMemory(ctx context.Context, userID, sessionID string) (memory.Session, error)
	AppendExchange(ctx context.Context, userID, sessionID string, msgs ...memory.Message) (memory.Session, error)
	UpdateCounts(ctx context.Context, userID, sessionID string) (memory.Session, error)
}

// Records is the CRUD collaborator actions run against.
type Records interface {
	CreateTask(ctx context.Context, userID string, task records.Task) (records.Task, error)
	UpdateTask(ctx context.Context, userID, id string, patch records.TaskPatch) (records.Task, error)
	ListTasks(ctx context.Context, userID string, statuses []records.TaskStatus, limit int) ([]records.Task, error)
	CreateEvent(ctx context.Context, userID string, event records.Event) (records.Event, error)
	UpdateEvent(ctx context.Context, userID, id string, patch records.EventPatch) (records.Event, error)
	ListEvents(ctx context.Context, userID string, f records.EventFilter) ([]records.Event, error)
}

type Summarizer interface {
	Summarize(ctx context.Context, userID string, kind summary.Kind) (summary.Digest, error)
}

// CalendarMirror receives event mutations after they are stored. It must not
// fail the turn.
type CalendarMirror interface {
	Created(ctx context.Context, userID string, ev records.Event)
	Updated(ctx context.Context, userID string, ev records.Event)
	Cancelled(ctx context.Context, userID string, ev records.Event)
}

type Config struct {
	AgentName string
	Memory    Memory
	Completer brain.Completer
	Records   Records
	Summaries Summarizer
	Calendar  CalendarMirror
	Metrics   *observability.Metrics
	Logger    *zap.Logger
	Now       func() time.Time
}

type Processor struct {
	agentName string
	memory    Memory
	completer brain.Completer
	records   Records
	summaries Summarizer
	calendar  CalendarMirror
	metrics   *observability.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

func New(cfg Config) *Processor {
	if strings.TrimSpace(cfg.AgentName) == "" {
		cfg.AgentName = "Tempo"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Processor{
		agentName: cfg.AgentName,
		memory:    cfg.Memory,
		completer: cfg.Completer,
		records:   cfg.Records,
		summaries: cfg.Summaries,
		calendar:  cfg.Calendar,
		metrics:   cfg.Metrics,
		logger:    observability.OrNop(cfg.Logger),
		now:       cfg.Now,
	}
}

type Options struct {
	VoiceMode bool
}

// ActionResult reports what one dispatched action did.
type ActionResult struct {
	Type     string `json:"type"`
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	EntityID string `json:"entityId,omitempty"`
}

type Result struct {
	MessageID string         `json:"messageId"`
	Text      string         `json:"text"`
	Intent    string         `json:"intent"`
	Actions   []ActionResult `json:"actions"`
	VoiceText string         `json:"voiceText"`
	Timestamp time.Time      `json:"timestamp"`
}

// Process runs one turn. Lookup misses and invalid actions are answered in
// the reply text; memory, completion and storage failures abort the turn.
func (p *Processor) Process(ctx context.Context, userID, sessionID, text string, opts Options) (Result, error) {
	if strings.TrimSpace(userID) == "" {
		return Result{}, apperr.Unauthenticated("a user id is required")
	}
	if strings.TrimSpace(sessionID) == "" {
		return Result{}, apperr.Validation("a session id is required")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{}, apperr.Validation("message text is empty")
	}

	sess, err := p.memory.GetMemory(ctx, userID, sessionID)
	if err != nil {
		return Result{}, fmt.Errorf("load session memory: %w", err)
	}

	now := p.now()
	raw, err := p.completer.Complete(ctx, conversation(sess, text), buildSystemPrompt(p.agentName, sess, now, opts.VoiceMode))
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		var ae *apperr.Error
		if !errors.As(err, &ae) {
			err = apperr.External("completion service", false, err)
		}
		return Result{}, err
	}

	reply, perr := action.ParseReply(raw)
	if reply.Intent == "" {
		reply.Intent = string(action.KindGeneralChat)
	}
	out := Result{
		MessageID: uuid.NewString(),
		Text:      reply.Text,
		Intent:    reply.Intent,
		Actions:   []ActionResult{},
		Timestamp: now,
	}

	mutated := false
	switch {
	case perr != nil:
		p.logger.Warn("completion returned an unusable action",
			zap.String("session_id", sessionID),
			zap.String("intent", reply.Intent),
			zap.Error(perr),
		)
		p.metrics.ObserveAction(reply.Intent, "invalid")
		out.Text = sentence(apperr.PublicMessage(perr))
		out.Actions = append(out.Actions, ActionResult{Type: reply.Intent, Message: out.Text})
	case reply.Action.Kind() != action.KindGeneralChat:
		kind := string(reply.Action.Kind())
		res, err := p.dispatch(ctx, userID, reply.Action, now)
		switch {
		case err == nil:
			p.metrics.ObserveAction(kind, "success")
			mutated = reply.Action.Kind() != action.KindSummarize
			out.Text = mergeReply(reply.Action, out.Text, res.Message)
		case apperr.Is(err, apperr.KindNotFound), apperr.Is(err, apperr.KindValidation):
			p.metrics.ObserveAction(kind, string(apperr.KindOf(err)))
			res = ActionResult{Type: kind, Message: sentence(apperr.PublicMessage(err))}
			out.Text = res.Message
		default:
			p.metrics.ObserveAction(kind, "failed")
			return Result{}, fmt.Errorf("dispatch %s: %w", kind, err)
		}
		out.Actions = append(out.Actions, res)
	}
	if out.Text == "" {
		out.Text = "Okay."
	}
	out.VoiceText = voice.SpeechText(out.Text)

	_, err = p.memory.AppendExchange(ctx, userID, sessionID,
		memory.Message{Role: memory.RoleUser, Content: text, Timestamp: now},
		memory.Message{ID: out.MessageID, Role: memory.RoleAssistant, Content: out.Text, Timestamp: now},
	)
	if err != nil {
		p.logger.Warn("failed to store exchange", zap.String("session_id", sessionID), zap.Error(err))
	}
	if mutated {
		if _, err := p.memory.UpdateCounts(ctx, userID, sessionID); err != nil {
			p.logger.Warn("failed to refresh session counts", zap.String("session_id", sessionID), zap.Error(err))
		}
	}

	p.logger.Debug("turn processed",
		zap.String("user_id", userID),
		zap.String("session_id", sessionID),
		zap.String("intent", out.Intent),
		zap.Int("actions", len(out.Actions)),
	)
	return out, nil
}

// sentence capitalizes msg and ends it with a period.
func sentence(msg string) string {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return msg
	}
	r, size := utf8.DecodeRuneInString(msg)
	msg = string(unicode.ToUpper(r)) + msg[size:]
	switch msg[len(msg)-1] {
	case '.', '!', '?':
		return msg
	}
	return msg + "."
}

// mergeReply picks the text the user sees after a successful action. A
// summary is always appended; other actions fall back to their own message
// when the model gave no reply.
func mergeReply(a action.Action, reply, actionMessage string) string {
	if a.Kind() == action.KindSummarize {
		if reply == "" {
			return actionMessage
		}
		return reply + " " + actionMessage
	}
	if reply == "" {
		return actionMessage
	}
	return reply
}
