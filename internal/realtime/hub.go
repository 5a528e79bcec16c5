// Package realtime owns the client channel: it binds connections to session
// rooms, serializes turns per session and sequences the agent status events.
package realtime

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ent0n29/tempo/internal/apperr"
	"github.com/ent0n29/tempo/internal/observability"
	"github.com/ent0n29/tempo/internal/pipeline"
	"github.com/ent0n29/tempo/internal/protocol"
	"github.com/ent0n29/tempo/internal/records"
	"github.com/ent0n29/tempo/internal/voice"
)

const (
	defaultSendTimeout = 2 * time.Second
	identityTimeout    = 3 * time.Second
)

type Pipeline interface {
	Process(ctx context.Context, userID, sessionID, text string, opts pipeline.Options) (pipeline.Result, error)
}

type Speaker interface {
	Speak(ctx context.Context, text string) (voice.Clip, error)
	Transcribe(ctx context.Context, audio []byte, contentType string) (string, error)
}

type Identities interface {
	AgentIdentity(ctx context.Context, userID string) (records.Identity, error)
	FallbackIdentity() records.Identity
}

type Config struct {
	// TurnTimeout bounds one turn; zero disables the limit.
	TurnTimeout        time.Duration
	MaxConcurrentTurns int
	SendTimeout        time.Duration
	Metrics            *observability.Metrics
	Logger             *zap.Logger
	Now                func() time.Time
}

type roomKey struct {
	userID    string
	sessionID string
}

func (k roomKey) String() string { return k.userID + "/" + k.sessionID }

type conn struct {
	id   string
	out  chan<- any
	done chan struct{}

	mu   sync.Mutex
	room roomKey
}

func (c *conn) bound() (roomKey, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room, c.room.sessionID != ""
}

// Hub routes client messages for every open connection.
type Hub struct {
	pipeline   Pipeline
	speaker    Speaker
	identities Identities
	lanes      *Lanes
	cfg        Config
	metrics    *observability.Metrics
	logger     *zap.Logger
	now        func() time.Time

	mu    sync.RWMutex
	rooms map[roomKey]map[*conn]struct{}
}

func NewHub(p Pipeline, speaker Speaker, identities Identities, cfg Config) *Hub {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Hub{
		pipeline:   p,
		speaker:    speaker,
		identities: identities,
		lanes:      NewLanes(cfg.MaxConcurrentTurns, 0),
		cfg:        cfg,
		metrics:    cfg.Metrics,
		logger:     observability.OrNop(cfg.Logger),
		now:        cfg.Now,
		rooms:      make(map[roomKey]map[*conn]struct{}),
	}
}

// RunConnection consumes inbound client messages until the channel closes or
// ctx ends. Events for the connection are written to outbound. Turns already
// queued keep running after the connection leaves; session memory persists.
func (h *Hub) RunConnection(ctx context.Context, inbound <-chan any, outbound chan<- any) error {
	c := &conn{id: uuid.NewString(), out: outbound, done: make(chan struct{})}
	if h.metrics != nil {
		h.metrics.ActiveConnections.Inc()
		h.metrics.ConnectionEvents.WithLabelValues("connected").Inc()
	}
	defer func() {
		h.leave(c)
		close(c.done)
		if h.metrics != nil {
			h.metrics.ActiveConnections.Dec()
			h.metrics.ConnectionEvents.WithLabelValues("disconnected").Inc()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			h.handle(ctx, c, msg)
		}
	}
}

func (h *Hub) handle(ctx context.Context, c *conn, msg any) {
	switch m := msg.(type) {
	case protocol.JoinSession:
		h.join(ctx, c, m)
	case protocol.UserMessage:
		key, err := h.requireRoom(c, m.SessionID)
		if err != nil {
			h.sendError(c, err)
			return
		}
		h.enqueue(c, key, func(ctx context.Context) {
			h.runTurn(ctx, c, key, m.Text, m.VoiceMode)
		})
	case protocol.VoiceStart:
		key, err := h.requireRoom(c, m.SessionID)
		if err != nil {
			h.sendError(c, err)
			return
		}
		h.enqueue(c, key, func(context.Context) {
			h.broadcast(key, protocol.NewStatus(protocol.StatusListening))
		})
	case protocol.VoiceEnd:
		key, err := h.requireRoom(c, m.SessionID)
		if err != nil {
			h.sendError(c, err)
			return
		}
		h.enqueue(c, key, func(ctx context.Context) {
			h.voiceEnd(ctx, c, key, m)
		})
	case error:
		h.sendError(c, m)
	default:
		h.sendError(c, apperr.Validation("unsupported message"))
	}
}

func (h *Hub) join(ctx context.Context, c *conn, m protocol.JoinSession) {
	if m.UserID == "" {
		h.sendError(c, apperr.Unauthenticated("a user id is required to join a session"))
		return
	}
	key := roomKey{userID: m.UserID, sessionID: m.SessionID}

	h.leave(c)
	h.mu.Lock()
	members := h.rooms[key]
	if members == nil {
		members = make(map[*conn]struct{})
		h.rooms[key] = members
	}
	members[c] = struct{}{}
	h.mu.Unlock()

	c.mu.Lock()
	c.room = key
	c.mu.Unlock()

	id := h.identity(ctx, m.UserID)
	h.send(c, protocol.SessionJoined{
		Type:        protocol.TypeSessionJoined,
		SessionID:   m.SessionID,
		AgentName:   id.Name,
		AgentAvatar: id.Avatar,
	})
	if h.metrics != nil {
		h.metrics.ConnectionEvents.WithLabelValues("joined").Inc()
	}
	h.logger.Info("connection joined session",
		zap.String("connection_id", c.id),
		zap.String("user_id", m.UserID),
		zap.String("session_id", m.SessionID),
	)
}

// identity never fails: lookup errors fall back to the configured identity.
func (h *Hub) identity(ctx context.Context, userID string) records.Identity {
	if h.identities == nil {
		return records.Identity{Name: "Tempo"}
	}
	ctx, cancel := context.WithTimeout(ctx, identityTimeout)
	defer cancel()
	id, err := h.identities.AgentIdentity(ctx, userID)
	if err != nil || strings.TrimSpace(id.Name) == "" {
		if err != nil {
			h.logger.Warn("agent identity lookup failed", zap.String("user_id", userID), zap.Error(err))
		}
		return h.identities.FallbackIdentity()
	}
	return id
}

func (h *Hub) leave(c *conn) {
	key, ok := c.bound()
	if !ok {
		return
	}
	h.mu.Lock()
	if members := h.rooms[key]; members != nil {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, key)
		}
	}
	h.mu.Unlock()

	c.mu.Lock()
	c.room = roomKey{}
	c.mu.Unlock()
}

func (h *Hub) requireRoom(c *conn, sessionID string) (roomKey, error) {
	key, ok := c.bound()
	if !ok {
		return roomKey{}, apperr.Unauthenticated("join a session first")
	}
	if s := strings.TrimSpace(sessionID); s != "" && s != key.sessionID {
		return roomKey{}, apperr.Validation("sessionId does not match the joined session")
	}
	return key, nil
}

func (h *Hub) enqueue(c *conn, key roomKey, job Job) {
	if err := h.lanes.Enqueue(key.String(), job); err != nil {
		h.logger.Warn("turn rejected", zap.String("session_id", key.sessionID), zap.Error(err))
		h.sendError(c, &apperr.Error{
			Kind:      apperr.KindValidation,
			Code:      "busy",
			Message:   "I'm still working on your earlier messages. Try again in a moment.",
			Retryable: true,
			Err:       err,
		})
	}
}

func (h *Hub) voiceEnd(ctx context.Context, c *conn, key roomKey, m protocol.VoiceEnd) {
	text := m.Transcript
	if text == "" && m.AudioBase64 != "" && h.speaker != nil {
		audio, err := m.Audio()
		if err == nil {
			text, err = h.speaker.Transcribe(ctx, audio, m.ContentType)
		}
		if err != nil {
			h.broadcast(key, protocol.NewStatus(protocol.StatusIdle))
			if apperr.Is(err, apperr.KindConfiguration) {
				h.logger.Debug("transcription skipped",
					zap.String("session_id", key.sessionID),
					zap.Error(err),
				)
				return
			}
			h.sendError(c, err)
			return
		}
		text = strings.TrimSpace(text)
	}
	if text == "" {
		h.broadcast(key, protocol.NewStatus(protocol.StatusIdle))
		return
	}
	h.runTurn(ctx, c, key, text, true)
}

// runTurn emits thinking, typing on, then either the response sequence
// (typing off, response, speaking, optional audio, idle) or the failure
// sequence (typing off, idle, error).
func (h *Hub) runTurn(ctx context.Context, c *conn, key roomKey, text string, voiceMode bool) {
	started := h.now()
	if h.cfg.TurnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.TurnTimeout)
		defer cancel()
	}

	h.broadcast(key, protocol.NewStatus(protocol.StatusThinking))
	h.broadcast(key, protocol.NewTyping(true))

	res, err := h.pipeline.Process(ctx, key.userID, key.sessionID, text, pipeline.Options{VoiceMode: voiceMode})
	if err != nil {
		outcome := "failed"
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			outcome = "timeout"
			err = &apperr.Error{
				Kind:      apperr.KindExternalService,
				Code:      "turn_timeout",
				Message:   "That took too long. Please try again.",
				Retryable: true,
				Err:       err,
			}
		}
		h.broadcast(key, protocol.NewTyping(false))
		h.broadcast(key, protocol.NewStatus(protocol.StatusIdle))
		h.sendError(c, err)
		h.metrics.ObserveTurn(outcome, h.now().Sub(started))
		h.logger.Warn("turn failed",
			zap.String("user_id", key.userID),
			zap.String("session_id", key.sessionID),
			zap.String("code", apperr.CodeOf(err)),
			zap.Error(err),
		)
		return
	}

	h.broadcast(key, protocol.NewTyping(false))
	h.broadcast(key, responseEvent(res))
	h.broadcast(key, protocol.NewStatus(protocol.StatusSpeaking))
	if clip, ok := h.synthesize(ctx, key, res); ok {
		h.broadcast(key, protocol.VoiceAudio{
			Type:      protocol.TypeVoiceAudio,
			AudioURL:  clip.URL,
			Duration:  clip.Duration.Seconds(),
			Timestamp: h.now(),
		})
	}
	h.broadcast(key, protocol.NewStatus(protocol.StatusIdle))
	h.metrics.ObserveTurn("completed", h.now().Sub(started))
}

// synthesize is best effort; failures are logged and the turn goes on.
func (h *Hub) synthesize(ctx context.Context, key roomKey, res pipeline.Result) (voice.Clip, bool) {
	if h.speaker == nil {
		return voice.Clip{}, false
	}
	text := res.VoiceText
	if text == "" {
		text = res.Text
	}
	clip, err := h.speaker.Speak(ctx, text)
	if err != nil {
		level := zap.WarnLevel
		if apperr.Is(err, apperr.KindConfiguration) {
			level = zap.DebugLevel
		}
		h.logger.Log(level, "speech synthesis skipped",
			zap.String("session_id", key.sessionID),
			zap.Error(err),
		)
		return voice.Clip{}, false
	}
	return clip, true
}

func responseEvent(res pipeline.Result) protocol.AgentResponse {
	actions := make([]protocol.Action, 0, len(res.Actions))
	for _, a := range res.Actions {
		actions = append(actions, protocol.Action{
			Type:     a.Type,
			Success:  a.Success,
			Message:  a.Message,
			EntityID: a.EntityID,
		})
	}
	return protocol.AgentResponse{
		Type:      protocol.TypeAgentResponse,
		Text:      res.Text,
		MessageID: res.MessageID,
		Actions:   actions,
		Timestamp: res.Timestamp,
	}
}

func (h *Hub) broadcast(key roomKey, msg any) {
	h.mu.RLock()
	members := make([]*conn, 0, len(h.rooms[key]))
	for c := range h.rooms[key] {
		members = append(members, c)
	}
	h.mu.RUnlock()

	for _, c := range members {
		h.send(c, msg)
	}
}

func (h *Hub) sendError(c *conn, err error) {
	h.send(c, protocol.NewError(err, h.now()))
}

// send delivers msg to one connection, giving up when the connection is
// gone or its queue stays full past the send timeout.
func (h *Hub) send(c *conn, msg any) {
	typ, _ := protocol.TypeOf(msg)
	t := time.NewTimer(h.cfg.SendTimeout)
	defer t.Stop()
	select {
	case c.out <- msg:
		h.metrics.ObserveOutboundMessage(string(typ), "queued")
	case <-c.done:
		h.metrics.ObserveOutboundMessage(string(typ), "closed")
	case <-t.C:
		h.metrics.ObserveOutboundMessage(string(typ), "timeout")
		h.logger.Warn("dropping outbound message", zap.String("connection_id", c.id), zap.String("type", string(typ)))
	}
}

// RoomSize reports how many connections are bound to a session.
func (h *Hub) RoomSize(userID, sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomKey{userID: userID, sessionID: sessionID}])
}

// Close stops queued turns and waits for running ones.
func (h *Hub) Close() {
	h.lanes.Close()
}
