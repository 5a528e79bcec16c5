package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ent0n29/tempo/internal/apperr"
	"github.com/ent0n29/tempo/internal/calendar"
	"github.com/ent0n29/tempo/internal/config"
	"github.com/ent0n29/tempo/internal/memory"
	"github.com/ent0n29/tempo/internal/observability"
	"github.com/ent0n29/tempo/internal/pipeline"
	"github.com/ent0n29/tempo/internal/protocol"
	"github.com/ent0n29/tempo/internal/summary"
	"github.com/ent0n29/tempo/internal/voice"
)

const userHeader = "X-User-ID"

type Hub interface {
	RunConnection(ctx context.Context, inbound <-chan any, outbound chan<- any) error
}

type Chat interface {
	Process(ctx context.Context, userID, sessionID, text string, opts pipeline.Options) (pipeline.Result, error)
}

type Memory interface {
	GetMemory(ctx context.Context, userID, sessionID string) (memory.Session, error)
	ClearMemory(ctx context.Context, userID, sessionID string) (memory.Session, error)
	Context(ctx context.Context, userID, sessionID string) (map[string]any, error)
	AddContext(ctx context.Context, userID, sessionID, key string, value any) (memory.Session, error)
	CleanupOldSessions(ctx context.Context, userID string, maxAge time.Duration) (int, error)
}

type Summaries interface {
	Summarize(ctx context.Context, userID string, kind summary.Kind) (summary.Digest, error)
}

type Voice interface {
	Capability() voice.Capability
	Clips() *voice.ClipStore
	Transcribe(ctx context.Context, audio []byte, contentType string) (string, error)
}

type CalendarTokens interface {
	Put(ctx context.Context, userID string, t calendar.Tokens) error
	Delete(ctx context.Context, userID string) error
}

// Deps are the collaborators behind the routes. Nil entries turn their
// routes into 501 responses.
type Deps struct {
	Hub            Hub
	Chat           Chat
	Memory         Memory
	Summaries      Summaries
	Voice          Voice
	CalendarTokens CalendarTokens
	StorageMode    string
	Metrics        *observability.Metrics
	Logger         *zap.Logger
}

type Server struct {
	cfg      config.Config
	deps     Deps
	metrics  *observability.Metrics
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func New(cfg config.Config, deps Deps) *Server {
	return &Server{
		cfg:     cfg,
		deps:    deps,
		metrics: deps.Metrics,
		logger:  observability.OrNop(deps.Logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browser connections unless explicitly opened up.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			respondError(w, http.StatusNotImplemented, "unavailable", "metrics not configured")
			return
		}
		s.metrics.Handler().ServeHTTP(w, r)
	})

	// Websocket clients identify themselves in join_session.
	r.Get("/v1/ws", s.handleWS)
	// Clip URLs are handed to every connection in a room and played by the
	// browser directly, so they are not behind the user header.
	r.Get("/v1/audio/{clipID}", s.handleAudioClip)
	r.Get("/v1/voice/status", s.handleVoiceStatus)
	r.Get("/v1/documents", s.handleDocuments)

	r.Group(func(r chi.Router) {
		r.Use(requireUser)
		r.Post("/v1/chat", s.handleChat)
		r.Get("/v1/sessions/{sessionID}/memory", s.handleGetMemory)
		r.Delete("/v1/sessions/{sessionID}/memory", s.handleClearMemory)
		r.Get("/v1/sessions/{sessionID}/context", s.handleGetContext)
		r.Post("/v1/sessions/{sessionID}/context", s.handleAddContext)
		r.Post("/v1/sessions/cleanup", s.handleCleanup)
		r.Get("/v1/summary/{kind}", s.handleSummary)
		r.Post("/v1/voice/transcribe", s.handleTranscribe)
		r.Post("/v1/calendar/tokens", s.handlePutCalendarTokens)
		r.Delete("/v1/calendar/tokens", s.handleDeleteCalendarTokens)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"storage_mode": s.deps.StorageMode,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	status, code := "ready", http.StatusOK
	if s.deps.Hub == nil || s.deps.Memory == nil {
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	resp := map[string]any{
		"status":       status,
		"storage_mode": s.deps.StorageMode,
	}
	if s.deps.Voice != nil {
		resp["voice"] = s.deps.Voice.Capability()
	}
	respondJSON(w, code, resp)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.deps.Hub == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "realtime hub not configured")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, 64)
	outbound := make(chan any, 256)
	runDone := make(chan struct{})

	go func() {
		defer close(runDone)
		if err := s.deps.Hub.RunConnection(ctx, inbound, outbound); err != nil {
			s.logger.Warn("realtime connection ended with error", zap.Error(err))
		}
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					s.metrics.ObserveOutboundMessage("write", "error")
					cancel()
					return
				}
				if t, ok := protocol.TypeOf(msg); ok && s.metrics != nil {
					s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
				}
			}
		}
	}()

	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			if !apperr.Is(err, apperr.KindValidation) {
				err = &apperr.Error{Kind: apperr.KindValidation, Code: "invalid_client_message", Message: "That message could not be understood.", Err: err}
			}
			select {
			case outbound <- protocol.NewError(err, time.Now()):
				s.metrics.ObserveOutboundMessage(string(protocol.TypeError), "queued")
			default:
				// Writes stay single-threaded; drop when the queue is saturated.
				s.metrics.ObserveOutboundMessage(string(protocol.TypeError), "drop_full")
			}
			continue
		}

		if t, ok := protocol.TypeOf(parsed); ok && s.metrics != nil {
			s.metrics.WSMessages.WithLabelValues("inbound", string(t)).Inc()
		}
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	cancel()
	<-runDone
	<-writerDone
}

// requireUser enforces the identity header set by the upstream auth layer.
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.TrimSpace(r.Header.Get(userHeader)) == "" {
			respondAppError(w, apperr.Unauthenticated("missing "+userHeader+" header"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func userID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(userHeader))
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable,omitempty"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// respondAppError maps the error taxonomy onto HTTP status codes and only
// exposes the public message.
func respondAppError(w http.ResponseWriter, err error) {
	var retryable bool
	var e *apperr.Error
	if errors.As(err, &e) {
		retryable = e.Retryable
	}
	respondJSON(w, statusFor(err), errorResponse{
		Error:     apperr.PublicMessage(err),
		Code:      apperr.CodeOf(err),
		Retryable: retryable,
	})
}

func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindAuthentication:
		return http.StatusUnauthorized
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindExternalService:
		return http.StatusBadGateway
	case apperr.KindConfiguration:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
