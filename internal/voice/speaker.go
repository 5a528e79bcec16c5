package voice

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/tempo/internal/apperr"
	"github.com/ent0n29/tempo/internal/observability"
	"github.com/ent0n29/tempo/internal/reliability"
)

// Clip is a stored synthesized reply, addressable by URL.
type Clip struct {
	ID          string
	URL         string
	Duration    time.Duration
	ContentType string
}

type SpeakerConfig struct {
	Capability Capability
	VoiceID    string
	// PublicBaseURL prefixes clip URLs; empty yields root-relative URLs.
	PublicBaseURL string
	Retry         reliability.Policy
	Metrics       *observability.Metrics
	Logger        *zap.Logger
}

// Speaker turns reply text into stored clips and transcribes recorded
// utterances. With an unavailable capability every call fails with a
// configuration error.
type Speaker struct {
	synth   Synthesizer
	stt     Transcriber
	clips   *ClipStore
	cfg     SpeakerConfig
	metrics *observability.Metrics
	logger  *zap.Logger
}

func NewSpeaker(synth Synthesizer, stt Transcriber, clips *ClipStore, cfg SpeakerConfig) *Speaker {
	if cfg.Retry.Attempts <= 0 {
		cfg.Retry = reliability.Policy{Attempts: 2, Base: 200 * time.Millisecond, Cap: time.Second}
	}
	if clips == nil {
		clips = NewClipStore(0)
	}
	return &Speaker{
		synth:   synth,
		stt:     stt,
		clips:   clips,
		cfg:     cfg,
		metrics: cfg.Metrics,
		logger:  observability.OrNop(cfg.Logger),
	}
}

func (s *Speaker) Capability() Capability {
	return s.cfg.Capability
}

func (s *Speaker) Clips() *ClipStore {
	return s.clips
}

// Speak synthesizes text, stores the clip and returns where to fetch it.
func (s *Speaker) Speak(ctx context.Context, text string) (Clip, error) {
	if !s.cfg.Capability.Available || s.synth == nil {
		return Clip{}, apperr.Unconfigured("voice", s.unavailableReason())
	}
	spoken := SpeechText(text)
	if spoken == "" {
		return Clip{}, apperr.Validation("nothing to speak")
	}

	var out Audio
	err := reliability.Retry(ctx, s.cfg.Retry, func(ctx context.Context) error {
		a, err := s.synth.Synthesize(ctx, spoken, s.cfg.VoiceID)
		if err != nil {
			s.metrics.ObserveProviderError(s.cfg.Capability.Provider, apperr.CodeOf(err))
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return Clip{}, err
	}

	id := s.clips.Put(out)
	clip := Clip{
		ID:          id,
		URL:         strings.TrimRight(s.cfg.PublicBaseURL, "/") + "/v1/audio/" + id,
		Duration:    ClipDuration(out, spoken),
		ContentType: out.ContentType,
	}
	s.logger.Debug("speech clip stored",
		zap.String("clip_id", id),
		zap.Int("bytes", len(out.Data)),
		zap.Duration("duration", clip.Duration),
	)
	return clip, nil
}

// Transcribe converts one recorded utterance into text.
func (s *Speaker) Transcribe(ctx context.Context, data []byte, contentType string) (string, error) {
	if !s.cfg.Capability.Available || s.stt == nil {
		return "", apperr.Unconfigured("voice", s.unavailableReason())
	}
	text, err := s.stt.Transcribe(ctx, data, contentType)
	if err != nil {
		s.metrics.ObserveProviderError(s.cfg.Capability.Provider, apperr.CodeOf(err))
		return "", err
	}
	return text, nil
}

func (s *Speaker) unavailableReason() string {
	if r := strings.TrimSpace(s.cfg.Capability.Reason); r != "" {
		return r
	}
	return "speech is not configured"
}
