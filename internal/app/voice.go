package app

import (
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ent0n29/tempo/internal/config"
	"github.com/ent0n29/tempo/internal/observability"
	"github.com/ent0n29/tempo/internal/voice"
)

type voiceSetup struct {
	speaker *voice.Speaker
	detail  string
}

// resolveVoice picks the speech backend. A missing key never fails startup:
// the speaker reports the capability as unavailable instead.
func resolveVoice(cfg config.Config, metrics *observability.Metrics, logger *zap.Logger) (voiceSetup, error) {
	voiceMode := strings.ToLower(strings.TrimSpace(cfg.VoiceProvider))
	if voiceMode == "" {
		voiceMode = "auto"
	}

	clips := voice.NewClipStore(cfg.AudioClipTTL)
	speakerCfg := voice.SpeakerConfig{
		VoiceID:       cfg.ElevenLabsTTSVoice,
		PublicBaseURL: cfg.PublicBaseURL,
		Metrics:       metrics,
		Logger:        logger,
	}

	elevenLabs := func() voiceSetup {
		p := voice.NewElevenLabsProvider(voice.ElevenLabsConfig{
			APIKey:     cfg.ElevenLabsAPIKey,
			BaseURL:    cfg.ElevenLabsBaseURL,
			WSBaseURL:  cfg.ElevenLabsWSBaseURL,
			TTSModelID: cfg.ElevenLabsTTSModel,
			STTModelID: cfg.ElevenLabsSTTModel,
			HTTPClient: &http.Client{Timeout: cfg.CompletionTimeout},
		})
		speakerCfg.Capability = voice.Capability{Available: true, Provider: "elevenlabs"}
		return voiceSetup{speaker: voice.NewSpeaker(p, p, clips, speakerCfg), detail: "elevenlabs stream-input"}
	}
	unavailable := func(provider, reason string) voiceSetup {
		speakerCfg.Capability = voice.Capability{Available: false, Provider: provider, Reason: reason}
		return voiceSetup{speaker: voice.NewSpeaker(nil, nil, clips, speakerCfg), detail: "disabled (" + reason + ")"}
	}

	hasKey := strings.TrimSpace(cfg.ElevenLabsAPIKey) != ""
	switch voiceMode {
	case "elevenlabs":
		if !hasKey {
			return unavailable("elevenlabs", "ELEVENLABS_API_KEY is not set"), nil
		}
		return elevenLabs(), nil
	case "auto":
		if hasKey {
			return elevenLabs(), nil
		}
		return unavailable("none", "no speech provider is configured"), nil
	case "mock":
		p := voice.NewMockProvider()
		speakerCfg.Capability = voice.Capability{Available: true, Provider: "mock"}
		return voiceSetup{speaker: voice.NewSpeaker(p, p, clips, speakerCfg), detail: "mock"}, nil
	case "none", "off":
		return unavailable("none", "voice is turned off"), nil
	default:
		return voiceSetup{}, fmt.Errorf("invalid VOICE_PROVIDER: %q (expected auto|elevenlabs|mock|none)", cfg.VoiceProvider)
	}
}
