package voice

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/tempo/internal/apperr"
	"github.com/ent0n29/tempo/internal/reliability"
)

type flakySynth struct {
	failures int
	calls    int
	lastText string
}

func (f *flakySynth) Synthesize(_ context.Context, text, _ string) (Audio, error) {
	f.calls++
	f.lastText = text
	if f.calls <= f.failures {
		return Audio{}, apperr.External("speech synthesis", true, errors.New("status 503"))
	}
	return Audio{Data: []byte("mp3"), ContentType: "audio/mpeg"}, nil
}

func TestSpeakerStoresClip(t *testing.T) {
	synth := &flakySynth{failures: 1}
	clips := NewClipStore(time.Minute)
	s := NewSpeaker(synth, nil, clips, SpeakerConfig{
		Capability:    Capability{Available: true, Provider: "test"},
		VoiceID:       "v",
		PublicBaseURL: "https://tempo.example.com/",
		Retry:         reliability.Policy{Attempts: 2, Base: time.Millisecond, Cap: time.Millisecond},
	})

	clip, err := s.Speak(context.Background(), "**Done.** I added \"Call Bob\".")
	require.NoError(t, err)
	assert.Equal(t, 2, synth.calls)
	assert.Equal(t, "Done. I added Call Bob.", synth.lastText)
	assert.Equal(t, "https://tempo.example.com/v1/audio/"+clip.ID, clip.URL)
	assert.Equal(t, 2*time.Second, clip.Duration)

	stored, ok := clips.Get(clip.ID)
	require.True(t, ok)
	assert.Equal(t, "audio/mpeg", stored.ContentType)
}

func TestSpeakerUnavailable(t *testing.T) {
	s := NewSpeaker(nil, nil, nil, SpeakerConfig{Capability: Capability{Provider: "none", Reason: "voice is disabled"}})

	_, err := s.Speak(context.Background(), "hello")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindConfiguration))
	assert.Equal(t, "voice is disabled", apperr.PublicMessage(err))

	_, err = s.Transcribe(context.Background(), []byte("x"), "audio/wav")
	assert.True(t, apperr.Is(err, apperr.KindConfiguration))
}

func TestSpeakerRejectsEmptySpeech(t *testing.T) {
	s := NewSpeaker(NewMockProvider(), NewMockProvider(), nil, SpeakerConfig{Capability: Capability{Available: true, Provider: "mock"}})
	_, err := s.Speak(context.Background(), " ** ")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestMockProvider(t *testing.T) {
	m := NewMockProvider()
	s := NewSpeaker(m, m, nil, SpeakerConfig{Capability: Capability{Available: true, Provider: "mock"}})

	clip, err := s.Speak(context.Background(), "one two three four five six seven eight nine ten")
	require.NoError(t, err)
	assert.Equal(t, "/v1/audio/"+clip.ID, clip.URL)
	assert.Equal(t, "audio/wav", clip.ContentType)
	assert.Equal(t, 4*time.Second, clip.Duration)

	text, err := s.Transcribe(context.Background(), []byte{1, 2}, "audio/webm")
	require.NoError(t, err)
	assert.Equal(t, "simulated voice input", text)

	text, err = s.Transcribe(context.Background(), nil, "audio/webm")
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestEstimateDuration(t *testing.T) {
	if got := EstimateDuration(""); got != time.Second {
		t.Fatalf("EstimateDuration(\"\") = %v, want 1s", got)
	}
	if got := EstimateDuration("word word word word word"); got != 2*time.Second {
		t.Fatalf("EstimateDuration(5 words) = %v, want 2s", got)
	}
}

func TestClipStoreExpires(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewClipStore(time.Minute)
	s.now = func() time.Time { return now }

	id := s.Put(Audio{Data: []byte("a")})
	_, ok := s.Get(id)
	require.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = s.Get(id)
	assert.False(t, ok)

	s.Put(Audio{Data: []byte("b")})
	now = now.Add(2 * time.Minute)
	s.Put(Audio{Data: []byte("c")})
	assert.Equal(t, 1, s.Len())
}
