package voice

import (
	"context"

	"github.com/ent0n29/tempo/internal/audio"
)

const mockSampleRate = 16000

// MockProvider produces silent WAV clips sized to the spoken text and a fixed
// transcript. Used for local development and tests.
type MockProvider struct{}

func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

func (m *MockProvider) Synthesize(ctx context.Context, text, _ string) (Audio, error) {
	if err := ctx.Err(); err != nil {
		return Audio{}, err
	}
	wav, err := audio.EncodeWAVPCM16LE(audio.Silence(EstimateDuration(text), mockSampleRate), mockSampleRate)
	if err != nil {
		return Audio{}, err
	}
	return Audio{Data: wav, ContentType: "audio/wav"}, nil
}

func (m *MockProvider) Transcribe(ctx context.Context, data []byte, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", nil
	}
	return "simulated voice input", nil
}
