// Package voice wraps the speech collaborators: synthesis, transcription and
// the clip store that serves synthesized audio back to clients.
package voice

import "context"

// Audio is one synthesized clip.
type Audio struct {
	Data        []byte
	ContentType string
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string) (Audio, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, contentType string) (string, error)
}

// Capability reports whether speech is usable right now. Reason is set when
// Available is false.
type Capability struct {
	Available bool   `json:"available"`
	Provider  string `json:"provider"`
	Reason    string `json:"reason,omitempty"`
}
