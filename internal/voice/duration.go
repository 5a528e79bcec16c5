package voice

import (
	"strings"
	"time"

	"github.com/ent0n29/tempo/internal/audio"
)

const (
	wordsPerMinute    = 150
	minSpokenDuration = time.Second
	perWord           = time.Minute / wordsPerMinute
)

// EstimateDuration approximates how long text takes to speak.
func EstimateDuration(text string) time.Duration {
	d := time.Duration(len(strings.Fields(text))) * perWord
	if d < minSpokenDuration {
		return minSpokenDuration
	}
	return d
}

// ClipDuration reads the length from a WAV header when possible and falls
// back to the text estimate for compressed formats.
func ClipDuration(a Audio, text string) time.Duration {
	if d, ok := audio.WAVDuration(a.Data); ok && d > 0 {
		return d
	}
	return EstimateDuration(text)
}
