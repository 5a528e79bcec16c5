// Package audio builds and inspects the WAV clips produced by the local
// speech fallback.
package audio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"time"
)

const (
	wavHeaderSize  = 44
	bytesPerSample = 2
)

// EncodeWAVPCM16LE wraps raw PCM16LE mono audio bytes in a WAV container.
func EncodeWAVPCM16LE(pcm []byte, sampleRate int) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(wavHeaderSize + len(pcm))
	if err := WriteWAVPCM16LETo(&buf, pcm, sampleRate); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Silence returns d worth of zeroed PCM16LE mono samples.
func Silence(d time.Duration, sampleRate int) []byte {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if d <= 0 {
		return nil
	}
	samples := int(d.Seconds() * float64(sampleRate))
	return make([]byte, samples*bytesPerSample)
}

// WAVDuration reads the playback length of a PCM WAV clip from its header.
func WAVDuration(wav []byte) (time.Duration, bool) {
	if len(wav) < wavHeaderSize || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return 0, false
	}
	byteRate := binary.LittleEndian.Uint32(wav[28:32])
	dataSize := binary.LittleEndian.Uint32(wav[40:44])
	if byteRate == 0 {
		return 0, false
	}
	return time.Duration(float64(dataSize) / float64(byteRate) * float64(time.Second)), true
}

// WriteWAVPCM16LETo writes raw PCM16LE mono audio bytes to out as a WAV stream.
func WriteWAVPCM16LETo(out io.Writer, pcm []byte, sampleRate int) error {
	const (
		numChannels   = 1
		bitsPerSample = 16
		audioFormat   = 1 // PCM
	)
	if sampleRate <= 0 {
		sampleRate = 16000
	}

	dataSize := uint32(len(pcm))
	header := []any{
		[]byte("RIFF"),
		uint32(36) + dataSize,
		[]byte("WAVE"),
		[]byte("fmt "),
		uint32(16),
		uint16(audioFormat),
		uint16(numChannels),
		uint32(sampleRate),
		uint32(sampleRate * numChannels * bitsPerSample / 8),
		uint16(numChannels * bitsPerSample / 8),
		uint16(bitsPerSample),
		[]byte("data"),
		dataSize,
	}

	w := bufio.NewWriter(out)
	for _, field := range header {
		if err := binary.Write(w, binary.LittleEndian, field); err != nil {
			return err
		}
	}
	if _, err := w.Write(pcm); err != nil {
		return err
	}
	return w.Flush()
}
