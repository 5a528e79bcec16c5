package voice

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/tempo/internal/apperr"
	"github.com/ent0n29/tempo/internal/reliability"
)

const (
	synthesisService   = "speech synthesis"
	recognitionService = "speech recognition"
)

type ElevenLabsConfig struct {
	APIKey       string
	BaseURL      string
	WSBaseURL    string
	TTSModelID   string
	STTModelID   string
	OutputFormat string
	Stability    float64
	Similarity   float64
	Speed        float64
	HTTPClient   *http.Client
}

// ElevenLabsProvider synthesizes over the stream-input websocket and
// transcribes with the REST speech-to-text endpoint.
type ElevenLabsProvider struct {
	cfg    ElevenLabsConfig
	dialer *websocket.Dialer
}

func NewElevenLabsProvider(cfg ElevenLabsConfig) *ElevenLabsProvider {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.elevenlabs.io"
	}
	if strings.TrimSpace(cfg.WSBaseURL) == "" {
		cfg.WSBaseURL = "wss://api.elevenlabs.io"
	}
	if strings.TrimSpace(cfg.TTSModelID) == "" {
		cfg.TTSModelID = "eleven_turbo_v2_5"
	}
	if strings.TrimSpace(cfg.STTModelID) == "" {
		cfg.STTModelID = "scribe_v1"
	}
	if strings.TrimSpace(cfg.OutputFormat) == "" {
		cfg.OutputFormat = "mp3_44100_128"
	}
	cfg.Stability = clamp(cfg.Stability, 0.42, 0, 1)
	cfg.Similarity = clamp(cfg.Similarity, 0.85, 0, 1)
	cfg.Speed = clamp(cfg.Speed, 1.0, 0.7, 1.2)
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &ElevenLabsProvider{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

type streamFrame struct {
	Audio       string `json:"audio"`
	IsFinal     bool   `json:"isFinal"`
	Error       string `json:"error"`
	MessageType string `json:"message_type"`
}

// Synthesize sends text through one stream-input session and collects the
// audio chunks until the server marks the stream final.
func (p *ElevenLabsProvider) Synthesize(ctx context.Context, text, voiceID string) (Audio, error) {
	if strings.TrimSpace(voiceID) == "" {
		return Audio{}, apperr.Validation("a voice id is required")
	}
	if strings.TrimSpace(text) == "" {
		return Audio{}, apperr.Validation("nothing to synthesize")
	}

	u, err := url.Parse(strings.TrimRight(p.cfg.WSBaseURL, "/") + "/v1/text-to-speech/" + url.PathEscape(voiceID) + "/stream-input")
	if err != nil {
		return Audio{}, apperr.Unconfigured("voice", "the speech endpoint is misconfigured")
	}
	q := u.Query()
	q.Set("model_id", p.cfg.TTSModelID)
	q.Set("output_format", p.cfg.OutputFormat)
	q.Set("auto_mode", "true")
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("xi-api-key", p.cfg.APIKey)

	conn, resp, err := p.dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		retryable := true
		if resp != nil {
			retryable = reliability.IsRetryableHTTPStatus(resp.StatusCode)
		}
		return Audio{}, apperr.External(synthesisService, retryable, fmt.Errorf("dial tts websocket: %w", err))
	}
	defer conn.Close()

	// Unblocks ReadMessage when the caller gives up.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	messages := []map[string]any{
		{
			"text": " ",
			"voice_settings": map[string]any{
				"stability":        p.cfg.Stability,
				"similarity_boost": p.cfg.Similarity,
				"speed":            p.cfg.Speed,
			},
		},
		{"text": text + " ", "try_trigger_generation": true},
		{"text": ""},
	}
	for _, m := range messages {
		if err := conn.WriteJSON(m); err != nil {
			return Audio{}, apperr.External(synthesisService, true, fmt.Errorf("write tts message: %w", err))
		}
	}

	var buf bytes.Buffer
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return Audio{}, ctx.Err()
			}
			if buf.Len() > 0 && websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				break
			}
			return Audio{}, apperr.External(synthesisService, true, fmt.Errorf("read tts stream: %w", err))
		}
		var frame streamFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		if frame.Error != "" {
			return Audio{}, apperr.External(synthesisService,
				reliability.IsRetryableStreamMessage(frame.MessageType),
				fmt.Errorf("tts stream %s: %s", frame.MessageType, frame.Error))
		}
		if frame.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(frame.Audio)
			if err != nil {
				return Audio{}, apperr.External(synthesisService, false, fmt.Errorf("decode tts audio: %w", err))
			}
			buf.Write(chunk)
		}
		if frame.IsFinal {
			break
		}
	}
	if buf.Len() == 0 {
		return Audio{}, apperr.External(synthesisService, true, errors.New("tts stream returned no audio"))
	}
	return Audio{Data: buf.Bytes(), ContentType: contentTypeForFormat(p.cfg.OutputFormat)}, nil
}

// Transcribe posts one recorded utterance to the speech-to-text endpoint.
func (p *ElevenLabsProvider) Transcribe(ctx context.Context, audio []byte, contentType string) (string, error) {
	if len(audio) == 0 {
		return "", nil
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("model_id", p.cfg.STTModelID); err != nil {
		return "", fmt.Errorf("write model field: %w", err)
	}
	fw, err := mw.CreateFormFile("file", "utterance"+extensionFor(contentType))
	if err != nil {
		return "", fmt.Errorf("create file field: %w", err)
	}
	if _, err := fw.Write(audio); err != nil {
		return "", fmt.Errorf("write audio: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(p.cfg.BaseURL, "/")+"/v1/speech-to-text", &body)
	if err != nil {
		return "", apperr.Unconfigured("voice", "the speech endpoint is misconfigured")
	}
	req.Header.Set("xi-api-key", p.cfg.APIKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.cfg.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", apperr.External(recognitionService, true, fmt.Errorf("stt request: %w", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", apperr.External(recognitionService, true, fmt.Errorf("read stt response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", apperr.External(recognitionService, reliability.IsRetryableHTTPStatus(resp.StatusCode),
			fmt.Errorf("stt status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))))
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", apperr.External(recognitionService, false, fmt.Errorf("decode stt response: %w", err))
	}
	return strings.TrimSpace(out.Text), nil
}

func contentTypeForFormat(format string) string {
	switch {
	case strings.HasPrefix(format, "mp3"):
		return "audio/mpeg"
	case strings.HasPrefix(format, "pcm"):
		return "audio/pcm"
	case strings.HasPrefix(format, "ulaw"):
		return "audio/basic"
	case strings.HasPrefix(format, "opus"):
		return "audio/opus"
	default:
		return "application/octet-stream"
	}
}

func extensionFor(contentType string) string {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch ct {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/ogg":
		return ".ogg"
	case "audio/webm":
		return ".webm"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return ".m4a"
	default:
		return ".bin"
	}
}

func clamp(v, fallback, lo, hi float64) float64 {
	if v <= 0 {
		v = fallback
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
