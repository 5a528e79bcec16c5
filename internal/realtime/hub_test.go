package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/tempo/internal/apperr"
	"github.com/ent0n29/tempo/internal/pipeline"
	"github.com/ent0n29/tempo/internal/protocol"
	"github.com/ent0n29/tempo/internal/records"
	"github.com/ent0n29/tempo/internal/voice"
)

var testNow = time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)

type funcPipeline func(ctx context.Context, userID, sessionID, text string, opts pipeline.Options) (pipeline.Result, error)

func (f funcPipeline) Process(ctx context.Context, userID, sessionID, text string, opts pipeline.Options) (pipeline.Result, error) {
	return f(ctx, userID, sessionID, text, opts)
}

type fakeSpeaker struct {
	mu         sync.Mutex
	spoken     []string
	speakErr   error
	transcript string
	listenErr  error
}

func (s *fakeSpeaker) Speak(_ context.Context, text string) (voice.Clip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.speakErr != nil {
		return voice.Clip{}, s.speakErr
	}
	s.spoken = append(s.spoken, text)
	return voice.Clip{ID: "clip-1", URL: "http://localhost/v1/audio/clip-1", Duration: 1500 * time.Millisecond}, nil
}

func (s *fakeSpeaker) Transcribe(context.Context, []byte, string) (string, error) {
	if s.listenErr != nil {
		return "", s.listenErr
	}
	return s.transcript, nil
}

type fakeIdentities struct{ err error }

func (f fakeIdentities) AgentIdentity(context.Context, string) (records.Identity, error) {
	if f.err != nil {
		return records.Identity{}, f.err
	}
	return records.Identity{Name: "Juno", Avatar: "owl"}, nil
}

func (fakeIdentities) FallbackIdentity() records.Identity { return records.Identity{Name: "Tempo"} }

func echoPipeline(_ context.Context, _, _, text string, opts pipeline.Options) (pipeline.Result, error) {
	return pipeline.Result{
		MessageID: "m1",
		Text:      "You said: " + text,
		VoiceText: "You said " + text,
		Actions:   []pipeline.ActionResult{{Type: "create_task", Success: true, Message: "Added.", EntityID: "t1"}},
		Timestamp: testNow,
	}, nil
}

type testConn struct {
	in     chan any
	out    chan any
	cancel context.CancelFunc
	done   chan error
	once   sync.Once
}

// close disconnects and waits for RunConnection to return.
func (c *testConn) close() {
	c.once.Do(func() {
		c.cancel()
		<-c.done
	})
}

func newTestHub(t *testing.T, p Pipeline, speaker Speaker, ids Identities, cfg Config) *Hub {
	t.Helper()
	cfg.Now = func() time.Time { return testNow }
	if cfg.MaxConcurrentTurns == 0 {
		cfg.MaxConcurrentTurns = 4
	}
	h := NewHub(p, speaker, ids, cfg)
	t.Cleanup(h.Close)
	return h
}

func connect(t *testing.T, h *Hub) *testConn {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	c := &testConn{
		in:     make(chan any, 8),
		out:    make(chan any, 64),
		cancel: cancel,
		done:   make(chan error, 1),
	}
	go func() { c.done <- h.RunConnection(ctx, c.in, c.out) }()
	t.Cleanup(c.close)
	return c
}

func (c *testConn) next(t *testing.T) any {
	t.Helper()
	select {
	case msg := <-c.out:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for an outbound message")
		return nil
	}
}

// untilIdle collects events up to and including the idle status.
func (c *testConn) untilIdle(t *testing.T) []any {
	t.Helper()
	var got []any
	for {
		msg := c.next(t)
		got = append(got, msg)
		if st, ok := msg.(protocol.AgentStatus); ok && st.Status == protocol.StatusIdle {
			return got
		}
	}
}

func (c *testConn) join(t *testing.T, userID, sessionID string) protocol.SessionJoined {
	t.Helper()
	c.in <- protocol.JoinSession{Type: protocol.TypeJoinSession, UserID: userID, SessionID: sessionID}
	joined, ok := c.next(t).(protocol.SessionJoined)
	if !ok {
		t.Fatalf("expected session_joined")
	}
	return joined
}

func eventKinds(events []any) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		switch m := e.(type) {
		case protocol.AgentStatus:
			out = append(out, "status:"+string(m.Status))
		case protocol.AgentTyping:
			if m.IsTyping {
				out = append(out, "typing:on")
			} else {
				out = append(out, "typing:off")
			}
		case protocol.AgentResponse:
			out = append(out, "response")
		case protocol.VoiceAudio:
			out = append(out, "audio")
		case protocol.ErrorEvent:
			out = append(out, "error:"+m.Code)
		default:
			typ, _ := protocol.TypeOf(e)
			out = append(out, string(typ))
		}
	}
	return out
}

func TestJoinSendsAgentIdentity(t *testing.T) {
	h := newTestHub(t, funcPipeline(echoPipeline), nil, fakeIdentities{}, Config{})
	c := connect(t, h)

	joined := c.join(t, "u1", "s1")
	assert.Equal(t, "s1", joined.SessionID)
	assert.Equal(t, "Juno", joined.AgentName)
	assert.Equal(t, "owl", joined.AgentAvatar)
	assert.Equal(t, 1, h.RoomSize("u1", "s1"))
}

func TestJoinFallsBackWhenIdentityLookupFails(t *testing.T) {
	h := newTestHub(t, funcPipeline(echoPipeline), nil, fakeIdentities{err: errors.New("db down")}, Config{})
	c := connect(t, h)

	joined := c.join(t, "u1", "s1")
	assert.Equal(t, "Tempo", joined.AgentName)
}

func TestJoinWithoutUserIsUnauthorized(t *testing.T) {
	h := newTestHub(t, funcPipeline(echoPipeline), nil, fakeIdentities{}, Config{})
	c := connect(t, h)

	c.in <- protocol.JoinSession{Type: protocol.TypeJoinSession, SessionID: "s1"}
	ev, ok := c.next(t).(protocol.ErrorEvent)
	require.True(t, ok)
	assert.Equal(t, "unauthorized", ev.Code)
	assert.Zero(t, h.RoomSize("", "s1"))
}

func TestMessageBeforeJoinIsRejected(t *testing.T) {
	h := newTestHub(t, funcPipeline(echoPipeline), nil, fakeIdentities{}, Config{})
	c := connect(t, h)

	c.in <- protocol.UserMessage{Type: protocol.TypeUserMessage, Text: "hi"}
	ev, ok := c.next(t).(protocol.ErrorEvent)
	require.True(t, ok)
	assert.Equal(t, "unauthorized", ev.Code)
	assert.Equal(t, "join a session first", ev.Message)
}

func TestTurnEventOrder(t *testing.T) {
	speaker := &fakeSpeaker{}
	h := newTestHub(t, funcPipeline(echoPipeline), speaker, fakeIdentities{}, Config{})
	c := connect(t, h)
	c.join(t, "u1", "s1")

	c.in <- protocol.UserMessage{Type: protocol.TypeUserMessage, Text: "call Bob", SessionID: "s1"}
	events := c.untilIdle(t)

	assert.Equal(t, []string{
		"status:thinking",
		"typing:on",
		"typing:off",
		"response",
		"status:speaking",
		"audio",
		"status:idle",
	}, eventKinds(events))

	resp := events[3].(protocol.AgentResponse)
	assert.Equal(t, "You said: call Bob", resp.Text)
	assert.Equal(t, "m1", resp.MessageID)
	assert.Equal(t, []protocol.Action{{Type: "create_task", Success: true, Message: "Added.", EntityID: "t1"}}, resp.Actions)

	audio := events[5].(protocol.VoiceAudio)
	assert.Equal(t, 1.5, audio.Duration)
	assert.Equal(t, "http://localhost/v1/audio/clip-1", audio.AudioURL)
	assert.Equal(t, []string{"You said call Bob"}, speaker.spoken)
}

func TestSynthesisFailureSkipsAudio(t *testing.T) {
	speaker := &fakeSpeaker{speakErr: apperr.Unconfigured("voice", "speech is not configured")}
	h := newTestHub(t, funcPipeline(echoPipeline), speaker, fakeIdentities{}, Config{})
	c := connect(t, h)
	c.join(t, "u1", "s1")

	c.in <- protocol.UserMessage{Type: protocol.TypeUserMessage, Text: "hello"}
	assert.Equal(t, []string{
		"status:thinking",
		"typing:on",
		"typing:off",
		"response",
		"status:speaking",
		"status:idle",
	}, eventKinds(c.untilIdle(t)))
}

func TestTurnFailureSequence(t *testing.T) {
	failing := funcPipeline(func(context.Context, string, string, string, pipeline.Options) (pipeline.Result, error) {
		return pipeline.Result{}, apperr.External("completion service", true, errors.New("503"))
	})
	h := newTestHub(t, failing, &fakeSpeaker{}, fakeIdentities{}, Config{})
	c := connect(t, h)
	c.join(t, "u1", "s1")

	c.in <- protocol.UserMessage{Type: protocol.TypeUserMessage, Text: "hello"}
	assert.Equal(t, []string{
		"status:thinking",
		"typing:on",
		"typing:off",
		"status:idle",
	}, eventKinds(c.untilIdle(t)))

	ev, ok := c.next(t).(protocol.ErrorEvent)
	require.True(t, ok)
	assert.Equal(t, "external_service_error", ev.Code)
}

func TestTurnTimeout(t *testing.T) {
	slow := funcPipeline(func(ctx context.Context, _, _, _ string, _ pipeline.Options) (pipeline.Result, error) {
		<-ctx.Done()
		return pipeline.Result{}, ctx.Err()
	})
	h := newTestHub(t, slow, nil, fakeIdentities{}, Config{TurnTimeout: 20 * time.Millisecond})
	c := connect(t, h)
	c.join(t, "u1", "s1")

	c.in <- protocol.UserMessage{Type: protocol.TypeUserMessage, Text: "hello"}
	assert.Equal(t, []string{
		"status:thinking",
		"typing:on",
		"typing:off",
		"status:idle",
	}, eventKinds(c.untilIdle(t)))

	ev, ok := c.next(t).(protocol.ErrorEvent)
	require.True(t, ok)
	assert.Equal(t, "turn_timeout", ev.Code)
	assert.Equal(t, "That took too long. Please try again.", ev.Message)
}

func TestSessionMismatchIsRejected(t *testing.T) {
	h := newTestHub(t, funcPipeline(echoPipeline), nil, fakeIdentities{}, Config{})
	c := connect(t, h)
	c.join(t, "u1", "s1")

	c.in <- protocol.UserMessage{Type: protocol.TypeUserMessage, Text: "hello", SessionID: "s2"}
	ev, ok := c.next(t).(protocol.ErrorEvent)
	require.True(t, ok)
	assert.Equal(t, "validation_failed", ev.Code)
}

func TestEmptyVoiceEndReturnsToIdle(t *testing.T) {
	calls := 0
	counting := funcPipeline(func(ctx context.Context, u, s, text string, o pipeline.Options) (pipeline.Result, error) {
		calls++
		return echoPipeline(ctx, u, s, text, o)
	})
	h := newTestHub(t, counting, &fakeSpeaker{}, fakeIdentities{}, Config{})
	c := connect(t, h)
	c.join(t, "u1", "s1")

	c.in <- protocol.VoiceStart{Type: protocol.TypeVoiceStart}
	c.in <- protocol.VoiceEnd{Type: protocol.TypeVoiceEnd}
	assert.Equal(t, []string{"status:listening", "status:idle"}, eventKinds(c.untilIdle(t)))
	assert.Zero(t, calls)
}

func TestVoiceEndTranscribesAudio(t *testing.T) {
	var gotOpts pipeline.Options
	var gotText string
	recording := funcPipeline(func(ctx context.Context, u, s, text string, o pipeline.Options) (pipeline.Result, error) {
		gotOpts, gotText = o, text
		return echoPipeline(ctx, u, s, text, o)
	})
	h := newTestHub(t, recording, &fakeSpeaker{transcript: " add milk "}, fakeIdentities{}, Config{})
	c := connect(t, h)
	c.join(t, "u1", "s1")

	c.in <- protocol.VoiceEnd{Type: protocol.TypeVoiceEnd, AudioBase64: "AAAA", ContentType: "audio/webm"}
	events := c.untilIdle(t)
	require.Contains(t, eventKinds(events), "response")
	assert.True(t, gotOpts.VoiceMode)
	assert.Equal(t, "add milk", gotText)
}

func TestVoiceEndWithoutSpeechProviderGoesIdleQuietly(t *testing.T) {
	speaker := &fakeSpeaker{listenErr: apperr.Unconfigured("voice", "speech is not configured")}
	h := newTestHub(t, funcPipeline(echoPipeline), speaker, fakeIdentities{}, Config{})
	c := connect(t, h)
	c.join(t, "u1", "s1")

	c.in <- protocol.VoiceEnd{Type: protocol.TypeVoiceEnd, AudioBase64: "AAAA", ContentType: "audio/webm"}
	assert.Equal(t, []string{"status:idle"}, eventKinds(c.untilIdle(t)))

	c.in <- protocol.UserMessage{Type: protocol.TypeUserMessage, Text: "hello"}
	st, ok := c.next(t).(protocol.AgentStatus)
	require.True(t, ok, "no error event may follow the idle status")
	assert.Equal(t, protocol.StatusThinking, st.Status)
	c.untilIdle(t)
}

func TestVoiceEndTranscriptionFailureReportsError(t *testing.T) {
	speaker := &fakeSpeaker{listenErr: apperr.External("speech recognition", true, errors.New("status 503"))}
	h := newTestHub(t, funcPipeline(echoPipeline), speaker, fakeIdentities{}, Config{})
	c := connect(t, h)
	c.join(t, "u1", "s1")

	c.in <- protocol.VoiceEnd{Type: protocol.TypeVoiceEnd, AudioBase64: "AAAA", ContentType: "audio/webm"}
	assert.Equal(t, []string{"status:idle"}, eventKinds(c.untilIdle(t)))
	ev, ok := c.next(t).(protocol.ErrorEvent)
	require.True(t, ok)
	assert.Equal(t, "external_service_error", ev.Code)
}

func TestResponsesReachEveryConnectionInTheRoom(t *testing.T) {
	h := newTestHub(t, funcPipeline(echoPipeline), nil, fakeIdentities{}, Config{})
	a := connect(t, h)
	b := connect(t, h)
	other := connect(t, h)
	a.join(t, "u1", "s1")
	b.join(t, "u1", "s1")
	other.join(t, "u1", "s2")
	assert.Equal(t, 2, h.RoomSize("u1", "s1"))

	a.in <- protocol.UserMessage{Type: protocol.TypeUserMessage, Text: "hello"}
	wantA := eventKinds(a.untilIdle(t))
	assert.Equal(t, wantA, eventKinds(b.untilIdle(t)))

	select {
	case msg := <-other.out:
		t.Fatalf("other session received %T", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDisconnectLeavesRoom(t *testing.T) {
	h := newTestHub(t, funcPipeline(echoPipeline), nil, fakeIdentities{}, Config{})
	c := connect(t, h)
	c.join(t, "u1", "s1")

	c.close()
	assert.Zero(t, h.RoomSize("u1", "s1"))
}

func TestTurnsInOneSessionAreSerialized(t *testing.T) {
	var (
		mu       sync.Mutex
		active   int
		overlaps int
	)
	serial := funcPipeline(func(ctx context.Context, u, s, text string, o pipeline.Options) (pipeline.Result, error) {
		mu.Lock()
		active++
		if active > 1 {
			overlaps++
		}
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
		return echoPipeline(ctx, u, s, text, o)
	})
	h := newTestHub(t, serial, nil, fakeIdentities{}, Config{})
	c := connect(t, h)
	c.join(t, "u1", "s1")

	for _, text := range []string{"one", "two", "three"} {
		c.in <- protocol.UserMessage{Type: protocol.TypeUserMessage, Text: text}
	}
	var texts []string
	for range 3 {
		for _, e := range c.untilIdle(t) {
			if r, ok := e.(protocol.AgentResponse); ok {
				texts = append(texts, r.Text)
			}
		}
	}
	assert.Equal(t, []string{"You said: one", "You said: two", "You said: three"}, texts)
	mu.Lock()
	assert.Zero(t, overlaps)
	mu.Unlock()
}
