package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/ent0n29/tempo/internal/protocol"
)

type replayOptions struct {
	baseURL        string
	userID         string
	sessionID      string
	turns          int
	interTurnDelay time.Duration
	turnTimeout    time.Duration
	texts          []string
	verbose        bool
}

var defaultUtterances = []string{
	"What's on my plate today?",
	"Add a task to review the launch checklist tomorrow at 3pm",
	"Summarize my tasks",
	"Schedule a design sync on Friday at 10am",
}

var replayFlags struct {
	opts     replayOptions
	textsRaw string
}

func init() {
	f := replayCmd.Flags()
	f.StringVar(&replayFlags.opts.baseURL, "base-url", "http://127.0.0.1:8080", "server base URL")
	f.StringVar(&replayFlags.opts.userID, "user-id", "replay", "user id sent in join_session")
	f.StringVar(&replayFlags.opts.sessionID, "session-id", "", "session id (random when empty)")
	f.IntVar(&replayFlags.opts.turns, "turns", 8, "number of turns to replay")
	f.DurationVar(&replayFlags.opts.interTurnDelay, "inter-turn", 200*time.Millisecond, "delay between turns")
	f.DurationVar(&replayFlags.opts.turnTimeout, "turn-timeout", 30*time.Second, "timeout waiting for the idle status per turn")
	f.StringVar(&replayFlags.textsRaw, "texts", "", "utterances separated by '|' (optional)")
	f.BoolVar(&replayFlags.opts.verbose, "verbose", true, "print replay progress")
	rootCmd.AddCommand(replayCmd)
}

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay scripted turns over the websocket and report latency",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		opts, err := normalizeReplayOptions(replayFlags.opts, replayFlags.textsRaw)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
		defer cancel()
		stats, err := runReplay(ctx, opts, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), stats.String())
		return nil
	},
}

func normalizeReplayOptions(opts replayOptions, textsRaw string) (replayOptions, error) {
	opts.baseURL = strings.TrimRight(strings.TrimSpace(opts.baseURL), "/")
	if opts.baseURL == "" {
		return replayOptions{}, fmt.Errorf("base-url is required")
	}
	if opts.turns <= 0 {
		return replayOptions{}, fmt.Errorf("turns must be > 0")
	}
	if opts.turnTimeout < time.Second {
		opts.turnTimeout = time.Second
	}
	if opts.interTurnDelay < 0 {
		opts.interTurnDelay = 0
	}
	if strings.TrimSpace(opts.sessionID) == "" {
		opts.sessionID = "replay-" + uuid.NewString()
	}

	opts.texts = nil
	if strings.TrimSpace(textsRaw) == "" {
		opts.texts = append([]string(nil), defaultUtterances...)
	} else {
		for _, part := range strings.Split(textsRaw, "|") {
			if t := strings.TrimSpace(part); t != "" {
				opts.texts = append(opts.texts, t)
			}
		}
		if len(opts.texts) == 0 {
			return replayOptions{}, fmt.Errorf("texts produced no non-empty utterances")
		}
	}
	return opts, nil
}

// turnTiming is measured from sending user_message.
type turnTiming struct {
	response time.Duration
	idle     time.Duration
	failed   bool
}

type replayStats struct {
	turns []turnTiming
}

func (s replayStats) String() string {
	var ok []time.Duration
	failed := 0
	for _, t := range s.turns {
		if t.failed {
			failed++
			continue
		}
		ok = append(ok, t.response)
	}
	return fmt.Sprintf("replay: turns=%d failed=%d response_p50=%s response_p95=%s",
		len(s.turns), failed, percentile(ok, 50), percentile(ok, 95))
}

// percentile uses the nearest-rank method.
func percentile(values []time.Duration, p int) time.Duration {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), values...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	rank := (p*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}

func wsURLFor(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/ws"
	return u.String(), nil
}

type wsEnvelope struct {
	Type    string `json:"type"`
	Status  string `json:"status,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Text    string `json:"text,omitempty"`
}

func runReplay(ctx context.Context, opts replayOptions, out io.Writer) (replayStats, error) {
	wsURL, err := wsURLFor(opts.baseURL)
	if err != nil {
		return replayStats{}, fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return replayStats{}, fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	events := make(chan wsEnvelope, 64)
	readErr := make(chan error, 1)
	go readLoop(conn, events, readErr)

	if err := conn.WriteJSON(protocol.JoinSession{Type: protocol.TypeJoinSession, UserID: opts.userID, SessionID: opts.sessionID}); err != nil {
		return replayStats{}, fmt.Errorf("send join: %w", err)
	}
	if _, err := awaitEvent(events, readErr, opts.turnTimeout, func(e wsEnvelope) bool {
		return e.Type == string(protocol.TypeSessionJoined) || e.Type == string(protocol.TypeError)
	}); err != nil {
		return replayStats{}, fmt.Errorf("await session_joined: %w", err)
	}
	if opts.verbose {
		fmt.Fprintf(out, "replay: session=%s turns=%d\n", opts.sessionID, opts.turns)
	}

	var stats replayStats
	for i := 0; i < opts.turns; i++ {
		text := opts.texts[i%len(opts.texts)]
		started := time.Now()
		if err := conn.WriteJSON(protocol.UserMessage{Type: protocol.TypeUserMessage, Text: text, SessionID: opts.sessionID}); err != nil {
			return stats, fmt.Errorf("turn %d send: %w", i+1, err)
		}

		var timing turnTiming
		for {
			e, err := awaitEvent(events, readErr, opts.turnTimeout, func(wsEnvelope) bool { return true })
			if err != nil {
				return stats, fmt.Errorf("turn %d: %w", i+1, err)
			}
			if e.Type == string(protocol.TypeAgentResponse) && timing.response == 0 {
				timing.response = time.Since(started)
				if opts.verbose {
					fmt.Fprintf(out, "replay: turn %d/%d %q -> %q (%s)\n", i+1, opts.turns, text, e.Text, timing.response.Round(time.Millisecond))
				}
			}
			if e.Type == string(protocol.TypeAgentStatus) && e.Status == string(protocol.StatusIdle) {
				timing.idle = time.Since(started)
				timing.failed = timing.response == 0
				break
			}
		}
		stats.turns = append(stats.turns, timing)

		if opts.interTurnDelay > 0 && i < opts.turns-1 {
			time.Sleep(opts.interTurnDelay)
		}
	}
	return stats, nil
}

func readLoop(conn *websocket.Conn, events chan<- wsEnvelope, readErr chan<- error) {
	for {
		var e wsEnvelope
		if err := conn.ReadJSON(&e); err != nil {
			readErr <- err
			return
		}
		events <- e
	}
}

func awaitEvent(events <-chan wsEnvelope, readErr <-chan error, timeout time.Duration, match func(wsEnvelope) bool) (wsEnvelope, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case e := <-events:
			if match(e) {
				return e, nil
			}
		case err := <-readErr:
			return wsEnvelope{}, fmt.Errorf("ws read: %w", err)
		case <-timer.C:
			return wsEnvelope{}, fmt.Errorf("timed out after %s", timeout)
		}
	}
}
