package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/ent0n29/sentio/internal/protocol"
	"github.com/ent0n29/sentio/internal/turn"
)

type benchOptions struct {
	baseURL        string
	turns          int
	texts          []string
	interTurnDelay time.Duration
	turnTimeout    time.Duration
}

// benchTurn is what one replayed turn observed on the avatar socket.
type benchTurn struct {
	TurnID     string        `json:"turn_id"`
	Text       string        `json:"text"`
	Phase      string        `json:"phase"`
	FirstText  time.Duration `json:"first_text_ns"`
	FirstAudio time.Duration `json:"first_audio_ns"`
	Total      time.Duration `json:"total_ns"`
	Clips      int           `json:"clips"`
}

type wsEnvelope struct {
	Type   string `json:"type"`
	TurnID string `json:"turn_id,omitempty"`
	Phase  string `json:"phase,omitempty"`
	Code   string `json:"code,omitempty"`
	Detail string `json:"detail,omitempty"`
}

var defaultUtterances = []string{
	"Reply in three words: latency bottleneck?",
	"Reply in three words: next optimization?",
	"Reply in three words: architecture summary?",
	"Reply in three words: top risk?",
}

var (
	benchBaseURL   string
	benchTurns     int
	benchTexts     string
	benchInterTurn time.Duration
	benchTimeout   time.Duration
	benchJSON      bool
	benchKeepPerf  bool
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Replay text turns against a running host",
	Long: `Replay text turns over the avatar WebSocket of a running sentio host and
report per-turn latency, then print the host's /v1/perf/latency summary.

Example:
  sentio bench --base-url http://127.0.0.1:8080 --turns 10`,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := benchOptions{
			baseURL:        strings.TrimRight(strings.TrimSpace(benchBaseURL), "/"),
			turns:          benchTurns,
			texts:          defaultUtterances,
			interTurnDelay: benchInterTurn,
			turnTimeout:    benchTimeout,
		}
		if raw := strings.TrimSpace(benchTexts); raw != "" {
			opts.texts = nil
			for _, t := range strings.Split(raw, "|") {
				if t = strings.TrimSpace(t); t != "" {
					opts.texts = append(opts.texts, t)
				}
			}
		}
		if opts.baseURL == "" {
			return fmt.Errorf("base-url is required")
		}
		if opts.turns <= 0 {
			return fmt.Errorf("turns must be > 0")
		}
		if len(opts.texts) == 0 {
			return fmt.Errorf("texts must name at least one utterance")
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 8*time.Minute)
		defer cancel()
		out := cmd.OutOrStdout()

		if !benchKeepPerf {
			if err := resetPerf(ctx, opts.baseURL); err != nil {
				printVerbose(cmd, "perf reset: %v", err)
			}
		}
		results, err := runBench(ctx, opts, func(i int, r benchTurn) {
			if !benchJSON {
				fmt.Fprintf(out, "turn %d/%d %-9s first_text=%s first_audio=%s total=%s clips=%d\n",
					i+1, opts.turns, r.Phase,
					r.FirstText.Round(time.Millisecond), r.FirstAudio.Round(time.Millisecond),
					r.Total.Round(time.Millisecond), r.Clips)
			}
		})
		if err != nil {
			return err
		}

		perf, err := fetchPerf(ctx, opts.baseURL)
		if err != nil {
			printVerbose(cmd, "perf latency: %v", err)
		}
		if benchJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{"turns": results, "perf": perf})
		}
		if len(perf) > 0 {
			fmt.Fprintf(out, "%s\n", perf)
		}
		return nil
	},
}

func init() {
	benchCmd.Flags().StringVar(&benchBaseURL, "base-url", "http://127.0.0.1:8080", "sentio base URL")
	benchCmd.Flags().IntVar(&benchTurns, "turns", 10, "number of turns to replay")
	benchCmd.Flags().StringVar(&benchTexts, "texts", "", "utterances separated by '|'")
	benchCmd.Flags().DurationVar(&benchInterTurn, "inter-turn", 180*time.Millisecond, "delay between turns")
	benchCmd.Flags().DurationVar(&benchTimeout, "turn-timeout", 30*time.Second, "timeout waiting for a turn to finish")
	benchCmd.Flags().BoolVar(&benchJSON, "json", false, "output as JSON")
	benchCmd.Flags().BoolVar(&benchKeepPerf, "keep-perf", false, "keep latency samples recorded before the run")
	rootCmd.AddCommand(benchCmd)
}

// runBench sends each utterance as a text_input message and waits for the
// turn it started to reach a terminal phase.
func runBench(ctx context.Context, opts benchOptions, onTurn func(i int, r benchTurn)) ([]benchTurn, error) {
	wsURL, err := avatarWSURL(opts.baseURL)
	if err != nil {
		return nil, fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	events := make(chan wsEnvelope, 64)
	readErrCh := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go readLoop(conn, events, readErrCh, done)

	if err := conn.WriteJSON(protocol.Ready{Type: protocol.TypeReady, ClientID: "bench"}); err != nil {
		return nil, fmt.Errorf("send ready: %w", err)
	}

	results := make([]benchTurn, 0, opts.turns)
	for i := 0; i < opts.turns; i++ {
		text := opts.texts[i%len(opts.texts)]
		start := time.Now()
		if err := conn.WriteJSON(protocol.TextInput{Type: protocol.TypeTextInput, Text: text}); err != nil {
			return results, fmt.Errorf("turn %d send text: %w", i+1, err)
		}
		r, err := awaitTurn(ctx, events, readErrCh, start, opts.turnTimeout)
		r.Text = text
		if err != nil {
			return results, fmt.Errorf("turn %d: %w", i+1, err)
		}
		results = append(results, r)
		if onTurn != nil {
			onTurn(i, r)
		}
		if opts.interTurnDelay > 0 && i < opts.turns-1 {
			time.Sleep(opts.interTurnDelay)
		}
	}
	return results, nil
}

func readLoop(conn *websocket.Conn, events chan<- wsEnvelope, readErrCh chan<- error, done <-chan struct{}) {
	defer close(events)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case readErrCh <- err:
			default:
			}
			return
		}
		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		select {
		case events <- env:
		case <-done:
			return
		}
	}
}

// awaitTurn follows the first turn that starts after start until it is done
// or cancelled.
func awaitTurn(ctx context.Context, events <-chan wsEnvelope, readErrCh <-chan error, start time.Time, timeout time.Duration) (benchTurn, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var r benchTurn
	for {
		select {
		case <-ctx.Done():
			return r, ctx.Err()
		case err := <-readErrCh:
			return r, fmt.Errorf("ws read: %w", err)
		case <-timer.C:
			return r, fmt.Errorf("timeout after %s", timeout)
		case env, ok := <-events:
			if !ok {
				return r, fmt.Errorf("ws closed")
			}
			switch protocol.MessageType(env.Type) {
			case protocol.TypeTurnState:
				if r.TurnID == "" && env.Phase == string(turn.PhaseASR) {
					r.TurnID = env.TurnID
				}
				if env.TurnID != r.TurnID || r.TurnID == "" {
					continue
				}
				r.Phase = env.Phase
				if turn.Phase(env.Phase).Terminal() {
					r.Total = time.Since(start)
					return r, nil
				}
			case protocol.TypeChatDelta:
				if env.TurnID == r.TurnID && r.FirstText == 0 {
					r.FirstText = time.Since(start)
				}
			case protocol.TypeAssistantAudio:
				if r.TurnID == "" {
					continue
				}
				r.Clips++
				if r.FirstAudio == 0 {
					r.FirstAudio = time.Since(start)
				}
			case protocol.TypeErrorEvent:
				return r, fmt.Errorf("error_event code=%s detail=%s", env.Code, env.Detail)
			}
		}
	}
}

func avatarWSURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/avatar/ws"
	return u.String(), nil
}

// resetPerf clears the host's latency window so the summary covers only
// this run.
func resetPerf(ctx context.Context, baseURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, baseURL+"/v1/perf/latency", nil)
	if err != nil {
		return err
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNoContent {
		return fmt.Errorf("status %d", res.StatusCode)
	}
	return nil
}

func fetchPerf(ctx context.Context, baseURL string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/perf/latency", nil)
	if err != nil {
		return nil, err
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", res.StatusCode)
	}
	return json.RawMessage(body), nil
}
