package conversation

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ent0n29/sentio/internal/memory"
	"github.com/ent0n29/sentio/internal/observability"
	"github.com/ent0n29/sentio/internal/policy"
	"github.com/ent0n29/sentio/internal/turn"
)

var (
	// ErrNoSpeech is returned by Listen when recognition produced no text.
	ErrNoSpeech  = errors.New("no speech recognized")
	ErrEmptyText = errors.New("empty text")
)

// Reply summarizes one completed turn.
type Reply struct {
	TurnID         string `json:"turn_id"`
	ConversationID string `json:"conversation_id"`
	Engine         string `json:"engine"`
	Query          string `json:"query"`
	Text           string `json:"text"`
	Chunks         int    `json:"chunks"`
	Segments       int    `json:"segments"`
	Clips          int    `json:"clips"`
}

// Chat starts a turn for text, superseding any turn in progress. The reply
// is streamed, cut into sentences and synthesized; audio is enqueued in
// sentence order. A superseded turn returns turn.ErrSuperseded.
func (o *Orchestrator) Chat(ctx context.Context, text string) (Reply, error) {
	if strings.TrimSpace(text) == "" {
		return Reply{}, ErrEmptyText
	}
	t := o.begin()
	defer o.turns.End(t)
	return o.runTurn(ctx, t, text)
}

// Listen recognizes audio and chats with the result under one turn. Empty
// audio returns ErrNoSpeech without touching the turn in progress.
func (o *Orchestrator) Listen(ctx context.Context, audio io.Reader, opts ASROptions) (Reply, error) {
	if audio == nil {
		return Reply{}, ErrNoSpeech
	}
	br := bufio.NewReader(audio)
	if _, err := br.Peek(1); err != nil {
		if !errors.Is(err, io.EOF) {
			o.logger.Warn("read listen audio", "error", err)
		}
		o.metrics.ObserveTurnIndicator("no_speech")
		return Reply{}, ErrNoSpeech
	}

	t := o.begin()
	defer o.turns.End(t)

	runCtx, stop := o.turnContext(ctx, t)
	defer stop()

	text := o.ASR(runCtx, br, opts)
	if cause := t.Cause(); cause != nil {
		return Reply{TurnID: t.ID}, cause
	}
	if text == "" {
		o.metrics.ObserveTurnIndicator("no_speech")
		return Reply{TurnID: t.ID}, ErrNoSpeech
	}
	return o.runTurn(ctx, t, text)
}

// Abort cancels the current turn and silences playback.
func (o *Orchestrator) Abort() {
	if t := o.turns.CancelCurrent(); t != nil {
		o.metrics.ObserveTurnEvent("aborted")
	}
	o.queue.Stop()
}

// SubmitText runs a chat turn in the background. It lets renderer pages
// send text without waiting for the reply.
func (o *Orchestrator) SubmitText(text string) {
	go func() {
		if _, err := o.Chat(context.Background(), text); err != nil && !turn.IsCancellation(err) {
			o.logger.Warn("chat turn failed", "error", err)
		}
	}()
}

// Interrupt is Abort under the name renderer pages use.
func (o *Orchestrator) Interrupt() { o.Abort() }

func (o *Orchestrator) begin() *turn.Token {
	t := o.turns.Begin()
	o.queue.Stop()
	o.metrics.ObserveTurnEvent("started")
	return t
}

// turnContext derives a context that ends with either the turn or ctx. When
// ctx ends first the turn is aborted.
func (o *Orchestrator) turnContext(ctx context.Context, t *turn.Token) (context.Context, func()) {
	stop := context.AfterFunc(ctx, func() { o.turns.Cancel(t) })
	return t.Context(), func() { stop() }
}

type pendingClip struct {
	index int
	text  string
	clip  chan []byte
}

func (o *Orchestrator) runTurn(ctx context.Context, t *turn.Token, text string) (Reply, error) {
	runCtx, stop := o.turnContext(ctx, t)
	defer stop()

	text = strings.TrimSpace(text)
	engine, settings := o.Agent()
	reply := Reply{TurnID: t.ID, Engine: engine, Query: text}
	if text == "" {
		return reply, nil
	}
	t.SetPhase(turn.PhaseChatting)
	convID := o.conversationFor(runCtx, engine, settings)
	o.save(runCtx, t, convID, engine, memory.RoleHuman, text)

	mute := o.Muted()
	seg := newSegmenter(o.cfg.Punctuation, o.cfg.SentenceMinLength)

	g, gctx := errgroup.WithContext(runCtx)
	g.SetLimit(o.cfg.TTSConcurrency)
	order := make(chan *pendingClip, 64)
	enqueued := make(chan int, 1)
	go func() {
		enqueued <- o.enqueueInOrder(t, order)
	}()

	submit := func(sentence string) {
		if mute || strings.TrimSpace(sentence) == "" {
			return
		}
		p := &pendingClip{index: reply.Segments, text: sentence, clip: make(chan []byte, 1)}
		reply.Segments++
		order <- p
		g.Go(func() error {
			p.clip <- o.TTS(gctx, p.text, o.cfg.TTSEngine)
			return nil
		})
	}

	var body strings.Builder
	ended := false
	err := o.StreamingChat(runCtx, text, engine, settings, func(i int, delta string) {
		if i == 0 {
			o.metrics.ObserveTurnStage(observability.StageFirstText, time.Since(t.StartedAt))
		}
		body.WriteString(delta)
		reply.Chunks++
		if o.sink != nil {
			o.sink.PublishChatDelta(t.ID, memory.RoleAssistant, i, delta, false)
		}
		for _, sentence := range seg.Push(delta) {
			submit(sentence)
		}
	}, func(count int) {
		ended = true
		t.SetPhase(turn.PhaseSynthesizing)
		submit(seg.Flush())
		if o.sink != nil {
			o.sink.PublishChatDelta(t.ID, memory.RoleAssistant, count, "", true)
		}
	})

	_ = g.Wait()
	close(order)
	reply.Clips = <-enqueued
	reply.Text = body.String()
	reply.ConversationID = o.CurrentConversation()

	if cause := t.Cause(); cause != nil && !errors.Is(cause, turn.ErrEnded) {
		o.metrics.ObserveTurnEvent("cancelled")
		o.metrics.ObserveTurnIndicator(cancelIndicator(cause))
		return reply, cause
	}
	if reply.Text != "" {
		o.save(runCtx, t, reply.ConversationID, engine, memory.RoleAssistant, reply.Text)
	}
	if err != nil && !ended {
		o.metrics.ObserveTurnEvent("failed")
		return reply, fmt.Errorf("agent stream: %w", err)
	}
	o.metrics.ObserveTurnEvent("completed")
	o.metrics.ObserveTurnStage(observability.StageTurnTotal, time.Since(t.StartedAt))
	return reply, nil
}

// enqueueInOrder waits for each clip in submission order and enqueues it
// while t is still current. It returns how many clips were enqueued.
func (o *Orchestrator) enqueueInOrder(t *turn.Token, order <-chan *pendingClip) int {
	n := 0
	var firstOnce sync.Once
	for p := range order {
		clip := <-p.clip
		if len(clip) == 0 {
			continue
		}
		if o.turns.Do(t, func() { o.queue.Enqueue(clip) }) {
			n++
			firstOnce.Do(func() {
				o.metrics.ObserveFirstAudioLatency(time.Since(t.StartedAt))
			})
		}
	}
	return n
}

func (o *Orchestrator) save(ctx context.Context, t *turn.Token, convID, engine, role, content string) {
	redacted, changed := policy.RedactPII(content)
	err := o.store.Save(ctx, memory.Record{
		ConversationID: convID,
		TurnID:         t.ID,
		Engine:         engine,
		Role:           role,
		Content:        redacted,
		PIIRedacted:    changed,
	})
	if err != nil && ctx.Err() == nil {
		o.logger.Warn("save chat record", "role", role, "error", err)
	}
}

func cancelIndicator(cause error) string {
	switch {
	case errors.Is(cause, turn.ErrSuperseded):
		return "superseded"
	case errors.Is(cause, turn.ErrAborted):
		return "aborted"
	default:
		return "cancelled"
	}
}
