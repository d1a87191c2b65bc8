package conversation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"maps"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/ent0n29/sentio/internal/adhapi"
	"github.com/ent0n29/sentio/internal/memory"
	"github.com/ent0n29/sentio/internal/observability"
	"github.com/ent0n29/sentio/internal/playback"
	"github.com/ent0n29/sentio/internal/streamdec"
	"github.com/ent0n29/sentio/internal/transcode"
	"github.com/ent0n29/sentio/internal/turn"
)

const (
	DefaultASRFormat      = "wav"
	DefaultASRSampleRate  = 16000
	DefaultASRSampleWidth = 2
	DefaultTTSConcurrency = 2
)

// Config selects engines and tunes the reply pipeline.
type Config struct {
	ASREngine   string
	TTSEngine   string
	AgentEngine string

	ASRSettings   adhapi.Settings
	TTSSettings   adhapi.Settings
	AgentSettings adhapi.Settings

	ASRFormat      string
	ASRSampleRate  int
	ASRSampleWidth int

	Punctuation       string
	SentenceMinLength int
	TTSConcurrency    int
	Mute              bool
}

// ChatSink receives reply text as it streams. *avatar.Hub implements it.
type ChatSink interface {
	PublishChatDelta(turnID, role string, index int, delta string, done bool)
}

type Options struct {
	Client  *adhapi.Client
	Queue   *playback.Queue
	Turns   *turn.Manager
	Store   memory.Store
	Metrics *observability.Metrics
	Sink    ChatSink
	Logger  *slog.Logger
	Config  Config
}

// ASROptions describes the audio handed to ASR. Zero fields fall back to the
// orchestrator's configuration.
type ASROptions struct {
	Engine      string
	Format      string
	SampleRate  int
	SampleWidth int
	Settings    adhapi.Settings
}

// Orchestrator composes recognition, agent chat and synthesis into turns
// and feeds synthesized audio to the playback queue.
type Orchestrator struct {
	client  *adhapi.Client
	queue   *playback.Queue
	turns   *turn.Manager
	store   memory.Store
	metrics *observability.Metrics
	sink    ChatSink
	logger  *slog.Logger
	cfg     Config

	mu             sync.Mutex
	agentEngine    string
	agentSettings  adhapi.Settings
	conversationID string
	mute           bool
}

func New(opts Options) *Orchestrator {
	cfg := opts.Config
	if cfg.ASRFormat == "" {
		cfg.ASRFormat = DefaultASRFormat
	}
	if cfg.ASRSampleRate <= 0 {
		cfg.ASRSampleRate = DefaultASRSampleRate
	}
	if cfg.ASRSampleWidth <= 0 {
		cfg.ASRSampleWidth = DefaultASRSampleWidth
	}
	if cfg.Punctuation == "" {
		cfg.Punctuation = DefaultPunctuation
	}
	if cfg.SentenceMinLength < 0 {
		cfg.SentenceMinLength = DefaultSentenceMinLength
	}
	if cfg.TTSConcurrency <= 0 {
		cfg.TTSConcurrency = DefaultTTSConcurrency
	}
	turns := opts.Turns
	if turns == nil {
		turns = turn.NewManager(context.Background())
	}
	queue := opts.Queue
	if queue == nil {
		queue = playback.NewQueue(playback.Options{Logger: opts.Logger, Observer: opts.Metrics})
	}
	store := opts.Store
	if store == nil {
		store = memory.NewInMemoryStore(0)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		client:        opts.Client,
		queue:         queue,
		turns:         turns,
		store:         store,
		metrics:       opts.Metrics,
		sink:          opts.Sink,
		logger:        logger.With("component", "conversation"),
		cfg:           cfg,
		agentEngine:   cfg.AgentEngine,
		agentSettings: maps.Clone(cfg.AgentSettings),
		mute:          cfg.Mute,
	}
}

func (o *Orchestrator) Queue() *playback.Queue { return o.queue }

func (o *Orchestrator) Turns() *turn.Manager { return o.turns }

// providerFailed logs and counts a failed upstream call. Cancellations are
// expected outcomes and are dropped silently.
func (o *Orchestrator) providerFailed(ctx context.Context, provider string, err error) {
	if ctx.Err() != nil || turn.IsCancellation(err) {
		return
	}
	code := adhapi.ErrorCode(err)
	o.metrics.ObserveProviderError(provider, code)
	o.logger.Warn("provider call failed", "provider", provider, "code", code, "error", err)
}

// ASR recognizes speech in audio. Empty audio and every failure yield "".
func (o *Orchestrator) ASR(ctx context.Context, audio io.Reader, opts ASROptions) string {
	data, err := transcode.Encode(audio)
	if err != nil {
		if !errors.Is(err, transcode.ErrEmpty) {
			o.logger.Warn("encode asr audio", "error", err)
		}
		return ""
	}
	if data == "" {
		return ""
	}
	if opts.Engine == "" {
		opts.Engine = o.cfg.ASREngine
	}
	if opts.Format == "" {
		opts.Format = o.cfg.ASRFormat
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = o.cfg.ASRSampleRate
	}
	if opts.SampleWidth <= 0 {
		opts.SampleWidth = o.cfg.ASRSampleWidth
	}
	if opts.Settings == nil {
		opts.Settings = o.cfg.ASRSettings
	}
	if opts.Settings == nil {
		opts.Settings = adhapi.Settings{}
	}

	start := time.Now()
	text, err := o.client.ASRInfer(ctx, adhapi.ASRRequest{
		Engine:      opts.Engine,
		Data:        data,
		Format:      opts.Format,
		SampleRate:  opts.SampleRate,
		SampleWidth: opts.SampleWidth,
		Settings:    opts.Settings,
	})
	if err != nil {
		o.providerFailed(ctx, "asr", err)
		return ""
	}
	o.metrics.ObserveTurnStage(observability.StageASR, time.Since(start))
	return strings.TrimSpace(text)
}

// TTS synthesizes text after stripping pictographs. Text that is empty after
// stripping makes no call. Failures yield nil.
func (o *Orchestrator) TTS(ctx context.Context, text, engine string) []byte {
	text = StripPictographs(text)
	if text == "" {
		return nil
	}
	if engine == "" {
		engine = o.cfg.TTSEngine
	}
	settings := o.cfg.TTSSettings
	if settings == nil {
		settings = adhapi.Settings{}
	}

	start := time.Now()
	encoded, err := o.client.TTSInfer(ctx, adhapi.TTSRequest{Engine: engine, Data: text, Settings: settings})
	if err != nil {
		o.providerFailed(ctx, "tts", err)
		return nil
	}
	clip, err := transcode.Decode(encoded)
	if err != nil {
		o.metrics.ObserveProviderError("tts", "bad_payload")
		o.logger.Warn("decode tts payload", "error", err)
		return nil
	}
	o.metrics.ObserveTurnStage(observability.StageTTS, time.Since(start))
	return clip
}

// StreamingChat streams the agent's reply to text. onChunk sees non-empty
// deltas in order; onEnd runs once after the last chunk. A transport error is
// logged and returned without calling onEnd.
func (o *Orchestrator) StreamingChat(ctx context.Context, text, engine string, settings adhapi.Settings, onChunk streamdec.ChunkFunc, onEnd streamdec.EndFunc) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if onChunk == nil {
		onChunk = func(int, string) {}
	}
	if onEnd == nil {
		onEnd = func(int) {}
	}

	convID := o.conversationFor(ctx, engine, settings)
	stream, err := o.client.AgentInfer(ctx, engine, text, convID, settings)
	if err != nil {
		o.providerFailed(ctx, "agent", err)
		return err
	}

	if !stream.EventStream() {
		err := streamdec.Decode(ctx, stream.Body, func(i int, delta string) {
			o.metrics.ObserveStreamChunk()
			onChunk(i, delta)
		}, onEnd)
		if err != nil {
			o.providerFailed(ctx, "agent", err)
		}
		return err
	}

	count := 0
	var agentErr error
	err = streamdec.DecodeEvents(ctx, stream.Body, func(ev streamdec.Event) error {
		switch ev.Type {
		case streamdec.EventConversationID:
			o.rememberConversation(engine, settings, ev.Data)
		case streamdec.EventText:
			if ev.Data == "" {
				return nil
			}
			o.metrics.ObserveStreamChunk()
			onChunk(count, ev.Data)
			count++
		case streamdec.EventError:
			agentErr = &adhapi.APIError{Code: -1, Message: ev.Data}
			return streamdec.ErrStop
		}
		if ev.Terminal() {
			return streamdec.ErrStop
		}
		return nil
	})
	if err == nil {
		err = agentErr
	}
	if err != nil {
		o.providerFailed(ctx, "agent", err)
		return err
	}
	onEnd(count)
	return nil
}

// conversationFor returns the cached conversation id for engine, fetching a
// new one when the engine or its settings changed.
func (o *Orchestrator) conversationFor(ctx context.Context, engine string, settings adhapi.Settings) string {
	o.mu.Lock()
	if engine != o.agentEngine || !sameSettings(settings, o.agentSettings) {
		o.agentEngine = engine
		o.agentSettings = maps.Clone(settings)
		o.conversationID = ""
	}
	id := o.conversationID
	o.mu.Unlock()
	if id != "" {
		return id
	}

	id = o.ConversationID(ctx, engine, settings)
	if id != "" {
		o.rememberConversation(engine, settings, id)
	}
	return id
}

func (o *Orchestrator) rememberConversation(engine string, settings adhapi.Settings, id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if engine == o.agentEngine && sameSettings(settings, o.agentSettings) {
		o.conversationID = id
	}
}

func sameSettings(a, b adhapi.Settings) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}

func (o *Orchestrator) Agents(ctx context.Context) []string {
	agents, err := o.client.AgentList(ctx)
	if err != nil {
		o.providerFailed(ctx, "agent", err)
		return []string{}
	}
	return agents
}

func (o *Orchestrator) DefaultAgent(ctx context.Context) string {
	engine, err := o.client.AgentDefault(ctx)
	if err != nil {
		o.providerFailed(ctx, "agent", err)
		return ""
	}
	return engine
}

func (o *Orchestrator) AgentSettings(ctx context.Context, engine string) []adhapi.EngineParam {
	params, err := o.client.AgentSettings(ctx, engine)
	if err != nil {
		o.providerFailed(ctx, "agent", err)
		return []adhapi.EngineParam{}
	}
	return params
}

func (o *Orchestrator) ConversationID(ctx context.Context, engine string, settings adhapi.Settings) string {
	id, err := o.client.ConversationID(ctx, engine, settings)
	if err != nil {
		o.providerFailed(ctx, "agent", err)
		return ""
	}
	return id
}

// Agent returns the engine and settings used for chat turns.
func (o *Orchestrator) Agent() (string, adhapi.Settings) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.agentEngine, maps.Clone(o.agentSettings)
}

// SetAgent switches the chat engine. Changing engine or settings aborts the
// current turn and drops the conversation id.
func (o *Orchestrator) SetAgent(engine string, settings adhapi.Settings) {
	o.mu.Lock()
	changed := engine != o.agentEngine || !sameSettings(settings, o.agentSettings)
	if changed {
		o.agentEngine = engine
		o.agentSettings = maps.Clone(settings)
		o.conversationID = ""
	}
	o.mu.Unlock()
	if changed {
		o.Abort()
	}
}

func (o *Orchestrator) CurrentConversation() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.conversationID
}

func (o *Orchestrator) SetMute(mute bool) {
	o.mu.Lock()
	o.mute = mute
	o.mu.Unlock()
}

func (o *Orchestrator) Muted() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.mute
}

// History returns recent chat records of a conversation, oldest first. An
// empty id means the current conversation.
func (o *Orchestrator) History(ctx context.Context, conversationID string, limit int) ([]memory.Record, error) {
	if conversationID == "" {
		conversationID = o.CurrentConversation()
	}
	return o.store.Recent(ctx, conversationID, limit)
}
