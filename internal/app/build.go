package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/ent0n29/sentio/internal/adhapi"
	"github.com/ent0n29/sentio/internal/avatar"
	"github.com/ent0n29/sentio/internal/config"
	"github.com/ent0n29/sentio/internal/conversation"
	"github.com/ent0n29/sentio/internal/httpapi"
	"github.com/ent0n29/sentio/internal/memory"
	"github.com/ent0n29/sentio/internal/observability"
	"github.com/ent0n29/sentio/internal/playback"
	"github.com/ent0n29/sentio/internal/turn"
)

type AgentInfo struct {
	Engine string
	Detail string
}

type BuildResult struct {
	Config        config.Config
	API           *httpapi.Server
	Client        *adhapi.Client
	Orchestrator  *conversation.Orchestrator
	Queue         *playback.Queue
	Hub           *avatar.Hub
	Store         memory.Store
	Metrics       *observability.Metrics
	Agent         AgentInfo
	UpstreamReady bool

	// Cleanup stops the render loop and releases the chat store.
	Cleanup func() error
}

// Build wires the host: ADH client, chat store, turn manager, avatar hub,
// playback queue and its render loop, orchestrator and HTTP API. ctx bounds
// startup only; the render loop runs until Cleanup is called.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace, cfg.PerfWindowSize)

	client, err := adhapi.NewClient(adhapi.Config{
		BaseURL:    cfg.ServerURL,
		BasePath:   cfg.ServerBasePath,
		Version:    cfg.ServerVersion,
		UserID:     cfg.UserID,
		Timeout:    cfg.HTTPTimeout,
		MaxRetries: cfg.MaxRetries,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("adh client init failed: %w", err)
	}

	store, err := memory.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("memory store init failed: %w", err)
	}

	ready := probeUpstream(ctx, client, cfg, logger)
	agent := agentSetup{engine: cfg.AgentEngine, detail: cfg.AgentEngine + " (server offline)"}
	if ready {
		agent = resolveAgent(ctx, client, cfg)
	}
	cfg.AgentEngine = agent.engine
	logger.Info("agent engine", "engine", agent.engine, "detail", agent.detail)

	runCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	turns := turn.NewManager(runCtx)

	hub := avatar.NewHub(avatar.HubOptions{
		DefaultCharacter: cfg.Character,
		AllowAnyOrigin:   cfg.AllowAnyOrigin,
		Metrics:          metrics,
		Logger:           logger,
	})
	turns.SetHook(hub.PublishTurnState)

	queue := playback.NewQueue(playback.Options{
		Output:        &playback.ClockOutput{OnStart: hub.PublishAudio},
		DecodeTimeout: cfg.DecodeTimeout,
		Logger:        logger,
		Observer:      metrics,
	})

	orch := conversation.New(conversation.Options{
		Client:  client,
		Queue:   queue,
		Turns:   turns,
		Store:   store,
		Metrics: metrics,
		Sink:    hub,
		Logger:  logger,
		Config: conversation.Config{
			ASREngine:         cfg.ASREngine,
			TTSEngine:         cfg.TTSEngine,
			AgentEngine:       cfg.AgentEngine,
			ASRSettings:       cfg.ASRSettings,
			TTSSettings:       cfg.TTSSettings,
			AgentSettings:     cfg.AgentSettings,
			ASRFormat:         cfg.ASRFormat,
			ASRSampleRate:     cfg.ASRSampleRate,
			ASRSampleWidth:    cfg.ASRSampleWidth,
			Punctuation:       cfg.TTSPunctuation,
			SentenceMinLength: cfg.TTSSentenceMinLength,
			TTSConcurrency:    cfg.TTSConcurrency,
			Mute:              cfg.Mute,
		},
	})
	hub.SetInput(orch)

	driver := playback.NewDriver(queue, hub, cfg.RenderTick, cfg.LipFactor)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := driver.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("render loop stopped", "error", err)
		}
	}()

	api := httpapi.New(cfg, httpapi.Deps{
		Conversation: orch,
		Playback:     queue,
		Renderer:     hub,
		Upstream:     client,
		Metrics:      metrics,
		StoreMode:    store.Mode(),
	})

	cleanup := func() error {
		var errs []string
		orch.Abort()
		stop()
		wg.Wait()
		if err := store.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:        cfg,
		API:           api,
		Client:        client,
		Orchestrator:  orch,
		Queue:         queue,
		Hub:           hub,
		Store:         store,
		Metrics:       metrics,
		Agent:         AgentInfo{Engine: agent.engine, Detail: agent.detail},
		UpstreamReady: ready,
		Cleanup:       cleanup,
	}, nil
}
