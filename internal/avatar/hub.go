package avatar

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/sentio/internal/audio"
	"github.com/ent0n29/sentio/internal/observability"
	"github.com/ent0n29/sentio/internal/protocol"
	"github.com/ent0n29/sentio/internal/transcode"
	"github.com/ent0n29/sentio/internal/turn"
)

const (
	clientBuffer = 64
	readTimeout  = 120 * time.Second
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
)

// InputHandler receives user actions coming from renderer pages.
type InputHandler interface {
	SubmitText(text string)
	Interrupt()
}

type HubOptions struct {
	Characters       []Resource
	Backgrounds      []Resource
	DefaultCharacter string
	AllowAnyOrigin   bool
	Metrics          *observability.Metrics
	Logger           *slog.Logger
}

// Hub implements Renderer by broadcasting protocol messages to every
// connected renderer page.
type Hub struct {
	characters  []Resource
	backgrounds []Resource
	metrics     *observability.Metrics
	logger      *slog.Logger
	upgrader    websocket.Upgrader

	mu         sync.RWMutex
	clients    map[*client]struct{}
	character  string
	background string
	weight     float64
	input      InputHandler
}

type client struct {
	send chan any
}

func NewHub(opts HubOptions) *Hub {
	if opts.Characters == nil {
		opts.Characters = DefaultCharacters()
	}
	if opts.Backgrounds == nil {
		opts.Backgrounds = DefaultBackgrounds()
	}
	if opts.DefaultCharacter == "" {
		opts.DefaultCharacter = DefaultCharacter
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	allowAny := opts.AllowAnyOrigin
	return &Hub{
		characters:  opts.Characters,
		backgrounds: opts.Backgrounds,
		metrics:     opts.Metrics,
		logger:      logger.With("component", "avatar"),
		clients:     make(map[*client]struct{}),
		character:   opts.DefaultCharacter,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return sameOrigin(r, allowAny)
			},
		},
	}
}

// sameOrigin accepts requests without an Origin header (non-browser clients)
// and browser requests whose origin host matches the request host.
func sameOrigin(r *http.Request, allowAny bool) bool {
	if allowAny {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// SetInput installs the handler for text_input and interrupt messages.
func (h *Hub) SetInput(in InputHandler) {
	h.mu.Lock()
	h.input = in
	h.mu.Unlock()
}

func (h *Hub) CharacterCatalog() []Resource {
	return append([]Resource(nil), h.characters...)
}

func (h *Hub) BackgroundCatalog() []Resource {
	return append([]Resource(nil), h.backgrounds...)
}

func (h *Hub) Character() (character, background string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.character, h.background
}

func (h *Hub) ChangeCharacter(id string) error {
	if _, ok := findResource(h.characters, id); !ok {
		return fmt.Errorf("character %q: %w", id, ErrUnknownResource)
	}
	h.mu.Lock()
	h.character = id
	msg := h.characterMessageLocked()
	h.mu.Unlock()
	h.Broadcast(msg)
	return nil
}

func (h *Hub) ChangeBackground(id string) error {
	if id != "" {
		if _, ok := findResource(h.backgrounds, id); !ok {
			return fmt.Errorf("background %q: %w", id, ErrUnknownResource)
		}
	}
	h.mu.Lock()
	h.background = id
	msg := h.characterMessageLocked()
	h.mu.Unlock()
	h.Broadcast(msg)
	return nil
}

func (h *Hub) characterMessageLocked() protocol.Character {
	return protocol.Character{
		Type:         protocol.TypeCharacter,
		CharacterID:  h.character,
		BackgroundID: h.background,
	}
}

// SetLipSyncWeight broadcasts w when it differs from the last weight sent.
func (h *Hub) SetLipSyncWeight(w float64) {
	h.mu.Lock()
	if w == h.weight {
		h.mu.Unlock()
		return
	}
	h.weight = w
	h.mu.Unlock()
	h.Broadcast(protocol.LipSync{Type: protocol.TypeLipSync, Weight: w})
}

// PublishAudio sends a clip that just started playing so pages can play it
// in sync with the lip-sync stream.
func (h *Hub) PublishAudio(buf *audio.Buffer) {
	if buf == nil || h.Clients() == 0 {
		return
	}
	wav, err := audio.EncodeWAV(buf)
	if err != nil {
		h.logger.Warn("encode assistant audio", "error", err)
		return
	}
	h.Broadcast(protocol.AssistantAudio{
		Type:        protocol.TypeAssistantAudio,
		Format:      "wav",
		SampleRate:  buf.SampleRate,
		AudioBase64: transcode.EncodeBytes(wav),
	})
}

// PublishTurnState has the turn.HookFunc signature.
func (h *Hub) PublishTurnState(t *turn.Token, phase turn.Phase) {
	h.Broadcast(protocol.TurnState{Type: protocol.TypeTurnState, TurnID: t.ID, Phase: string(phase)})
}

func (h *Hub) PublishChatDelta(turnID, role string, index int, delta string, done bool) {
	h.Broadcast(protocol.ChatDelta{
		Type:   protocol.TypeChatDelta,
		TurnID: turnID,
		Role:   role,
		Index:  index,
		Delta:  delta,
		Done:   done,
	})
}

// Broadcast queues msg for every client. Slow clients drop messages rather
// than block playback.
func (h *Hub) Broadcast(msg any) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.metrics.ObserveWSMessage("drop_full", string(messageTypeOf(msg)))
		}
	}
}

func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) register() *client {
	c := &client{send: make(chan any, clientBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	c.send <- h.characterMessageLocked()
	h.mu.Unlock()
	h.metrics.SetAvatarClients(n)
	return c
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	h.metrics.SetAvatarClients(n)
}

func (h *Hub) send(c *client, msg any) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- msg:
	default:
		h.metrics.ObserveWSMessage("drop_full", string(messageTypeOf(msg)))
	}
}

// ServeHTTP upgrades the request and serves one renderer page until it
// disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := h.register()
	h.logger.Info("renderer connected", "remote", r.RemoteAddr)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writeLoop(ctx, cancel, conn, c)
	}()

	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			h.send(c, protocol.ErrorEvent{
				Type:   protocol.TypeErrorEvent,
				Code:   "invalid_client_message",
				Source: "avatar",
				Detail: err.Error(),
			})
			continue
		}
		h.metrics.ObserveWSMessage("inbound", string(messageTypeOf(parsed)))
		h.dispatch(c, parsed)
	}

	cancel()
	h.unregister(c)
	<-writerDone
	h.logger.Info("renderer disconnected", "remote", r.RemoteAddr)
}

func (h *Hub) writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, c *client) {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				cancel()
				return
			}
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				h.metrics.ObserveWSMessage("write_error", string(messageTypeOf(msg)))
				cancel()
				return
			}
			h.metrics.ObserveWSMessage("outbound", string(messageTypeOf(msg)))
		}
	}
}

func (h *Hub) dispatch(c *client, msg any) {
	h.mu.RLock()
	in := h.input
	h.mu.RUnlock()

	switch m := msg.(type) {
	case protocol.Ready:
		h.mu.RLock()
		current := h.characterMessageLocked()
		h.mu.RUnlock()
		h.send(c, current)
	case protocol.TextInput:
		if in != nil {
			in.SubmitText(m.Text)
		}
	case protocol.Interrupt:
		if in != nil {
			in.Interrupt()
		}
	case protocol.ChangeCharacter:
		if err := h.ChangeCharacter(m.CharacterID); err != nil {
			h.send(c, protocol.ErrorEvent{
				Type:   protocol.TypeErrorEvent,
				Code:   "unknown_character",
				Source: "avatar",
				Detail: err.Error(),
			})
		}
	}
}

func messageTypeOf(v any) protocol.MessageType {
	switch m := v.(type) {
	case protocol.Ready:
		return m.Type
	case protocol.TextInput:
		return m.Type
	case protocol.Interrupt:
		return m.Type
	case protocol.ChangeCharacter:
		return m.Type
	case protocol.LipSync:
		return m.Type
	case protocol.Character:
		return m.Type
	case protocol.AssistantAudio:
		return m.Type
	case protocol.TurnState:
		return m.Type
	case protocol.ChatDelta:
		return m.Type
	case protocol.ErrorEvent:
		return m.Type
	default:
		return "unknown"
	}
}
