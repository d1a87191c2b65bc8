package adhapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

type Settings map[string]any

type ASRRequest struct {
	Engine      string   `json:"engine"`
	Data        string   `json:"data"`
	Format      string   `json:"format"`
	SampleRate  int      `json:"sampleRate"`
	SampleWidth int      `json:"sampleWidth"`
	Settings    Settings `json:"settings"`
}

type TTSRequest struct {
	Engine   string   `json:"engine"`
	Data     string   `json:"data"`
	Settings Settings `json:"settings"`
}

type AgentRequest struct {
	Engine    string   `json:"engine"`
	Data      string   `json:"data"`
	Streaming bool     `json:"streaming"`
	Settings  Settings `json:"settings"`
}

type conversationRequest struct {
	Engine    string   `json:"engine"`
	Settings  Settings `json:"settings"`
	Streaming bool     `json:"streaming"`
}

// EngineParam describes one configurable engine setting.
type EngineParam struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Type        string `json:"type,omitempty"`
	Required    bool   `json:"required,omitempty"`
	Range       []any  `json:"range,omitempty"`
	Choices     []any  `json:"choices,omitempty"`
	Default     any    `json:"default,omitempty"`
}

// engineRef accepts either a bare engine id or an engine descriptor object.
type engineRef string

func (e *engineRef) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*e = engineRef(s)
		return nil
	}
	var desc struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(b, &desc); err != nil {
		return fmt.Errorf("engine reference: %w", err)
	}
	*e = engineRef(desc.Name)
	return nil
}

// ASRInfer sends base64 audio for recognition and returns the text.
func (c *Client) ASRInfer(ctx context.Context, req ASRRequest) (string, error) {
	if req.Settings == nil {
		req.Settings = Settings{}
	}
	var text string
	if err := c.call(ctx, http.MethodPost, c.Endpoint("asr", "infer"), req, &text); err != nil {
		return "", fmt.Errorf("asr infer: %w", err)
	}
	return text, nil
}

// TTSInfer synthesizes text and returns the base64 encoded audio.
func (c *Client) TTSInfer(ctx context.Context, req TTSRequest) (string, error) {
	if req.Settings == nil {
		req.Settings = Settings{}
	}
	var audio string
	if err := c.call(ctx, http.MethodPost, c.Endpoint("tts", "infer"), req, &audio); err != nil {
		return "", fmt.Errorf("tts infer: %w", err)
	}
	return audio, nil
}

func (c *Client) AgentList(ctx context.Context) ([]string, error) {
	var refs []engineRef
	if err := c.call(ctx, http.MethodGet, c.Endpoint("agent", "list"), nil, &refs); err != nil {
		return nil, fmt.Errorf("agent list: %w", err)
	}
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		if s := strings.TrimSpace(string(r)); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

func (c *Client) AgentDefault(ctx context.Context) (string, error) {
	var ref engineRef
	if err := c.call(ctx, http.MethodGet, c.Endpoint("agent", "default"), nil, &ref); err != nil {
		return "", fmt.Errorf("agent default: %w", err)
	}
	return strings.TrimSpace(string(ref)), nil
}

func (c *Client) AgentSettings(ctx context.Context, engine string) ([]EngineParam, error) {
	var params []EngineParam
	body := map[string]string{"engine": engine}
	if err := c.call(ctx, http.MethodPost, c.Endpoint("agent", "settings"), body, &params); err != nil {
		return nil, fmt.Errorf("agent settings: %w", err)
	}
	return params, nil
}

// ConversationID asks the agent engine for a new conversation id.
func (c *Client) ConversationID(ctx context.Context, engine string, settings Settings) (string, error) {
	if settings == nil {
		settings = Settings{}
	}
	req := conversationRequest{Engine: engine, Settings: settings, Streaming: true}
	var id string
	if err := c.call(ctx, http.MethodPost, c.Endpoint("agent", "conversation_id"), req, &id); err != nil {
		return "", fmt.Errorf("agent conversation id: %w", err)
	}
	return id, nil
}

// Stream is an open agent reply body.
type Stream struct {
	Body        io.ReadCloser
	ContentType string
}

// EventStream reports whether the body is text/event-stream framed.
func (s *Stream) EventStream() bool {
	return strings.Contains(strings.ToLower(s.ContentType), "text/event-stream")
}

// AgentInfer opens a streaming agent reply. conversationID, when set, is sent
// inside settings. The caller owns Stream.Body.
func (c *Client) AgentInfer(ctx context.Context, engine, text, conversationID string, settings Settings) (*Stream, error) {
	merged := make(Settings, len(settings)+1)
	for k, v := range settings {
		merged[k] = v
	}
	merged["conversation_id"] = conversationID

	req, err := c.newRequest(ctx, http.MethodPost, c.Endpoint("agent", "infer"), AgentRequest{
		Engine:    engine,
		Data:      text,
		Streaming: true,
		Settings:  merged,
	})
	if err != nil {
		return nil, fmt.Errorf("agent infer: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream, text/plain")
	res, err := c.send(req)
	if err != nil {
		return nil, fmt.Errorf("agent infer: %w", err)
	}
	return &Stream{Body: res.Body, ContentType: res.Header.Get("Content-Type")}, nil
}
