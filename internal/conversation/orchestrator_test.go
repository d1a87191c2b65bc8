package conversation

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ent0n29/sentio/internal/adhapi"
	"github.com/ent0n29/sentio/internal/memory"
	"github.com/ent0n29/sentio/internal/playback"
	"github.com/ent0n29/sentio/internal/turn"
)

// fakeADH serves the ADH wire contract for tests.
type fakeADH struct {
	mu         sync.Mutex
	ttsTexts   []string
	asrBodies  []adhapi.ASRRequest
	agentTexts []string
	agentConv  []any
	convCalls  int

	reply     []string
	sse       bool
	block     func(text string) bool
	ttsDelay  func(text string) time.Duration
	agentSeen chan string
}

func newFakeADH() *fakeADH {
	return &fakeADH{agentSeen: make(chan string, 8)}
}

func envelope(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"code": 0, "message": "ok", "data": data})
}

func (f *fakeADH) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/adh/asr/v0/infer":
		var req adhapi.ASRRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.asrBodies = append(f.asrBodies, req)
		f.mu.Unlock()
		envelope(w, " what time is it ")
	case "/adh/tts/v0/infer":
		var req adhapi.TTSRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.ttsTexts = append(f.ttsTexts, req.Data)
		delay := f.ttsDelay
		f.mu.Unlock()
		if delay != nil {
			select {
			case <-time.After(delay(req.Data)):
			case <-r.Context().Done():
				return
			}
		}
		envelope(w, base64.StdEncoding.EncodeToString([]byte("clip:"+req.Data)))
	case "/adh/agent/v0/conversation_id":
		f.mu.Lock()
		f.convCalls++
		n := f.convCalls
		f.mu.Unlock()
		envelope(w, fmt.Sprintf("conv-%d", n))
	case "/adh/agent/v0/infer":
		var req adhapi.AgentRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.agentTexts = append(f.agentTexts, req.Data)
		f.agentConv = append(f.agentConv, req.Settings["conversation_id"])
		reply, sse, block := f.reply, f.sse, f.block
		f.mu.Unlock()
		f.agentSeen <- req.Data
		if block != nil && block(req.Data) {
			<-r.Context().Done()
			return
		}
		f.writeReply(w, reply, sse)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeADH) writeReply(w http.ResponseWriter, chunks []string, sse bool) {
	flusher, _ := w.(http.Flusher)
	if sse {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "event: CONVERSATION_ID\ndata: conv-sse\n\n")
	} else {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	}
	for _, c := range chunks {
		if sse {
			_, _ = fmt.Fprintf(w, "event: TEXT\ndata: %s\n\n", c)
		} else {
			_, _ = io.WriteString(w, c)
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	if sse {
		_, _ = io.WriteString(w, "event: DONE\ndata: \n\n")
	}
}

func (f *fakeADH) calls() (conv int, agentConv []any, agentTexts []string, asr []adhapi.ASRRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.convCalls, append([]any(nil), f.agentConv...), append([]string(nil), f.agentTexts...), append([]adhapi.ASRRequest(nil), f.asrBodies...)
}

func (f *fakeADH) tts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ttsTexts...)
}

func newTestOrchestrator(t *testing.T, f *fakeADH, cfg Config) *Orchestrator {
	t.Helper()
	ts := httptest.NewServer(f)
	t.Cleanup(ts.Close)
	client, err := adhapi.NewClient(adhapi.Config{BaseURL: ts.URL, BasePath: adhapi.DefaultBasePath})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if cfg.AgentEngine == "" {
		cfg.AgentEngine = "default"
	}
	if cfg.SentenceMinLength == 0 {
		cfg.SentenceMinLength = DefaultSentenceMinLength
	}
	return New(Options{
		Client: client,
		Queue:  playback.NewQueue(playback.Options{}),
		Turns:  turn.NewManager(context.Background()),
		Config: cfg,
	})
}

func drainQueue(q *playback.Queue) []string {
	var out []string
	for {
		clip, ok := q.Pop()
		if !ok {
			return out
		}
		out = append(out, string(clip))
	}
}

func TestStripPictographs(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Hello 😀 world! 👍", "Hello world!"},
		{"😀👍", ""},
		{"✂ cut 🚀 launch 🇮🇹", "cut launch"},
		{"你好，世界", "你好，世界"},
	}
	for _, tc := range cases {
		if got := StripPictographs(tc.in); got != tc.want {
			t.Fatalf("StripPictographs(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSegmenter(t *testing.T) {
	s := newSegmenter("", DefaultSentenceMinLength)
	var got []string
	for _, delta := range []string{"Hi! Bob is", " here. And", " then", " more text"} {
		got = append(got, s.Push(delta)...)
	}
	if len(got) != 1 || got[0] != "Hi! Bob is here." {
		t.Fatalf("Push() sentences = %q, want [\"Hi! Bob is here.\"]", got)
	}
	if rest := s.Flush(); rest != " And then more text" {
		t.Fatalf("Flush() = %q, want %q", rest, " And then more text")
	}
	if rest := s.Flush(); rest != "" {
		t.Fatalf("second Flush() = %q, want empty", rest)
	}
}

func TestSegmenterFullWidthPunctuation(t *testing.T) {
	s := newSegmenter("", DefaultSentenceMinLength)
	got := s.Push("你好。今天天气怎么样？很好")
	if len(got) != 1 || got[0] != "你好。今天天气怎么样？" {
		t.Fatalf("Push() = %q, want [你好。今天天气怎么样？]", got)
	}
	if rest := s.Flush(); rest != "很好" {
		t.Fatalf("Flush() = %q, want 很好", rest)
	}
}

func TestTTSStripsPictographs(t *testing.T) {
	f := newFakeADH()
	o := newTestOrchestrator(t, f, Config{})

	if clip := o.TTS(context.Background(), "😀👍", ""); clip != nil {
		t.Fatalf("TTS(pictographs only) = %q, want nil", clip)
	}
	if n := len(f.tts()); n != 0 {
		t.Fatalf("tts calls = %d, want 0", n)
	}

	clip := o.TTS(context.Background(), "Hello 😀 world! 👍", "")
	if string(clip) != "clip:Hello world!" {
		t.Fatalf("TTS() = %q, want clip:Hello world!", clip)
	}
	if got := f.tts(); len(got) != 1 || got[0] != "Hello world!" {
		t.Fatalf("tts texts = %q, want [Hello world!]", got)
	}
}

func TestASREmptyAudioMakesNoCall(t *testing.T) {
	f := newFakeADH()
	o := newTestOrchestrator(t, f, Config{})

	if got := o.ASR(context.Background(), bytes.NewReader(nil), ASROptions{}); got != "" {
		t.Fatalf("ASR(empty) = %q, want empty", got)
	}
	if got := o.ASR(context.Background(), nil, ASROptions{}); got != "" {
		t.Fatalf("ASR(nil) = %q, want empty", got)
	}
	if _, _, _, asr := f.calls(); len(asr) != 0 {
		t.Fatalf("asr calls = %d, want 0", len(asr))
	}

	got := o.ASR(context.Background(), strings.NewReader("RIFF"), ASROptions{})
	if got != "what time is it" {
		t.Fatalf("ASR() = %q, want %q", got, "what time is it")
	}
	_, _, _, asr := f.calls()
	req := asr[0]
	if req.Data != "UklGRg==" || req.Format != "wav" || req.SampleRate != 16000 || req.SampleWidth != 2 {
		t.Fatalf("asr request = %+v", req)
	}
}

func TestChatEnqueuesInSentenceOrder(t *testing.T) {
	f := newFakeADH()
	f.reply = []string{"First sentence ", "here. Second one", " is short. Third!"}
	f.ttsDelay = func(text string) time.Duration {
		if strings.HasPrefix(text, "First") {
			return 80 * time.Millisecond
		}
		return 0
	}
	o := newTestOrchestrator(t, f, Config{TTSConcurrency: 3})

	reply, err := o.Chat(context.Background(), "tell me something")
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if reply.Text != "First sentence here. Second one is short. Third!" {
		t.Fatalf("reply.Text = %q", reply.Text)
	}
	if reply.Segments != 3 || reply.Clips != 3 {
		t.Fatalf("Segments, Clips = %d, %d, want 3, 3", reply.Segments, reply.Clips)
	}

	want := []string{"clip:First sentence here.", "clip:Second one is short.", "clip:Third!"}
	got := drainQueue(o.Queue())
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("queue = %q, want %q", got, want)
	}
	if reply.ConversationID != "conv-1" {
		t.Fatalf("ConversationID = %q, want conv-1", reply.ConversationID)
	}
	if o.Turns().Current() != nil {
		t.Fatalf("turn still current after Chat returned")
	}
}

func TestChatReusesConversationID(t *testing.T) {
	f := newFakeADH()
	f.reply = []string{"ok"}
	o := newTestOrchestrator(t, f, Config{})

	for i := 0; i < 2; i++ {
		if _, err := o.Chat(context.Background(), "hi"); err != nil {
			t.Fatalf("Chat() error = %v", err)
		}
	}
	convCalls, agentConv, _, _ := f.calls()
	if convCalls != 1 {
		t.Fatalf("conversation_id calls = %d, want 1", convCalls)
	}
	for i, id := range agentConv {
		if id != "conv-1" {
			t.Fatalf("agent call %d conversation_id = %v, want conv-1", i, id)
		}
	}

	o.SetAgent("other", nil)
	if _, err := o.Chat(context.Background(), "hi"); err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if convCalls, _, _, _ = f.calls(); convCalls != 2 || o.CurrentConversation() != "conv-2" {
		t.Fatalf("after SetAgent: calls = %d, id = %q, want 2, conv-2", convCalls, o.CurrentConversation())
	}
}

func TestChatSupersededByNewTurn(t *testing.T) {
	f := newFakeADH()
	f.reply = []string{"Second reply is here."}
	f.block = func(text string) bool { return text == "first" }
	o := newTestOrchestrator(t, f, Config{})

	errc := make(chan error, 1)
	go func() {
		_, err := o.Chat(context.Background(), "first")
		errc <- err
	}()
	<-f.agentSeen

	if _, err := o.Chat(context.Background(), "second"); err != nil {
		t.Fatalf("Chat(second) error = %v", err)
	}
	select {
	case err := <-errc:
		if !errors.Is(err, turn.ErrSuperseded) {
			t.Fatalf("Chat(first) error = %v, want ErrSuperseded", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("superseded Chat did not return")
	}

	got := drainQueue(o.Queue())
	if len(got) != 1 || got[0] != "clip:Second reply is here." {
		t.Fatalf("queue = %q, want only the second reply", got)
	}
}

func TestAbortCancelsTurnAndStopsPlayback(t *testing.T) {
	f := newFakeADH()
	f.block = func(string) bool { return true }
	o := newTestOrchestrator(t, f, Config{})
	o.Queue().Enqueue([]byte("stale"))

	errc := make(chan error, 1)
	go func() {
		_, err := o.Chat(context.Background(), "hello")
		errc <- err
	}()
	<-f.agentSeen
	o.Abort()

	select {
	case err := <-errc:
		if !errors.Is(err, turn.ErrAborted) {
			t.Fatalf("Chat() error = %v, want ErrAborted", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("aborted Chat did not return")
	}
	if n := o.Queue().Len(); n != 0 {
		t.Fatalf("queue len = %d, want 0", n)
	}
}

func TestChatCallerCancellationAbortsTurn(t *testing.T) {
	f := newFakeADH()
	f.block = func(string) bool { return true }
	o := newTestOrchestrator(t, f, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := o.Chat(ctx, "hello")
		errc <- err
	}()
	<-f.agentSeen
	cancel()

	select {
	case err := <-errc:
		if !turn.IsCancellation(err) {
			t.Fatalf("Chat() error = %v, want cancellation", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("cancelled Chat did not return")
	}
}

func TestChatMuteSkipsSynthesis(t *testing.T) {
	f := newFakeADH()
	f.reply = []string{"A complete sentence."}
	o := newTestOrchestrator(t, f, Config{Mute: true})

	reply, err := o.Chat(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if reply.Text != "A complete sentence." || reply.Segments != 0 {
		t.Fatalf("reply = %+v, want text and no segments", reply)
	}
	if n := len(f.tts()); n != 0 {
		t.Fatalf("tts calls = %d, want 0", n)
	}
}

func TestChatRejectsEmptyText(t *testing.T) {
	f := newFakeADH()
	o := newTestOrchestrator(t, f, Config{})
	if _, err := o.Chat(context.Background(), "   "); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("Chat(blank) error = %v, want ErrEmptyText", err)
	}
	if o.Turns().Current() != nil {
		t.Fatalf("blank Chat started a turn")
	}
}

func TestChatPersistsRedactedRecords(t *testing.T) {
	f := newFakeADH()
	f.reply = []string{"Noted."}
	o := newTestOrchestrator(t, f, Config{})

	if _, err := o.Chat(context.Background(), "mail me at jane@example.com"); err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	records, err := o.History(context.Background(), "", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("len(History()) = %d, want 2", len(records))
	}
	human, assistant := records[0], records[1]
	if human.Role != memory.RoleHuman || !human.PIIRedacted || strings.Contains(human.Content, "jane@example.com") {
		t.Fatalf("human record = %+v, want redacted", human)
	}
	if assistant.Role != memory.RoleAssistant || assistant.Content != "Noted." || assistant.ConversationID != "conv-1" {
		t.Fatalf("assistant record = %+v", assistant)
	}
}

func TestListenRunsASRThenChat(t *testing.T) {
	f := newFakeADH()
	f.reply = []string{"It is noon."}
	o := newTestOrchestrator(t, f, Config{})

	reply, err := o.Listen(context.Background(), strings.NewReader("audio"), ASROptions{Format: "mp3"})
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	if reply.Query != "what time is it" || reply.Text != "It is noon." {
		t.Fatalf("reply = %+v", reply)
	}
	_, _, agentTexts, asr := f.calls()
	if asr[0].Format != "mp3" {
		t.Fatalf("asr format = %q, want mp3", asr[0].Format)
	}
	if agentTexts[0] != "what time is it" {
		t.Fatalf("agent text = %q", agentTexts[0])
	}

	if _, err := o.Listen(context.Background(), bytes.NewReader(nil), ASROptions{}); !errors.Is(err, ErrNoSpeech) {
		t.Fatalf("Listen(empty) error = %v, want ErrNoSpeech", err)
	}
}

func TestListenEmptyAudioKeepsLiveTurn(t *testing.T) {
	f := newFakeADH()
	o := newTestOrchestrator(t, f, Config{})
	live := o.Turns().Begin()
	o.Queue().Enqueue([]byte("pending"))

	if _, err := o.Listen(context.Background(), bytes.NewReader(nil), ASROptions{}); !errors.Is(err, ErrNoSpeech) {
		t.Fatalf("Listen(empty) error = %v, want ErrNoSpeech", err)
	}
	if cause := live.Cause(); cause != nil {
		t.Fatalf("live turn cause = %v, want nil", cause)
	}
	if !o.Turns().IsCurrent(live) {
		t.Fatalf("live turn is no longer current")
	}
	if n := o.Queue().Len(); n != 1 {
		t.Fatalf("queue len = %d, want 1", n)
	}
	if _, _, _, asr := f.calls(); len(asr) != 0 {
		t.Fatalf("asr calls = %d, want 0", len(asr))
	}
}

func TestStreamingChatEventStream(t *testing.T) {
	f := newFakeADH()
	f.sse = true
	f.reply = []string{"Hel", "lo"}
	o := newTestOrchestrator(t, f, Config{})

	var chunks []string
	ends := 0
	err := o.StreamingChat(context.Background(), "hi", "default", nil, func(i int, delta string) {
		if i != len(chunks) {
			t.Errorf("chunk index = %d, want %d", i, len(chunks))
		}
		chunks = append(chunks, delta)
	}, func(count int) {
		ends++
		if count != 2 {
			t.Errorf("onEnd count = %d, want 2", count)
		}
	})
	if err != nil {
		t.Fatalf("StreamingChat() error = %v", err)
	}
	if strings.Join(chunks, "") != "Hello" || ends != 1 {
		t.Fatalf("chunks = %q, ends = %d", chunks, ends)
	}
	if got := o.CurrentConversation(); got != "conv-sse" {
		t.Fatalf("CurrentConversation() = %q, want conv-sse", got)
	}
}

func TestStreamingChatTransportErrorSkipsOnEnd(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer ts.Close()
	client, _ := adhapi.NewClient(adhapi.Config{BaseURL: ts.URL, BasePath: adhapi.DefaultBasePath})
	o := New(Options{Client: client})

	ended := false
	err := o.StreamingChat(context.Background(), "hi", "default", nil, nil, func(int) { ended = true })
	if err == nil {
		t.Fatalf("StreamingChat() error = nil")
	}
	if ended {
		t.Fatalf("onEnd called after transport error")
	}
	if agents := o.Agents(context.Background()); agents == nil || len(agents) != 0 {
		t.Fatalf("Agents() = %v, want empty list", agents)
	}
	if err := o.StreamingChat(context.Background(), "  ", "default", nil, nil, nil); err != nil {
		t.Fatalf("StreamingChat(blank) error = %v", err)
	}
}
