package avatar

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/sentio/internal/protocol"
)

type recordingInput struct {
	mu        sync.Mutex
	texts     []string
	interrupt int
	got       chan struct{}
}

func newRecordingInput() *recordingInput {
	return &recordingInput{got: make(chan struct{}, 8)}
}

func (r *recordingInput) SubmitText(text string) {
	r.mu.Lock()
	r.texts = append(r.texts, text)
	r.mu.Unlock()
	r.got <- struct{}{}
}

func (r *recordingInput) Interrupt() {
	r.mu.Lock()
	r.interrupt++
	r.mu.Unlock()
	r.got <- struct{}{}
}

func dialHub(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	return out
}

func waitClients(t *testing.T, h *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Clients() != want {
		if time.Now().After(deadline) {
			t.Fatalf("Clients() = %d, want %d", h.Clients(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubSendsCurrentCharacterOnConnect(t *testing.T) {
	h := NewHub(HubOptions{})
	conn := dialHub(t, h)

	msg := readMessage(t, conn)
	if msg["type"] != string(protocol.TypeCharacter) || msg["character_id"] != DefaultCharacter {
		t.Fatalf("first message = %v, want character %s", msg, DefaultCharacter)
	}
}

func TestHubBroadcastsLipSyncOnce(t *testing.T) {
	h := NewHub(HubOptions{})
	conn := dialHub(t, h)
	readMessage(t, conn)
	waitClients(t, h, 1)

	h.SetLipSyncWeight(0.5)
	h.SetLipSyncWeight(0.5)
	h.SetLipSyncWeight(0)

	first := readMessage(t, conn)
	if first["type"] != string(protocol.TypeLipSync) || first["weight"] != 0.5 {
		t.Fatalf("message = %v, want lip_sync 0.5", first)
	}
	second := readMessage(t, conn)
	if second["weight"] != float64(0) {
		t.Fatalf("message = %v, want lip_sync 0", second)
	}
}

func TestHubDispatchesClientInput(t *testing.T) {
	h := NewHub(HubOptions{})
	in := newRecordingInput()
	h.SetInput(in)
	conn := dialHub(t, h)
	readMessage(t, conn)

	for _, raw := range []string{
		`{"type":"text_input","text":"hi"}`,
		`{"type":"interrupt"}`,
	} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
			t.Fatalf("WriteMessage() error = %v", err)
		}
		select {
		case <-in.got:
		case <-time.After(2 * time.Second):
			t.Fatalf("input handler not called for %s", raw)
		}
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	if len(in.texts) != 1 || in.texts[0] != "hi" || in.interrupt != 1 {
		t.Fatalf("input = %v / %d, want [hi] / 1", in.texts, in.interrupt)
	}
}

func TestHubChangeCharacter(t *testing.T) {
	h := NewHub(HubOptions{})
	conn := dialHub(t, h)
	readMessage(t, conn)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"change_character","character_id":"Nobody"}`)); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	msg := readMessage(t, conn)
	if msg["type"] != string(protocol.TypeErrorEvent) || msg["code"] != "unknown_character" {
		t.Fatalf("message = %v, want unknown_character error", msg)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"change_character","character_id":"Kei"}`)); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	msg = readMessage(t, conn)
	if msg["type"] != string(protocol.TypeCharacter) || msg["character_id"] != "Kei" {
		t.Fatalf("message = %v, want character Kei", msg)
	}
	if got, _ := h.Character(); got != "Kei" {
		t.Fatalf("Character() = %q, want Kei", got)
	}
}

func TestHubInvalidMessageGetsErrorEvent(t *testing.T) {
	h := NewHub(HubOptions{})
	conn := dialHub(t, h)
	readMessage(t, conn)

	_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"wat"}`))
	msg := readMessage(t, conn)
	if msg["code"] != "invalid_client_message" {
		t.Fatalf("message = %v, want invalid_client_message", msg)
	}
}

func TestHubUnregistersOnDisconnect(t *testing.T) {
	h := NewHub(HubOptions{})
	conn := dialHub(t, h)
	readMessage(t, conn)
	waitClients(t, h, 1)

	_ = conn.Close()
	waitClients(t, h, 0)
	h.SetLipSyncWeight(1)
}

func TestChangeCharacterUnknown(t *testing.T) {
	h := NewHub(HubOptions{})
	if err := h.ChangeCharacter("nope"); !errors.Is(err, ErrUnknownResource) {
		t.Fatalf("ChangeCharacter() error = %v, want ErrUnknownResource", err)
	}
	if err := h.ChangeBackground("static/简约.jpg"); err != nil {
		t.Fatalf("ChangeBackground() error = %v", err)
	}
	if _, bg := h.Character(); bg != "static/简约.jpg" {
		t.Fatalf("background = %q, want static/简约.jpg", bg)
	}
}

func TestDefaultCatalogs(t *testing.T) {
	chars := DefaultCharacters()
	if len(chars) != 12 || chars[0].ID != DefaultCharacter {
		t.Fatalf("DefaultCharacters() = %d entries, first %q", len(chars), chars[0].ID)
	}
	if chars[0].Link != "sentio/characters/free/HaruGreeter/HaruGreeter.png" {
		t.Fatalf("Link = %q", chars[0].Link)
	}
	bgs := DefaultBackgrounds()
	if len(bgs) != 14 {
		t.Fatalf("len(DefaultBackgrounds()) = %d, want 14", len(bgs))
	}
	if bgs[7].Kind != "DYNAMIC" || bgs[7].Name != "太空站" {
		t.Fatalf("bgs[7] = %+v, want dynamic 太空站", bgs[7])
	}
}

func TestSameOrigin(t *testing.T) {
	cases := []struct {
		origin string
		any    bool
		want   bool
	}{
		{"", false, true},
		{"http://host.local", false, true},
		{"https://evil.example", false, false},
		{"https://evil.example", true, true},
		{"file://x", false, false},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(http.MethodGet, "http://host.local/v1/avatar/ws", nil)
		if tc.origin != "" {
			r.Header.Set("Origin", tc.origin)
		}
		if got := sameOrigin(r, tc.any); got != tc.want {
			t.Fatalf("sameOrigin(%q, %v) = %v, want %v", tc.origin, tc.any, got, tc.want)
		}
	}
}
