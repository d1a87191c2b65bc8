package streamdec

import (
	"context"
	"io"
	"strings"
	"testing"
)

func TestDecodeEventsDispatchesBlocks(t *testing.T) {
	stream := strings.Join([]string{
		": keepalive",
		"",
		"event: CONVERSATION_ID",
		"data: conv-1",
		"",
		"event: TEXT",
		"data: Hel",
		"",
		"event: TEXT",
		"data: lo",
		"data: there",
		"",
		"data: untyped",
		"",
		"event: DONE",
		"data: ok",
		"",
	}, "\n")

	var got []Event
	err := DecodeEvents(context.Background(), io.NopCloser(strings.NewReader(stream)), func(ev Event) error {
		got = append(got, ev)
		return nil
	})
	if err != nil {
		t.Fatalf("DecodeEvents() error = %v", err)
	}
	want := []Event{
		{Type: EventConversationID, Data: "conv-1"},
		{Type: EventText, Data: "Hel"},
		{Type: EventText, Data: "lo\nthere"},
		{Type: EventText, Data: "untyped"},
		{Type: EventDone, Data: "ok"},
	}
	if len(got) != len(want) {
		t.Fatalf("len(events) = %d, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
	if !got[4].Terminal() || got[1].Terminal() {
		t.Fatalf("Terminal() classification mismatch")
	}
}

func TestDecodeEventsStopAndTrailingBlock(t *testing.T) {
	stream := "event: TEXT\ndata: a\n\nevent: DONE\ndata: \n\nevent: TEXT\ndata: ignored\n\n"
	var got []Event
	err := DecodeEvents(context.Background(), io.NopCloser(strings.NewReader(stream)), func(ev Event) error {
		got = append(got, ev)
		if ev.Terminal() {
			return ErrStop
		}
		return nil
	})
	if err != nil {
		t.Fatalf("DecodeEvents() error = %v", err)
	}
	if len(got) != 2 || got[1].Type != EventDone {
		t.Fatalf("events = %+v, want TEXT then DONE", got)
	}

	got = got[:0]
	err = DecodeEvents(context.Background(), io.NopCloser(strings.NewReader("event: TEXT\ndata: tail")), func(ev Event) error {
		got = append(got, ev)
		return nil
	})
	if err != nil {
		t.Fatalf("DecodeEvents() error = %v", err)
	}
	if len(got) != 1 || got[0].Data != "tail" {
		t.Fatalf("events = %+v, want trailing block dispatched", got)
	}
}
