package streamdec

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// EventType names the server-sent event kinds emitted by the agent endpoint.
type EventType string

const (
	EventConversationID EventType = "CONVERSATION_ID"
	EventMessageID      EventType = "MESSAGE_ID"
	EventThink          EventType = "THINK"
	EventText           EventType = "TEXT"
	EventTask           EventType = "TASK"
	EventDone           EventType = "DONE"
	EventError          EventType = "ERROR"
)

type Event struct {
	Type EventType
	Data string
}

// Terminal reports whether the event closes the agent reply.
func (e Event) Terminal() bool {
	switch e.Type {
	case EventDone, EventError, EventTask:
		return true
	default:
		return false
	}
}

// ErrStop may be returned by an EventFunc to stop reading without error.
var ErrStop = errors.New("stop event stream")

type EventFunc func(Event) error

// DecodeEvents reads a text/event-stream body and dispatches one Event per
// blank-line terminated block. Comment lines and blocks without data are
// skipped. Multiple data lines are joined with "\n". body is always closed.
func DecodeEvents(ctx context.Context, body io.ReadCloser, onEvent EventFunc) error {
	if body == nil {
		return errors.New("nil stream body")
	}
	defer body.Close()

	scanner := bufio.NewScanner(transform.NewReader(body, unicode.UTF8.NewDecoder()))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var (
		eventType string
		data      []string
	)
	dispatch := func() error {
		defer func() {
			eventType = ""
			data = data[:0]
		}()
		if len(data) == 0 {
			return nil
		}
		ev := Event{Type: EventType(eventType), Data: strings.Join(data, "\n")}
		if ev.Type == "" {
			ev.Type = EventText
		}
		if onEvent == nil {
			return nil
		}
		return onEvent(ev)
	}

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			if err := dispatch(); err != nil {
				if errors.Is(err, ErrStop) {
					return nil
				}
				return err
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			eventType = strings.TrimSpace(value)
		case "data":
			data = append(data, value)
		}
	}
	if err := scanner.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("event stream read: %w", err)
	}
	if err := dispatch(); err != nil && !errors.Is(err, ErrStop) {
		return err
	}
	return nil
}
