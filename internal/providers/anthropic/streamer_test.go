package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/openraccoon/agent-runtime/internal/model"
	"github.com/openraccoon/agent-runtime/internal/telemetry"
)

// fakeDecoder feeds a fixed sequence of SSE-shaped events to ssestream.Stream,
// the same harness the teacher's own adapter tests use.
type fakeDecoder struct {
	events []ssestream.Event
	i      int
	err    error
}

func (d *fakeDecoder) Event() ssestream.Event { return d.events[d.i-1] }

func (d *fakeDecoder) Next() bool {
	if d.err != nil || d.i >= len(d.events) {
		return false
	}
	d.i++
	return true
}

func (d *fakeDecoder) Close() error { return nil }
func (d *fakeDecoder) Err() error   { return d.err }

func mustEvent(t *testing.T, typ string, raw string) ssestream.Event {
	t.Helper()
	var ev sdk.MessageStreamEventUnion
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		t.Fatalf("unmarshal %s: %v", typ, err)
	}
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal %s: %v", typ, err)
	}
	return ssestream.Event{Type: typ, Data: data}
}

func TestStreamerTextThenToolUse(t *testing.T) {
	events := []ssestream.Event{
		mustEvent(t, "content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"hi"}}`),
		mustEvent(t, "content_block_start", `{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"t1","name":"search"}}`),
		mustEvent(t, "content_block_delta", `{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"q\":\"x\"}"}}`),
		mustEvent(t, "content_block_stop", `{"type":"content_block_stop","index":1}`),
		mustEvent(t, "message_delta", `{"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"input_tokens":5,"output_tokens":7}}`),
		mustEvent(t, "message_stop", `{"type":"message_stop"}`),
	}

	dec := &fakeDecoder{events: events}
	stream := ssestream.NewStream[sdk.MessageStreamEventUnion](dec, nil)
	s := newStreamer(context.Background(), stream, telemetry.NewNoopLogger())
	defer func() { _ = s.Close() }()

	var got []model.Event
	for {
		ev, err := s.Recv()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				t.Fatalf("unexpected Recv error: %v", err)
			}
			break
		}
		got = append(got, ev)
	}

	var sawToken, sawToolUse, sawComplete bool
	for _, ev := range got {
		switch ev.Kind {
		case model.KindToken:
			sawToken = true
			if ev.Text != "hi" {
				t.Fatalf("unexpected token text %q", ev.Text)
			}
		case model.KindToolUse:
			sawToolUse = true
			if ev.ToolID != "t1" || ev.ToolName != "search" {
				t.Fatalf("unexpected tool use %+v", ev)
			}
			if ev.ToolInput["q"] != "x" {
				t.Fatalf("unexpected tool input %+v", ev.ToolInput)
			}
		case model.KindComplete:
			sawComplete = true
			if ev.Usage.TotalTokens != 12 {
				t.Fatalf("unexpected total tokens %d", ev.Usage.TotalTokens)
			}
		}
	}
	if !sawToken || !sawToolUse || !sawComplete {
		t.Fatalf("missing expected event kinds: %+v", got)
	}
}

func TestStreamerMalformedToolJSONEmitsEmptyInput(t *testing.T) {
	events := []ssestream.Event{
		mustEvent(t, "content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"t1","name":"search"}}`),
		mustEvent(t, "content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"not-json"}}`),
		mustEvent(t, "content_block_stop", `{"type":"content_block_stop","index":0}`),
		mustEvent(t, "message_stop", `{"type":"message_stop"}`),
	}
	dec := &fakeDecoder{events: events}
	stream := ssestream.NewStream[sdk.MessageStreamEventUnion](dec, nil)
	s := newStreamer(context.Background(), stream, telemetry.NewNoopLogger())
	defer func() { _ = s.Close() }()

	for {
		ev, err := s.Recv()
		if err != nil {
			break
		}
		if ev.Kind == model.KindToolUse {
			if len(ev.ToolInput) != 0 {
				t.Fatalf("expected empty input for malformed JSON, got %+v", ev.ToolInput)
			}
		}
	}
}
