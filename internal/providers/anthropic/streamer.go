package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/openraccoon/agent-runtime/internal/model"
	"github.com/openraccoon/agent-runtime/internal/telemetry"
)

// streamer adapts ssestream's pull-based iterator to model.Streamer's
// blocking Recv by running the pull loop on a goroutine that feeds a
// buffered channel.
type streamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *ssestream.Stream[sdk.MessageStreamEventUnion]

	events chan model.Event
	logger telemetry.Logger

	errMu    sync.Mutex
	errSet   bool
	finalErr error
}

func newStreamer(ctx context.Context, stream *ssestream.Stream[sdk.MessageStreamEventUnion], logger telemetry.Logger) model.Streamer {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	cctx, cancel := context.WithCancel(ctx)
	s := &streamer{
		ctx:    cctx,
		cancel: cancel,
		stream: stream,
		events: make(chan model.Event, 32),
		logger: logger,
	}
	go s.run()
	return s
}

func (s *streamer) Recv() (model.Event, error) {
	select {
	case ev, ok := <-s.events:
		if ok {
			return ev, nil
		}
		if err := s.err(); err != nil {
			return model.Event{}, err
		}
		return model.Event{}, io.EOF
	case <-s.ctx.Done():
		err := s.ctx.Err()
		s.setErr(err)
		return model.Event{}, err
	}
}

func (s *streamer) Close() error {
	s.cancel()
	if s.stream == nil {
		return nil
	}
	return s.stream.Close()
}

func (s *streamer) run() {
	defer close(s.events)
	defer func() {
		if s.stream != nil {
			_ = s.stream.Close()
		}
	}()

	proc := newChunkProcessor(s.ctx, s.emit, s.logger)

	for {
		select {
		case <-s.ctx.Done():
			s.setErr(s.ctx.Err())
			return
		default:
		}
		if !s.stream.Next() {
			if err := s.stream.Err(); err != nil {
				s.setErr(err)
			} else {
				s.setErr(nil)
				if ferr := proc.finalizePending(); ferr != nil {
					s.setErr(ferr)
				}
			}
			return
		}
		if err := proc.handle(s.stream.Current()); err != nil {
			s.setErr(err)
			return
		}
	}
}

func (s *streamer) emit(ev model.Event) error {
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	case s.events <- ev:
		return nil
	}
}

func (s *streamer) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.errSet {
		return
	}
	s.errSet = true
	s.finalErr = err
}

func (s *streamer) err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.finalErr
}

// toolBuffer accumulates the JSON fragments for one started tool_use block.
type toolBuffer struct {
	id        string
	name      string
	fragments []string
	emitted   bool
}

// chunkProcessor translates Anthropic Messages streaming events into the
// unified model.Event stream, per the block-delta adapter's translation
// rules. Tool buffers are tracked in insertion order (not by content block
// index) because deltas attach to "the most recently started pending
// tool", matching the reference implementation.
type chunkProcessor struct {
	ctx    context.Context
	emit   func(model.Event) error
	logger telemetry.Logger

	order   []*toolBuffer
	pending map[string]*toolBuffer

	stopReason string
	usage      model.Usage
}

func newChunkProcessor(ctx context.Context, emit func(model.Event) error, logger telemetry.Logger) *chunkProcessor {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &chunkProcessor{
		ctx:     ctx,
		emit:    emit,
		logger:  logger,
		pending: make(map[string]*toolBuffer),
	}
}

// finalInput parses tb's accumulated JSON fragments into the tool_use
// input map. Malformed JSON is logged and the tool_use is still emitted
// with an empty input map, per the block-delta recovery policy.
func (p *chunkProcessor) finalInput(tb *toolBuffer) map[string]any {
	joined := strings.Join(tb.fragments, "")
	if strings.TrimSpace(joined) == "" {
		return map[string]any{}
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(joined), &parsed); err != nil {
		p.logger.Warn(p.ctx, "dropping malformed tool call input, emitting empty input map",
			"tool_id", tb.id, "tool_name", tb.name, "err", err)
		return map[string]any{}
	}
	return parsed
}

func (p *chunkProcessor) handle(event sdk.MessageStreamEventUnion) error {
	switch ev := event.AsAny().(type) {
	case sdk.ContentBlockStartEvent:
		if toolUse, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
			tb := &toolBuffer{id: toolUse.ID, name: toolUse.Name}
			p.order = append(p.order, tb)
			p.pending[tb.id] = tb
			return p.emit(model.Event{Kind: model.KindToolUseStart, ToolID: tb.id, ToolName: tb.name})
		}
		return nil
	case sdk.ContentBlockDeltaEvent:
		switch delta := ev.Delta.AsAny().(type) {
		case sdk.TextDelta:
			if delta.Text == "" {
				return nil
			}
			return p.emit(model.Event{Kind: model.KindToken, Text: delta.Text})
		case sdk.InputJSONDelta:
			if delta.PartialJSON == "" {
				return nil
			}
			if len(p.order) > 0 {
				last := p.order[len(p.order)-1]
				last.fragments = append(last.fragments, delta.PartialJSON)
			}
			return p.emit(model.Event{Kind: model.KindToolInputDelta, Text: delta.PartialJSON})
		default:
			return nil
		}
	case sdk.ContentBlockStopEvent:
		for _, tb := range p.order {
			if tb.emitted {
				continue
			}
			tb.emitted = true
			if err := p.emit(model.Event{Kind: model.KindToolUse, ToolID: tb.id, ToolName: tb.name, ToolInput: p.finalInput(tb)}); err != nil {
				return err
			}
		}
		return nil
	case sdk.MessageDeltaEvent:
		p.stopReason = string(ev.Delta.StopReason)
		p.usage = model.Usage{
			PromptTokens:     int(ev.Usage.InputTokens),
			CompletionTokens: int(ev.Usage.OutputTokens),
			TotalTokens:      int(ev.Usage.InputTokens + ev.Usage.OutputTokens),
		}
		return nil
	case sdk.MessageStopEvent:
		return p.emit(model.Event{Kind: model.KindComplete, Usage: p.usage, StopReason: p.stopReason})
	default:
		return nil
	}
}

// finalizePending emits any tool_use block that never received a
// content_block_stop before the stream ended (the Messages protocol always
// sends one, but a truncated or synthetic stream might not). This mirrors
// the reference implementation's final-message sweep without depending on
// a second round-trip to the vendor.
func (p *chunkProcessor) finalizePending() error {
	for _, tb := range p.order {
		if tb.emitted {
			continue
		}
		tb.emitted = true
		if err := p.emit(model.Event{Kind: model.KindToolUse, ToolID: tb.id, ToolName: tb.name, ToolInput: p.finalInput(tb)}); err != nil {
			return err
		}
	}
	return nil
}
