package openai

import (
	"context"
	"encoding/json"
	"io"
	"sort"
	"sync"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/openraccoon/agent-runtime/internal/model"
	"github.com/openraccoon/agent-runtime/internal/telemetry"
)

// streamer adapts ssestream's pull-based chunk iterator to model.Streamer's
// blocking Recv, mirroring the block-delta adapter's goroutine/channel shape
// so both provider packages read the same way.
type streamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *ssestream.Stream[openai.ChatCompletionChunk]

	events chan model.Event
	logger telemetry.Logger

	errMu    sync.Mutex
	errSet   bool
	finalErr error
}

func newStreamer(ctx context.Context, stream *ssestream.Stream[openai.ChatCompletionChunk], logger telemetry.Logger) model.Streamer {
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
				if ferr := proc.finish(); ferr != nil {
					s.setErr(ferr)
				}
			}
			return
		}
		proc.handle(s.stream.Current())
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

// toolCallBuffer accumulates one index-keyed tool_calls entry across deltas.
type toolCallBuffer struct {
	id        string
	name      string
	arguments string
}

// chunkProcessor translates OpenAI Chat Completions streaming chunks into
// the unified model.Event stream, per the choice-delta adapter's
// translation rules.
type chunkProcessor struct {
	ctx    context.Context
	emit   func(model.Event) error
	logger telemetry.Logger

	byIndex map[int64]*toolCallBuffer

	usage      model.Usage
	finishRead string
}

func newChunkProcessor(ctx context.Context, emit func(model.Event) error, logger telemetry.Logger) *chunkProcessor {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &chunkProcessor{ctx: ctx, emit: emit, logger: logger, byIndex: make(map[int64]*toolCallBuffer)}
}

func (p *chunkProcessor) handle(chunk openai.ChatCompletionChunk) {
	if chunk.Usage.TotalTokens != 0 || chunk.Usage.PromptTokens != 0 || chunk.Usage.CompletionTokens != 0 {
		p.usage = model.Usage{
			PromptTokens:     int(chunk.Usage.PromptTokens),
			CompletionTokens: int(chunk.Usage.CompletionTokens),
			TotalTokens:      int(chunk.Usage.TotalTokens),
		}
	}

	if len(chunk.Choices) == 0 {
		return
	}
	choice := chunk.Choices[0]

	if choice.FinishReason != "" {
		p.finishRead = choice.FinishReason
	}

	if choice.Delta.Content != "" {
		_ = p.emit(model.Event{Kind: model.KindToken, Text: choice.Delta.Content})
	}

	for _, tc := range choice.Delta.ToolCalls {
		buf, ok := p.byIndex[tc.Index]
		if !ok {
			buf = &toolCallBuffer{}
			p.byIndex[tc.Index] = buf
		}
		if tc.ID != "" {
			buf.id = tc.ID
		}
		if tc.Function.Name != "" {
			buf.name = tc.Function.Name
		}
		if tc.Function.Arguments != "" {
			buf.arguments += tc.Function.Arguments
		}
	}
}

// finish assembles and emits every accumulated tool call, in ascending
// index order, then the terminal complete event. A tool call missing an id
// or name, or carrying a malformed arguments payload, is logged and
// dropped per the choice-delta recovery policy — never synthesized as an
// empty-input call.
func (p *chunkProcessor) finish() error {
	indices := make([]int64, 0, len(p.byIndex))
	for idx := range p.byIndex {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	for _, idx := range indices {
		buf := p.byIndex[idx]
		if buf.id == "" || buf.name == "" {
			p.logger.Warn(p.ctx, "dropping incomplete tool call: missing id or name",
				"index", idx, "tool_id", buf.id, "tool_name", buf.name)
			continue
		}
		input := map[string]any{}
		if buf.arguments != "" {
			if err := json.Unmarshal([]byte(buf.arguments), &input); err != nil {
				p.logger.Warn(p.ctx, "dropping tool call: malformed arguments JSON",
					"tool_id", buf.id, "tool_name", buf.name, "err", err)
				continue
			}
		}
		if err := p.emit(model.Event{Kind: model.KindToolUse, ToolID: buf.id, ToolName: buf.name, ToolInput: input}); err != nil {
			return err
		}
	}

	return p.emit(model.Event{Kind: model.KindComplete, Usage: p.usage, StopReason: mapFinishReason(p.finishRead)})
}

func mapFinishReason(reason string) string {
	switch reason {
	case "stop":
		return "end_turn"
	case "length":
		return "max_tokens"
	case "tool_calls":
		return "tool_use"
	case "content_filter":
		return "content_filter"
	case "":
		return ""
	default:
		return reason
	}
}
