package orchestrator

import (
	"strings"

	"github.com/openraccoon/agent-runtime/internal/model"
)

// codeBlockParser detects triple-backtick fenced code blocks in a stream
// of text fragments, tolerant of a fence split across fragment
// boundaries. It mirrors the reference implementation's buffer-and-split
// approach exactly: each fed fragment is checked for a fence transition
// once, not looped until the buffer is fence-free. If a fence never
// closes, the buffered content is never emitted as a code_block; it
// still reaches the caller as ordinary tokens.
type codeBlockParser struct {
	buffer      string
	inCodeBlock bool
	language    string
}

func newCodeBlockParser() *codeBlockParser {
	return &codeBlockParser{}
}

const fence = "```"

// feed appends text to the parser's buffer and returns a code_block event
// if this fragment completed one. Tokens are always emitted by the
// caller regardless of this return value — the code_block event is an
// additional, structured observation layered on top of the raw tokens.
func (p *codeBlockParser) feed(text string) *model.TurnEvent {
	p.buffer += text

	switch {
	case strings.Contains(p.buffer, fence) && !p.inCodeBlock:
		parts := strings.SplitN(p.buffer, fence, 2)
		if len(parts) < 2 {
			return nil
		}
		langLine := strings.SplitN(parts[1], "\n", 2)
		language := strings.TrimSpace(langLine[0])
		if language == "" {
			language = "text"
		}
		p.language = language
		p.inCodeBlock = true
		if len(langLine) > 1 {
			p.buffer = langLine[1]
		} else {
			p.buffer = ""
		}
		return nil

	case strings.Contains(p.buffer, fence) && p.inCodeBlock:
		parts := strings.SplitN(p.buffer, fence, 2)
		code := parts[0]
		remaining := ""
		if len(parts) > 1 {
			remaining = parts[1]
		}
		ev := model.TurnEvent{Kind: model.TurnCodeBlock, Language: p.language, Code: code, Filename: ""}
		p.inCodeBlock = false
		p.buffer = remaining
		return &ev

	default:
		return nil
	}
}
