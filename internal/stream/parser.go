// Package stream decodes the newline-delimited JSON protocol emitted by
// Claude CLI in stream-json output mode. Chunks arrive with arbitrary
// boundaries; the parser buffers at most one unterminated line and drops
// anything that does not parse as JSON (the CLI mixes diagnostic text into
// stdout on some platforms).
package stream

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Kind discriminates parsed records.
type Kind int

const (
	// KindUnknown covers records the lifecycle layer has no use for
	// (system/init, user echoes, partial stream events).
	KindUnknown Kind = iota

	// KindTurnUpdate is an assistant message carrying optional usage
	// counters and text content blocks.
	KindTurnUpdate

	// KindTerminalResult is the final summary record of an invocation.
	KindTerminalResult
)

// Usage mirrors the CLI's usage sub-object. Counters are cumulative
// snapshots per record, not deltas.
type Usage struct {
	InputTokens              int `json:"input_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	OutputTokens             int `json:"output_tokens"`
}

// ContextTokens returns the context size implied by this snapshot:
// fresh input + cache writes + cache reads.
func (u Usage) ContextTokens() int {
	return u.InputTokens + u.CacheCreationInputTokens + u.CacheReadInputTokens
}

// ContentBlock is one typed content element in an assistant message.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// TurnUpdate is an in-flight assistant record.
type TurnUpdate struct {
	Usage *Usage
	// Text is the last text block in the record, kept as a fallback
	// response in case the terminal record carries none.
	Text string
}

// TerminalResult is the authoritative end-of-invocation summary.
type TerminalResult struct {
	Subtype      string
	IsError      bool
	Response     string
	SessionID    string
	TotalCostUSD float64
	NumTurns     int
	Usage        *Usage
}

// Record is the closed union of parsed line types.
type Record struct {
	Kind   Kind
	Update *TurnUpdate
	Result *TerminalResult
}

// wireMessage is the superset of fields we read off any line.
type wireMessage struct {
	Type      string           `json:"type"`
	Subtype   string           `json:"subtype"`
	IsError   bool             `json:"is_error"`
	SessionID string           `json:"session_id"`
	Result    json.RawMessage  `json:"result"`
	CostUSD   float64          `json:"total_cost_usd"`
	NumTurns  int              `json:"num_turns"`
	Usage     *Usage           `json:"usage"`
	Message   *wireTurnMessage `json:"message"`
}

type wireTurnMessage struct {
	Content []ContentBlock `json:"content"`
	Usage   *Usage         `json:"usage"`
}

// Parser incrementally splits a byte stream into parsed records. Not safe
// for concurrent use; the launcher owns one per invocation.
type Parser struct {
	pending []byte
}

// NewParser returns an empty parser.
func NewParser() *Parser {
	return &Parser{}
}

// Feed appends a chunk and returns all records completed by it, in order.
func (p *Parser) Feed(chunk []byte) []Record {
	p.pending = append(p.pending, chunk...)

	var records []Record
	for {
		idx := bytes.IndexByte(p.pending, '\n')
		if idx < 0 {
			break
		}
		line := p.pending[:idx]
		p.pending = p.pending[idx+1:]
		if rec, ok := parseLine(line); ok {
			records = append(records, rec)
		}
	}
	return records
}

// Flush parses any trailing unterminated line. Call once at end of stream.
func (p *Parser) Flush() []Record {
	line := p.pending
	p.pending = nil
	if rec, ok := parseLine(line); ok {
		return []Record{rec}
	}
	return nil
}

func parseLine(line []byte) (Record, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] != '{' {
		return Record{}, false
	}

	var msg wireMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		// Diagnostic noise from the CLI, not protocol data.
		return Record{}, false
	}

	switch msg.Type {
	case "assistant":
		upd := &TurnUpdate{}
		if msg.Message != nil {
			upd.Usage = msg.Message.Usage
			for _, block := range msg.Message.Content {
				if block.Type == "text" && block.Text != "" {
					upd.Text = block.Text
				}
			}
		}
		return Record{Kind: KindTurnUpdate, Update: upd}, true

	case "result":
		res := &TerminalResult{
			Subtype:      msg.Subtype,
			IsError:      msg.IsError,
			Response:     decodeResultText(msg.Result),
			SessionID:    msg.SessionID,
			TotalCostUSD: msg.CostUSD,
			NumTurns:     msg.NumTurns,
			Usage:        msg.Usage,
		}
		return Record{Kind: KindTerminalResult, Result: res}, true

	default:
		return Record{Kind: KindUnknown}, true
	}
}

// decodeResultText handles both forms the CLI has used for the result
// field: a plain string, or an array of typed content blocks whose
// text-typed entries are joined with newlines.
func decodeResultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var blocks []ContentBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var parts []string
		for _, block := range blocks {
			if block.Type == "text" {
				parts = append(parts, block.Text)
			}
		}
		return strings.Join(parts, "\n")
	}

	return ""
}
