// Package ingest defines the lifecycle events a host agent runtime emits
// around tool invocations, and decodes them from JSON.
package ingest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"
)

// Kind is the lifecycle signal type.
type Kind string

const (
	KindBeforeToolCall    Kind = "before_tool_call"
	KindAfterToolCall     Kind = "after_tool_call"
	KindToolResultPersist Kind = "tool_result_persist"
)

// maxLineSize bounds a single JSONL event on the stream reader.
const maxLineSize = 4 * 1024 * 1024

var (
	ErrUnknownKind = errors.New("ingest: unknown event kind")
	ErrMissingTool = errors.New("ingest: tool name is required")
)

// Event is one lifecycle signal for a tool invocation. Params are raw and
// must be sanitized before they are stored or published.
type Event struct {
	Kind       Kind           `json:"kind"`
	SessionKey string         `json:"sessionKey,omitempty"`
	SessionID  string         `json:"sessionId,omitempty"`
	AgentID    string         `json:"agentId,omitempty"`
	ToolName   string         `json:"toolName"`
	ToolCallID string         `json:"toolCallId,omitempty"`
	Params     map[string]any `json:"params,omitempty"`
	DurationMs *int64         `json:"durationMs,omitempty"`
	Error      string         `json:"error,omitempty"`
	IsError    bool           `json:"isError,omitempty"`
	Timestamp  time.Time      `json:"timestamp,omitzero"`
}

// Failed reports whether the invocation ended in an error.
func (e *Event) Failed() bool {
	return e.IsError || e.Error != ""
}

// wireEvent tolerates the looser shapes hosts send: fractional durations
// and structured error values.
type wireEvent struct {
	Kind       Kind            `json:"kind"`
	SessionKey string          `json:"sessionKey"`
	SessionID  string          `json:"sessionId"`
	AgentID    string          `json:"agentId"`
	ToolName   string          `json:"toolName"`
	ToolCallID string          `json:"toolCallId"`
	Params     map[string]any  `json:"params"`
	DurationMs *json.Number    `json:"durationMs"`
	Error      json.RawMessage `json:"error"`
	IsError    bool            `json:"isError"`
	Timestamp  *time.Time      `json:"timestamp"`
}

// Decode parses a single JSON event from r.
func Decode(r io.Reader) (*Event, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var w wireEvent
	if err := dec.Decode(&w); err != nil {
		return nil, fmt.Errorf("ingest: decode event: %w", err)
	}
	return w.event()
}

// DecodeBytes parses a single JSON event.
func DecodeBytes(data []byte) (*Event, error) {
	return Decode(bytes.NewReader(data))
}

func (w *wireEvent) event() (*Event, error) {
	ev := &Event{
		Kind:       Kind(strings.TrimSpace(string(w.Kind))),
		SessionKey: w.SessionKey,
		SessionID:  w.SessionID,
		AgentID:    w.AgentID,
		ToolName:   strings.TrimSpace(w.ToolName),
		ToolCallID: w.ToolCallID,
		Params:     w.Params,
		Error:      errorText(w.Error),
		IsError:    w.IsError,
	}
	if w.Timestamp != nil {
		ev.Timestamp = w.Timestamp.UTC()
	}
	if w.DurationMs != nil {
		d, err := durationMillis(*w.DurationMs)
		if err != nil {
			return nil, err
		}
		ev.DurationMs = &d
	}
	return ev, nil
}

func durationMillis(n json.Number) (int64, error) {
	if i, err := n.Int64(); err == nil {
		return i, nil
	}
	f, err := n.Float64()
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("ingest: invalid durationMs %q", n.String())
	}
	return int64(math.Round(f)), nil
}

// errorText turns a JSON error value into text. Strings are used as-is;
// objects contribute their "message" field or their compact JSON.
func errorText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) || bytes.Equal(raw, []byte("false")) {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	var b bytes.Buffer
	if err := json.Compact(&b, raw); err != nil {
		return string(raw)
	}
	return b.String()
}

// Validate checks that an event has a known kind and a tool name.
func Validate(e *Event) error {
	switch e.Kind {
	case KindBeforeToolCall, KindAfterToolCall, KindToolResultPersist:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, e.Kind)
	}
	if e.ToolName == "" {
		return ErrMissingTool
	}
	return nil
}

// Scan reads newline-delimited events from r and calls fn for each
// non-empty line with the decoded event or the decode/validation error.
// Scan stops when fn returns an error.
func Scan(r io.Reader, fn func(lineNo int, ev *Event, err error) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		ev, err := DecodeBytes(line)
		if err == nil {
			err = Validate(ev)
		}
		if cbErr := fn(lineNo, ev, err); cbErr != nil {
			return cbErr
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("ingest: read events: %w", err)
	}
	return nil
}
