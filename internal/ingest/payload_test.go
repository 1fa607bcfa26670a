package ingest

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDecodeFullEvent(t *testing.T) {
	ev, err := DecodeBytes([]byte(`{
		"kind": "tool_result_persist",
		"sessionKey": "agent:main:main",
		"sessionId": "id-1",
		"agentId": "main",
		"toolName": "exec",
		"toolCallId": "call-9",
		"params": {"command": "ls -la", "timeout": 30},
		"durationMs": 42,
		"timestamp": "2026-01-02T03:04:05Z"
	}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := Validate(ev); err != nil {
		t.Fatalf("validate: %v", err)
	}

	if ev.Kind != KindToolResultPersist || ev.ToolName != "exec" || ev.ToolCallID != "call-9" {
		t.Errorf("unexpected event: %+v", ev)
	}
	if ev.DurationMs == nil || *ev.DurationMs != 42 {
		t.Errorf("expected durationMs 42, got %v", ev.DurationMs)
	}
	if ev.Params["timeout"] != json.Number("30") {
		t.Errorf("numbers should be preserved as json.Number, got %T", ev.Params["timeout"])
	}
	if !ev.Timestamp.Equal(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Errorf("unexpected timestamp %v", ev.Timestamp)
	}
	if ev.Failed() {
		t.Error("event without error should not be failed")
	}
}

func TestDecodeLooseShapes(t *testing.T) {
	ev, err := DecodeBytes([]byte(`{"kind":"after_tool_call","toolName":"read","durationMs":12.6,"error":{"message":"ENOENT","code":2}}`))
	if err != nil {
		t.Fatal(err)
	}
	if *ev.DurationMs != 13 {
		t.Errorf("expected rounded duration 13, got %d", *ev.DurationMs)
	}
	if ev.Error != "ENOENT" || !ev.Failed() {
		t.Errorf("expected error message, got %q", ev.Error)
	}

	ev, err = DecodeBytes([]byte(`{"kind":"after_tool_call","toolName":"read","error":[1,2]}`))
	if err != nil {
		t.Fatal(err)
	}
	if ev.Error != "[1,2]" {
		t.Errorf("expected compact json error, got %q", ev.Error)
	}

	ev, err = DecodeBytes([]byte(`{"kind":"after_tool_call","toolName":"read","error":null,"isError":true}`))
	if err != nil {
		t.Fatal(err)
	}
	if ev.Error != "" || !ev.Failed() {
		t.Errorf("isError alone should mark failure, got %+v", ev)
	}
}

func TestDecodeRejectsBadInput(t *testing.T) {
	if _, err := DecodeBytes([]byte(`not json`)); err == nil {
		t.Error("expected decode error")
	}
	if _, err := DecodeBytes([]byte(`{"kind":"before_tool_call","toolName":"x","durationMs":"abc"}`)); err == nil {
		t.Error("expected invalid duration error")
	}
}

func TestValidate(t *testing.T) {
	if err := Validate(&Event{Kind: "started", ToolName: "x"}); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("expected ErrUnknownKind, got %v", err)
	}
	if err := Validate(&Event{Kind: KindBeforeToolCall}); !errors.Is(err, ErrMissingTool) {
		t.Errorf("expected ErrMissingTool, got %v", err)
	}
	if err := Validate(&Event{Kind: KindAfterToolCall, ToolName: "exec"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestScanReportsPerLine(t *testing.T) {
	input := strings.Join([]string{
		`{"kind":"before_tool_call","toolName":"exec","params":{"command":"ls"}}`,
		``,
		`garbage`,
		`{"kind":"tool_result_persist","toolName":"exec"}`,
		`{"kind":"nope","toolName":"exec"}`,
	}, "\n")

	var good, bad []int
	err := Scan(strings.NewReader(input), func(lineNo int, ev *Event, err error) error {
		if err != nil {
			bad = append(bad, lineNo)
			return nil
		}
		good = append(good, lineNo)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(good) != 2 || good[0] != 1 || good[1] != 4 {
		t.Errorf("unexpected good lines %v", good)
	}
	if len(bad) != 2 || bad[0] != 3 || bad[1] != 5 {
		t.Errorf("unexpected bad lines %v", bad)
	}
}

func TestScanStopsOnCallbackError(t *testing.T) {
	stop := errors.New("stop")
	n := 0
	err := Scan(strings.NewReader("{}\n{}\n{}\n"), func(int, *Event, error) error {
		n++
		return stop
	})
	if !errors.Is(err, stop) || n != 1 {
		t.Errorf("expected stop after first line, got n=%d err=%v", n, err)
	}
}
