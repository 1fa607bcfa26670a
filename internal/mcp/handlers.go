package mcp

import (
	"context"
	"encoding/json"
	"errors"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bardusco/clawtrace/internal/pipeline"
)

// RecentInput defines parameters for the clawtrace_recent tool.
type RecentInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"number of records to return (default 200, max 2000)"`
}

// RecentOutput holds ledger records. Lines that are not JSON objects are
// returned as strings.
type RecentOutput struct {
	Entries []any `json:"entries"`
}

// NoteInput defines parameters for the clawtrace_note tool.
type NoteInput struct {
	Text       string `json:"text" jsonschema:"note text"`
	SessionKey string `json:"session_key,omitempty" jsonschema:"session the note belongs to, defaults to the main session"`
}

// NoteOutput describes the persisted note or why it was rejected.
type NoteOutput struct {
	Timestamp string `json:"timestamp,omitempty"`
	Summary   string `json:"summary,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (s *Server) handleRecent(ctx context.Context, req *mcpsdk.CallToolRequest, input RecentInput) (*mcpsdk.CallToolResult, RecentOutput, error) {
	lines, err := s.ledger.Tail(input.Limit)
	if err != nil {
		return nil, RecentOutput{}, err
	}

	entries := make([]any, 0, len(lines))
	for _, line := range lines {
		var obj map[string]any
		if err := json.Unmarshal([]byte(line), &obj); err != nil {
			entries = append(entries, line)
			continue
		}
		entries = append(entries, obj)
	}
	return nil, RecentOutput{Entries: entries}, nil
}

func (s *Server) handleNote(ctx context.Context, req *mcpsdk.CallToolRequest, input NoteInput) (*mcpsdk.CallToolResult, NoteOutput, error) {
	rec, err := s.noter.Note(ctx, input.Text, input.SessionKey)
	if err != nil {
		if errors.Is(err, pipeline.ErrNotesDisabled) || errors.Is(err, pipeline.ErrEmptyNote) {
			return &mcpsdk.CallToolResult{IsError: true}, NoteOutput{Error: err.Error()}, nil
		}
		return nil, NoteOutput{}, err
	}

	s.log.WithField("session", rec.Session.Key).Debug("note submitted over mcp")
	return nil, NoteOutput{Timestamp: rec.Timestamp, Summary: rec.Summary}, nil
}
