// Package pipeline turns host tool-call lifecycle events into sanitized
// ledger records and publishes them to live observers.
//
// A before_tool_call signal only records a pending start. A completion
// (tool_result_persist or after_tool_call) resolves the session identity,
// builds a record, appends it to the ledger and publishes the exact line
// that was written. Only the tool_result_persist path consumes the pending
// start; after_tool_call is a complete record on its own.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bardusco/clawtrace/internal/audit"
	"github.com/bardusco/clawtrace/internal/correlator"
	"github.com/bardusco/clawtrace/internal/fanout"
	"github.com/bardusco/clawtrace/internal/identity"
	"github.com/bardusco/clawtrace/internal/ingest"
	"github.com/bardusco/clawtrace/internal/metrics"
	"github.com/bardusco/clawtrace/internal/redact"
)

// EventEntry is the SSE event name for published records.
const EventEntry = "entry"

// ToolNote is the tool marker of operator notes.
const ToolNote = "note"

var (
	ErrNotesDisabled = errors.New("pipeline: notes are disabled")
	ErrEmptyNote     = errors.New("pipeline: note text is required")
)

// Ledger persists records.
type Ledger interface {
	Append(rec audit.Record) (audit.Record, []byte, error)
}

// Publisher delivers frames to live observers.
type Publisher interface {
	Publish(f fanout.Frame) int
}

// Deps are the collaborators of a Pipeline. Metrics and Logger are optional.
type Deps struct {
	Sanitizer  *redact.Sanitizer
	Correlator *correlator.Correlator
	Resolver   *identity.Resolver
	Ledger     Ledger
	Publisher  Publisher
	Metrics    *metrics.Metrics
	Logger     *logrus.Entry
}

// Options tunes a Pipeline.
type Options struct {
	AgentID      string        // default agent id, "main" when empty
	DisplayName  string        // overrides the identity file name
	NotesEnabled bool          // accept operator notes
	MatchWindow  time.Duration // correlator match window
	DedupWindow  time.Duration // cross-source completion pairing window
	Now          func() time.Time
}

// Pipeline is safe for concurrent use.
type Pipeline struct {
	sanitizer  *redact.Sanitizer
	correlator *correlator.Correlator
	resolver   *identity.Resolver
	ledger     Ledger
	publisher  Publisher
	metrics    *metrics.Metrics
	log        *logrus.Entry
	opts       Options
	dedup      *dedup

	// mu orders append and publish so observers see ledger order.
	mu sync.Mutex
}

// New creates a Pipeline.
func New(deps Deps, opts Options) *Pipeline {
	if opts.AgentID == "" {
		opts.AgentID = "main"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if deps.Sanitizer == nil {
		deps.Sanitizer = redact.New(redact.Options{})
	}
	if deps.Correlator == nil {
		deps.Correlator = correlator.New(correlator.Options{Window: opts.MatchWindow, Now: opts.Now})
	}
	if deps.Resolver == nil {
		deps.Resolver = identity.NewResolver(identity.NewStore(identity.Paths{}, opts.DisplayName), 0, nil)
	}
	if deps.Logger == nil {
		deps.Logger = logrus.NewEntry(logrus.StandardLogger())
	}

	return &Pipeline{
		sanitizer:  deps.Sanitizer,
		correlator: deps.Correlator,
		resolver:   deps.Resolver,
		ledger:     deps.Ledger,
		publisher:  deps.Publisher,
		metrics:    deps.Metrics,
		log:        deps.Logger,
		opts:       opts,
		dedup:      newDedup(opts.DedupWindow),
	}
}

// NotesEnabled reports whether Note accepts submissions.
func (p *Pipeline) NotesEnabled() bool { return p.opts.NotesEnabled }

// Handle validates ev and routes it by kind. It returns the persisted record
// for completions, or nil when nothing was written. Only validation errors
// are returned; persistence failures are logged.
func (p *Pipeline) Handle(ctx context.Context, ev *ingest.Event) (*audit.Record, error) {
	if err := ingest.Validate(ev); err != nil {
		p.metrics.EventRejected(rejectReason(err))
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.metrics.EventReceived(string(ev.Kind))

	switch ev.Kind {
	case ingest.KindBeforeToolCall:
		p.BeforeToolCall(ev)
		return nil, nil
	case ingest.KindAfterToolCall:
		return p.AfterToolCall(ev), nil
	default:
		return p.ToolResultPersisted(ev), nil
	}
}

// BeforeToolCall records a pending start. Nothing is persisted.
func (p *Pipeline) BeforeToolCall(ev *ingest.Event) {
	key := sessionKey(ev)
	params := p.sanitizer.Params(ev.Params)

	p.correlator.Record(correlator.Observation{
		SessionKey:  key,
		ToolName:    ev.ToolName,
		ObservedAt:  ev.Timestamp,
		Summary:     Summarize(ev.ToolName, params),
		Paths:       ExtractPaths(params),
		URL:         ExtractURL(params),
		Fingerprint: fingerprintFor(ev, key, params),
	})
}

// AfterToolCall records a completion without consuming a pending start.
func (p *Pipeline) AfterToolCall(ev *ingest.Event) *audit.Record {
	return p.complete(ev, false)
}

// ToolResultPersisted records a completion, joining it to the oldest
// matching pending start.
func (p *Pipeline) ToolResultPersisted(ev *ingest.Event) *audit.Record {
	return p.complete(ev, true)
}

func (p *Pipeline) complete(ev *ingest.Event, consume bool) *audit.Record {
	key := sessionKey(ev)
	params := p.sanitizer.Params(ev.Params)
	now := p.opts.Now()
	if !ev.Timestamp.IsZero() && !ev.Timestamp.After(now) {
		now = ev.Timestamp
	}

	var (
		start   correlator.Observation
		matched bool
	)
	if consume {
		start, matched = p.correlator.Consume(key, ev.ToolName, p.opts.MatchWindow)
		p.metrics.Correlated(matched)
	}

	details := audit.Details{
		Result: "ok",
		Params: params,
		Source: string(ev.Kind),
		Paths:  ExtractPaths(params),
		URL:    ExtractURL(params),
	}
	if !ev.Timestamp.IsZero() {
		details.HostTimestamp = ev.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	summary := Summarize(ev.ToolName, params)
	correlationKey := ev.ToolCallID
	dedupKeys := []string{ev.ToolCallID}
	if len(params) > 0 {
		fp := Fingerprint(key, ev.ToolName, params)
		dedupKeys = append(dedupKeys, fp)
		if correlationKey == "" {
			correlationKey = fp
		}
	}

	if matched {
		if summary == "" {
			summary = start.Summary
		}
		if len(details.Paths) == 0 {
			details.Paths = start.Paths
		}
		if details.URL == "" {
			details.URL = start.URL
		}
		if correlationKey == "" {
			correlationKey = start.Fingerprint
		}
		dedupKeys = append(dedupKeys, start.Fingerprint)
	}

	switch {
	case ev.DurationMs != nil:
		d := *ev.DurationMs
		details.DurationMs = &d
	case matched:
		d := now.Sub(start.ObservedAt).Milliseconds()
		if d < 0 {
			d = 0
		}
		details.DurationMs = &d
	}

	if ev.Failed() {
		details.Result = "error"
		details.Error = p.sanitizer.String(ev.Error)
		if details.Error == "" {
			details.Error = "error"
		}
	}

	if p.dedup.duplicate(dedupKeys, string(ev.Kind)) {
		p.metrics.DuplicateDropped()
		p.log.WithFields(logrus.Fields{
			"tool":           ev.ToolName,
			"correlationKey": correlationKey,
			"source":         ev.Kind,
		}).Debug("dropping duplicate completion")
		return nil
	}

	rec := audit.Record{
		Origin:         audit.Origin,
		Agent:          p.agent(ev, key),
		Session:        p.session(key, ev.SessionID),
		Tool:           ev.ToolName,
		Phase:          audit.PhaseDone,
		CorrelationKey: correlationKey,
		Summary:        summary,
		Details:        details,
	}

	written, err := p.persist(rec)
	if err != nil {
		p.log.WithError(err).WithField("tool", ev.ToolName).Warn("ledger append failed, record not published")
		return nil
	}
	p.metrics.RecordWritten(string(ev.Kind))
	return &written
}

// Note persists an operator note. sessionKey may be empty.
func (p *Pipeline) Note(ctx context.Context, text, sessionKey string) (*audit.Record, error) {
	if !p.opts.NotesEnabled {
		return nil, ErrNotesDisabled
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyNote
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := strings.TrimSpace(sessionKey)
	if key == "" {
		key = identity.DefaultSessionKey(p.opts.AgentID)
	}

	rec := audit.Record{
		Origin:  audit.Origin,
		Agent:   p.agent(&ingest.Event{}, key),
		Session: p.session(key, ""),
		Tool:    ToolNote,
		Phase:   audit.PhaseDone,
		Summary: Summarize(ToolNote, map[string]any{"text": p.sanitizer.String(text)}),
		Details: audit.Details{Result: "ok"},
	}

	written, err := p.persist(rec)
	if err != nil {
		return nil, fmt.Errorf("pipeline: persist note: %w", err)
	}
	p.metrics.NoteSubmitted()
	return &written, nil
}

// persist appends rec and publishes the written line under one lock.
func (p *Pipeline) persist(rec audit.Record) (audit.Record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ledger == nil {
		return rec, errors.New("pipeline: no ledger configured")
	}
	written, line, err := p.ledger.Append(rec)
	if err != nil {
		p.metrics.AppendFailed()
		return rec, err
	}

	if p.publisher != nil {
		p.publisher.Publish(fanout.Frame{Event: EventEntry, Data: line})
	}

	p.log.WithFields(logrus.Fields{
		"tool":    written.Tool,
		"session": written.Session.Key,
		"source":  written.Details.Source,
	}).Debug("record appended")
	return written, nil
}

func (p *Pipeline) agent(ev *ingest.Event, key string) audit.Agent {
	id := ev.AgentID
	if id == "" {
		id = identity.AgentIDFromKey(key)
	}
	if id == "" {
		id = p.opts.AgentID
	}

	name := p.opts.DisplayName
	if name == "" {
		name = p.resolver.Store().DisplayName()
	}
	if name == "" {
		name = id
	}
	return audit.Agent{ID: id, DisplayName: name}
}

func (p *Pipeline) session(key, id string) audit.Session {
	s := p.resolver.Resolve(key, id)
	return audit.Session{Key: s.Key, ID: s.ID, Label: s.Label, Channel: s.Channel}
}

func sessionKey(ev *ingest.Event) string {
	if k := strings.TrimSpace(ev.SessionKey); k != "" {
		return k
	}
	return identity.DefaultSessionKey(ev.AgentID)
}

func fingerprintFor(ev *ingest.Event, key string, params map[string]any) string {
	if ev.ToolCallID != "" {
		return ev.ToolCallID
	}
	return Fingerprint(key, ev.ToolName, params)
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ingest.ErrUnknownKind):
		return "unknown_kind"
	case errors.Is(err, ingest.ErrMissingTool):
		return "missing_tool"
	default:
		return "invalid"
	}
}
