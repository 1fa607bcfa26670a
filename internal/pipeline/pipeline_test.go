package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bardusco/clawtrace/internal/audit"
	"github.com/bardusco/clawtrace/internal/correlator"
	"github.com/bardusco/clawtrace/internal/fanout"
	"github.com/bardusco/clawtrace/internal/identity"
	"github.com/bardusco/clawtrace/internal/ingest"
	"github.com/bardusco/clawtrace/internal/metrics"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type harness struct {
	p      *Pipeline
	ledger *audit.Ledger
	bc     *fanout.Broadcaster
	clock  *clock
	m      *metrics.Metrics
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	clk := &clock{t: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)}
	opts.Now = clk.now

	ledger := audit.Open(filepath.Join(t.TempDir(), "ledger.jsonl"))
	t.Cleanup(func() { ledger.Close() })
	bc := fanout.New(16)
	m := metrics.New()

	p := New(Deps{
		Correlator: correlator.New(correlator.Options{Now: clk.now}),
		Ledger:     ledger,
		Publisher:  bc,
		Metrics:    m,
	}, opts)
	return &harness{p: p, ledger: ledger, bc: bc, clock: clk, m: m}
}

func (h *harness) lines(t *testing.T) []string {
	t.Helper()
	lines, err := h.ledger.Tail(audit.MaxTailLimit)
	require.NoError(t, err)
	return lines
}

func decode(t *testing.T, line string) audit.Record {
	t.Helper()
	var rec audit.Record
	require.NoError(t, json.Unmarshal([]byte(line), &rec))
	return rec
}

func ms(n int64) *int64 { return &n }

func TestBeforeThenPersistProducesOneRecord(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	_, err := h.p.Handle(ctx, &ingest.Event{
		Kind:       ingest.KindBeforeToolCall,
		SessionKey: "s1",
		ToolName:   "exec",
		Params:     map[string]any{"command": "ls -la"},
	})
	require.NoError(t, err)
	assert.Empty(t, h.lines(t), "before_tool_call must not persist")

	rec, err := h.p.Handle(ctx, &ingest.Event{
		Kind:       ingest.KindToolResultPersist,
		SessionKey: "s1",
		ToolName:   "exec",
		DurationMs: ms(42),
	})
	require.NoError(t, err)
	require.NotNil(t, rec)

	lines := h.lines(t)
	require.Len(t, lines, 1)
	got := decode(t, lines[0])
	assert.Equal(t, "exec", got.Tool)
	assert.Equal(t, audit.PhaseDone, got.Phase)
	assert.Equal(t, "ls -la", got.Summary)
	require.NotNil(t, got.Details.DurationMs)
	assert.Equal(t, int64(42), *got.Details.DurationMs)
	assert.Equal(t, "ok", got.Details.Result)
	assert.Equal(t, audit.Origin, got.Origin)
	assert.Equal(t, "s1", got.Session.Key)
	assert.Equal(t, "s1", got.Session.Label)
	assert.True(t, strings.HasPrefix(got.CorrelationKey, "fp:"))
}

func TestPersistComputesDurationFromStart(t *testing.T) {
	h := newHarness(t, Options{})

	h.p.BeforeToolCall(&ingest.Event{Kind: ingest.KindBeforeToolCall, SessionKey: "s", ToolName: "read", Params: map[string]any{"path": "/etc/hosts"}})
	h.clock.advance(1500 * time.Millisecond)
	rec := h.p.ToolResultPersisted(&ingest.Event{Kind: ingest.KindToolResultPersist, SessionKey: "s", ToolName: "read"})

	require.NotNil(t, rec)
	assert.Equal(t, int64(1500), *rec.Details.DurationMs)
	assert.Equal(t, "/etc/hosts", rec.Summary)
	assert.Equal(t, []string{"/etc/hosts"}, rec.Details.Paths)
}

func TestAfterToolCallDoesNotConsumeStart(t *testing.T) {
	h := newHarness(t, Options{})

	h.p.BeforeToolCall(&ingest.Event{Kind: ingest.KindBeforeToolCall, SessionKey: "s", ToolName: "exec", Params: map[string]any{"command": "pwd"}})
	rec := h.p.AfterToolCall(&ingest.Event{Kind: ingest.KindAfterToolCall, SessionKey: "s", ToolName: "exec", ToolCallID: "c1", Params: map[string]any{"command": "pwd"}})

	require.NotNil(t, rec)
	assert.Equal(t, "pwd", rec.Summary)
	assert.Nil(t, rec.Details.DurationMs)
	assert.Equal(t, "after_tool_call", rec.Details.Source)
	assert.Equal(t, 1, h.p.correlator.Len("s", "exec"))
}

func TestSensitiveParamsAreOmitted(t *testing.T) {
	h := newHarness(t, Options{})

	rec := h.p.AfterToolCall(&ingest.Event{
		Kind:     ingest.KindAfterToolCall,
		ToolName: "web_fetch",
		Params: map[string]any{
			"url":    "https://example.com",
			"apiKey": "sk-abcdef0123456789",
		},
	})
	require.NotNil(t, rec)
	assert.NotContains(t, rec.Details.Params, "apiKey")
	assert.Equal(t, "https://example.com", rec.Details.Params["url"])
	assert.Equal(t, "https://example.com", rec.Details.URL)

	lines := h.lines(t)
	require.Len(t, lines, 1)
	assert.NotContains(t, lines[0], "apiKey")
	assert.NotContains(t, lines[0], "sk-abcdef0123456789")
}

func TestErrorsAreSanitized(t *testing.T) {
	h := newHarness(t, Options{})

	rec := h.p.AfterToolCall(&ingest.Event{
		Kind:     ingest.KindAfterToolCall,
		ToolName: "exec",
		Params:   map[string]any{"command": "curl"},
		Error:    "401 for Bearer abcdefghijklmnop",
	})
	require.NotNil(t, rec)
	assert.Equal(t, "error", rec.Details.Result)
	assert.Equal(t, "<redacted:bearer>", rec.Details.Error)

	rec = h.p.AfterToolCall(&ingest.Event{Kind: ingest.KindAfterToolCall, ToolName: "exec", IsError: true})
	require.NotNil(t, rec)
	assert.Equal(t, "error", rec.Details.Error)
}

func TestNoteIsPersistedAndPublished(t *testing.T) {
	h := newHarness(t, Options{NotesEnabled: true})
	sub := h.bc.Subscribe()
	defer h.bc.Unsubscribe(sub)

	rec, err := h.p.Note(context.Background(), "checked logs", "")
	require.NoError(t, err)
	assert.Equal(t, ToolNote, rec.Tool)
	assert.Equal(t, "checked logs", rec.Summary)
	assert.Equal(t, "ok", rec.Details.Result)
	assert.Equal(t, identity.MainSessionKey, rec.Session.Key)

	lines := h.lines(t)
	require.Len(t, lines, 1)

	select {
	case f := <-sub.C():
		assert.Equal(t, EventEntry, f.Event)
		assert.Equal(t, lines[0], string(f.Data), "observer receives the identical ledger line")
	case <-time.After(time.Second):
		t.Fatal("observer did not receive the note")
	}
}

func TestNoteValidation(t *testing.T) {
	disabled := newHarness(t, Options{})
	_, err := disabled.p.Note(context.Background(), "x", "")
	assert.ErrorIs(t, err, ErrNotesDisabled)

	h := newHarness(t, Options{NotesEnabled: true})
	_, err = h.p.Note(context.Background(), "   ", "")
	assert.ErrorIs(t, err, ErrEmptyNote)
	assert.Empty(t, h.lines(t), "rejected notes leave no partial record")
}

func TestHandleRejectsInvalidEvents(t *testing.T) {
	h := newHarness(t, Options{})

	_, err := h.p.Handle(context.Background(), &ingest.Event{Kind: "bogus", ToolName: "x"})
	assert.ErrorIs(t, err, ingest.ErrUnknownKind)

	_, err = h.p.Handle(context.Background(), &ingest.Event{Kind: ingest.KindAfterToolCall})
	assert.ErrorIs(t, err, ingest.ErrMissingTool)
	assert.Empty(t, h.lines(t))
}

func TestDuplicateCompletionAcrossSourcesIsDropped(t *testing.T) {
	h := newHarness(t, Options{})
	ev := func(kind ingest.Kind) *ingest.Event {
		return &ingest.Event{Kind: kind, SessionKey: "s", ToolName: "exec", ToolCallID: "call-1", Params: map[string]any{"command": "ls"}}
	}

	require.NotNil(t, h.p.AfterToolCall(ev(ingest.KindAfterToolCall)))
	assert.Nil(t, h.p.ToolResultPersisted(ev(ingest.KindToolResultPersist)))
	assert.Len(t, h.lines(t), 1)
}

func TestDuplicateMatchedThroughStartFingerprint(t *testing.T) {
	h := newHarness(t, Options{})
	params := map[string]any{"command": "make test"}

	h.p.BeforeToolCall(&ingest.Event{Kind: ingest.KindBeforeToolCall, SessionKey: "s", ToolName: "exec", Params: params})
	require.NotNil(t, h.p.AfterToolCall(&ingest.Event{Kind: ingest.KindAfterToolCall, SessionKey: "s", ToolName: "exec", Params: params}))
	assert.Nil(t, h.p.ToolResultPersisted(&ingest.Event{Kind: ingest.KindToolResultPersist, SessionKey: "s", ToolName: "exec"}))
	assert.Len(t, h.lines(t), 1)
}

func TestRepeatedCallsFromOneSourceAreKept(t *testing.T) {
	h := newHarness(t, Options{})
	ev := &ingest.Event{Kind: ingest.KindAfterToolCall, SessionKey: "s", ToolName: "exec", Params: map[string]any{"command": "date"}}

	require.NotNil(t, h.p.AfterToolCall(ev))
	require.NotNil(t, h.p.AfterToolCall(ev))
	assert.Len(t, h.lines(t), 2)
}

func TestDuplicateWhenOnlyOneSourceCarriesTheCallID(t *testing.T) {
	params := map[string]any{"command": "git status"}

	h := newHarness(t, Options{})
	require.NotNil(t, h.p.AfterToolCall(&ingest.Event{Kind: ingest.KindAfterToolCall, SessionKey: "s", ToolName: "exec", ToolCallID: "c1", Params: params}))
	assert.Nil(t, h.p.ToolResultPersisted(&ingest.Event{Kind: ingest.KindToolResultPersist, SessionKey: "s", ToolName: "exec", Params: params}))
	assert.Len(t, h.lines(t), 1)

	h = newHarness(t, Options{})
	require.NotNil(t, h.p.ToolResultPersisted(&ingest.Event{Kind: ingest.KindToolResultPersist, SessionKey: "s", ToolName: "exec", Params: params}))
	assert.Nil(t, h.p.AfterToolCall(&ingest.Event{Kind: ingest.KindAfterToolCall, SessionKey: "s", ToolName: "exec", ToolCallID: "c1", Params: params}))
	assert.Len(t, h.lines(t), 1)
}

func TestFutureHostTimestampDoesNotPinLedger(t *testing.T) {
	h := newHarness(t, Options{NotesEnabled: true})
	future := time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC)

	rec := h.p.AfterToolCall(&ingest.Event{Kind: ingest.KindAfterToolCall, SessionKey: "s", ToolName: "exec", Timestamp: future})
	require.NotNil(t, rec)
	assert.Equal(t, "2099-01-01T00:00:00Z", rec.Details.HostTimestamp)

	note, err := h.p.Note(context.Background(), "after the skewed event", "")
	require.NoError(t, err)

	limit := time.Now().UTC().Add(time.Minute)
	for _, ts := range []string{rec.Timestamp, note.Timestamp} {
		parsed, err := time.Parse(audit.TimestampFormat, ts)
		require.NoError(t, err)
		assert.True(t, parsed.Before(limit), "timestamp %s should follow the local clock", ts)
	}
}

func TestNonFiniteParamsAreStillRecorded(t *testing.T) {
	h := newHarness(t, Options{})

	rec := h.p.AfterToolCall(&ingest.Event{Kind: ingest.KindAfterToolCall, SessionKey: "s", ToolName: "calc", Params: map[string]any{"x": math.NaN(), "y": math.Inf(1)}})
	require.NotNil(t, rec)

	lines := h.lines(t)
	require.Len(t, lines, 1)
	got := decode(t, lines[0])
	assert.Equal(t, "NaN", got.Details.Params["x"])
	assert.Equal(t, "+Inf", got.Details.Params["y"])
}

type failingLedger struct{}

func (failingLedger) Append(rec audit.Record) (audit.Record, []byte, error) {
	return rec, nil, errors.New("disk full")
}

func TestAppendFailureIsNotFatalAndNotPublished(t *testing.T) {
	bc := fanout.New(4)
	sub := bc.Subscribe()
	p := New(Deps{Ledger: failingLedger{}, Publisher: bc}, Options{NotesEnabled: true})

	rec, err := p.Handle(context.Background(), &ingest.Event{Kind: ingest.KindAfterToolCall, ToolName: "exec"})
	assert.NoError(t, err)
	assert.Nil(t, rec)

	_, err = p.Note(context.Background(), "hi", "")
	assert.Error(t, err)

	select {
	case <-sub.C():
		t.Fatal("nothing should be published when the append fails")
	default:
	}
}

func TestPublishOrderMatchesLedgerOrder(t *testing.T) {
	h := newHarness(t, Options{})
	sub := h.bc.Subscribe()
	defer h.bc.Unsubscribe(sub)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h.p.AfterToolCall(&ingest.Event{
				Kind:       ingest.KindAfterToolCall,
				SessionKey: "s",
				ToolName:   "exec",
				ToolCallID: string(rune('a' + i)),
			})
		}(i)
	}
	wg.Wait()

	lines := h.lines(t)
	require.Len(t, lines, 10)
	for _, line := range lines {
		f := <-sub.C()
		assert.Equal(t, line, string(f.Data))
	}
}

func TestIdentityIsResolved(t *testing.T) {
	dir := t.TempDir()
	metaPath := filepath.Join(dir, "meta.json")
	require.NoError(t, writeJSON(metaPath, `{"id-9": {"label": "Release chat", "channel": "discord"}}`))

	store := identity.NewStore(identity.Paths{SessionMetaFile: metaPath}, "Clawd")
	require.NoError(t, store.ReloadAll())

	ledger := audit.Open(filepath.Join(dir, "ledger.jsonl"))
	defer ledger.Close()
	p := New(Deps{Ledger: ledger, Resolver: identity.NewResolver(store, time.Second, nil)}, Options{})

	rec := p.AfterToolCall(&ingest.Event{
		Kind:       ingest.KindAfterToolCall,
		SessionKey: "agent:ops:discord:9",
		SessionID:  "id-9",
		ToolName:   "message",
		Params:     map[string]any{"action": "send", "target": "#release"},
	})
	require.NotNil(t, rec)
	assert.Equal(t, audit.Agent{ID: "ops", DisplayName: "Clawd"}, rec.Agent)
	assert.Equal(t, audit.Session{Key: "agent:ops:discord:9", ID: "id-9", Label: "Release chat", Channel: "discord"}, rec.Session)
	assert.Equal(t, "send → #release", rec.Summary)
}
