package audit

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// tailProbe is how much of an existing ledger is read to recover the last
// timestamp.
const tailProbe = 64 * 1024

// maxRecoveredSkew is how far ahead of the clock a recovered timestamp may be
// and still hold later appends back.
const maxRecoveredSkew = time.Hour

// Ledger is an append-only JSONL file of Records. Timestamps never decrease
// in append order. The file is opened on first append and reopened after a
// write failure.
type Ledger struct {
	path string
	now  func() time.Time

	mu        sync.Mutex
	file      *os.File
	last      time.Time
	recovered bool
}

// Open returns a Ledger for path. Nothing is touched on disk until the first
// Append.
func Open(path string) *Ledger {
	return &Ledger{path: path, now: time.Now}
}

// Path returns the ledger file location.
func (l *Ledger) Path() string { return l.path }

// Append stamps, serializes and writes rec as one line, then syncs. It
// returns the record as written and the exact line bytes (without newline).
func (l *Ledger) Append(rec Record) (Record, []byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.open(); err != nil {
		return rec, nil, err
	}

	now := l.now().UTC().Truncate(time.Second)
	ts := now
	if rec.Timestamp != "" {
		// A caller may backdate a record but never stamp it in the future.
		if parsed, err := time.Parse(time.RFC3339, rec.Timestamp); err == nil && !parsed.After(now) {
			ts = parsed.UTC().Truncate(time.Second)
		}
	}
	if ts.Before(l.last) {
		ts = l.last
	}
	rec.Timestamp = ts.Format(TimestampFormat)

	line, err := json.Marshal(rec)
	if err != nil {
		return rec, nil, fmt.Errorf("audit: marshal record: %w", err)
	}

	if _, err := l.file.Write(append(line, '\n')); err != nil {
		l.closeLocked()
		return rec, nil, fmt.Errorf("audit: write record: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		l.closeLocked()
		return rec, nil, fmt.Errorf("audit: sync: %w", err)
	}

	l.last = ts
	return rec, line, nil
}

// Close closes the underlying file. A later Append reopens it.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeLocked()
}

func (l *Ledger) closeLocked() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

func (l *Ledger) open() error {
	if l.file != nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0700); err != nil {
		return fmt.Errorf("audit: create directory: %w", err)
	}

	if !l.recovered {
		last, err := lastTimestamp(l.path)
		if err != nil {
			return err
		}
		// A tail far in the future must not pin every later append.
		if now := l.now().UTC().Truncate(time.Second); last.After(now.Add(maxRecoveredSkew)) {
			last = now
		}
		l.last = last
		l.recovered = true
	}

	file, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("audit: open file: %w", err)
	}
	l.file = file
	return nil
}

// lastTimestamp reads the end of an existing ledger and returns the newest
// parsable timestamp among its final lines.
func lastTimestamp(path string) (time.Time, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("audit: read existing ledger: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return time.Time{}, fmt.Errorf("audit: stat ledger: %w", err)
	}
	offset := info.Size() - tailProbe
	if offset < 0 {
		offset = 0
	}
	buf := make([]byte, info.Size()-offset)
	if _, err := f.ReadAt(buf, offset); err != nil && !errors.Is(err, io.EOF) {
		return time.Time{}, fmt.Errorf("audit: read ledger tail: %w", err)
	}

	var last time.Time
	for _, line := range bytes.Split(buf, []byte{'\n'}) {
		if ts, ok := lineTimestamp(line); ok && ts.After(last) {
			last = ts
		}
	}
	return last, nil
}

// lineTimestamp extracts the timestamp of a ledger line.
func lineTimestamp(line []byte) (time.Time, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] != '{' {
		return time.Time{}, false
	}
	var head struct {
		Timestamp string `json:"timestamp"`
	}
	if err := json.Unmarshal(line, &head); err != nil || head.Timestamp == "" {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339, head.Timestamp)
	if err != nil {
		return time.Time{}, false
	}
	return ts.UTC(), true
}
