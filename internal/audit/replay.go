package audit

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultTailLimit is used when a tail request gives no usable limit.
	DefaultTailLimit = 200
	// MaxTailLimit caps tail reads to protect memory.
	MaxTailLimit = 2000
)

// ErrInvalidSince is returned by ParseSince for unrecognized input.
var ErrInvalidSince = errors.New("audit: invalid since value")

// ClampLimit maps a requested tail size onto [1, MaxTailLimit], with
// non-positive values meaning DefaultTailLimit.
func ClampLimit(n int) int {
	if n <= 0 {
		return DefaultTailLimit
	}
	if n > MaxTailLimit {
		return MaxTailLimit
	}
	return n
}

// Tail returns the last n non-empty lines of the ledger in file order. n is
// clamped with ClampLimit. A missing ledger yields no lines.
func (l *Ledger) Tail(n int) ([]string, error) {
	n = ClampLimit(n)

	ring := make([]string, n)
	count := 0
	err := l.scan(context.Background(), func(line []byte) error {
		ring[count%n] = string(line)
		count++
		return nil
	})
	if err != nil {
		return nil, err
	}

	if count <= n {
		return ring[:count], nil
	}
	start := count % n
	out := make([]string, 0, n)
	out = append(out, ring[start:]...)
	out = append(out, ring[:start]...)
	return out, nil
}

// Export streams every non-empty ledger line to fn in file order. When since
// is non-zero, lines whose timestamp is earlier are skipped; lines without a
// parsable timestamp are always passed through. Export stops at the first
// error from fn or when ctx is done.
func (l *Ledger) Export(ctx context.Context, since time.Time, fn func(line []byte) error) error {
	return l.scan(ctx, func(line []byte) error {
		if !since.IsZero() {
			if ts, ok := lineTimestamp(line); ok && ts.Before(since) {
				return nil
			}
		}
		return fn(line)
	})
}

// scan reads the ledger line by line without a line length limit. The slice
// passed to fn is only valid for the duration of the call.
func (l *Ledger) scan(ctx context.Context, fn func(line []byte) error) error {
	f, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("audit: open ledger: %w", err)
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, 64*1024)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		line, readErr := r.ReadBytes('\n')
		if trimmed := bytes.TrimRight(line, "\r\n"); len(bytes.TrimSpace(trimmed)) > 0 {
			if err := fn(trimmed); err != nil {
				return err
			}
		}

		if errors.Is(readErr, io.EOF) {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("audit: read ledger: %w", readErr)
		}
	}
}

// ParseSince accepts an RFC 3339 timestamp or a unix time in milliseconds.
// An empty string yields the zero time.
func ParseSince(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidSince, s)
}
