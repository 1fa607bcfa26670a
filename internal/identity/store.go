package identity

import (
	"errors"
	"sync/atomic"
)

// ErrEmptySnapshot is returned by a reload that produced no entries. The
// previous snapshot is kept.
var ErrEmptySnapshot = errors.New("identity: reload produced an empty map")

// Paths locates the read-only identity inputs. Empty paths are skipped.
type Paths struct {
	IdentityFile    string
	SessionsFile    string
	SessionMetaFile string
	CronJobsFile    string
}

// Store holds the current identity snapshots. Each map is replaced whole on a
// successful non-empty reload; readers always see a complete map.
type Store struct {
	paths       Paths
	override    string
	registry    atomic.Pointer[Registry]
	meta        atomic.Pointer[Meta]
	cron        atomic.Pointer[CronNames]
	displayName atomic.Pointer[string]
}

// NewStore creates an empty store. A non-empty displayName overrides the one
// read from the identity file.
func NewStore(paths Paths, displayName string) *Store {
	s := &Store{paths: paths, override: displayName}
	s.registry.Store(&Registry{})
	s.meta.Store(&Meta{})
	s.cron.Store(&CronNames{})
	s.displayName.Store(&displayName)
	return s
}

// Paths returns the configured input files.
func (s *Store) Paths() Paths { return s.paths }

func (s *Store) Registry() Registry   { return *s.registry.Load() }
func (s *Store) Meta() Meta           { return *s.meta.Load() }
func (s *Store) CronNames() CronNames { return *s.cron.Load() }

// DisplayName returns the agent display name, or "" when unknown.
func (s *Store) DisplayName() string { return *s.displayName.Load() }

// SetRegistry installs a registry snapshot. Empty maps are ignored.
func (s *Store) SetRegistry(r Registry) bool { return swap(&s.registry, r) }

// SetMeta installs a session-meta snapshot. Empty maps are ignored.
func (s *Store) SetMeta(m Meta) bool { return swap(&s.meta, m) }

// SetCronNames installs a cron name snapshot. Empty maps are ignored.
func (s *Store) SetCronNames(c CronNames) bool { return swap(&s.cron, c) }

func swap[M ~map[K]V, K comparable, V any](p *atomic.Pointer[M], m M) bool {
	if len(m) == 0 {
		return false
	}
	p.Store(&m)
	return true
}

// ReloadRegistry re-reads the session registry.
func (s *Store) ReloadRegistry() error {
	if s.paths.SessionsFile == "" {
		return nil
	}
	r, err := LoadRegistry(s.paths.SessionsFile)
	if err != nil {
		return err
	}
	if !s.SetRegistry(r) {
		return ErrEmptySnapshot
	}
	return nil
}

// ReloadMeta re-reads the session-meta map.
func (s *Store) ReloadMeta() error {
	if s.paths.SessionMetaFile == "" {
		return nil
	}
	m, err := LoadMeta(s.paths.SessionMetaFile)
	if err != nil {
		return err
	}
	if !s.SetMeta(m) {
		return ErrEmptySnapshot
	}
	return nil
}

// ReloadCron re-reads the cron job names.
func (s *Store) ReloadCron() error {
	if s.paths.CronJobsFile == "" {
		return nil
	}
	c, err := LoadCronNames(s.paths.CronJobsFile)
	if err != nil {
		return err
	}
	if !s.SetCronNames(c) {
		return ErrEmptySnapshot
	}
	return nil
}

// ReloadDisplayName re-reads the identity file unless an override is set.
func (s *Store) ReloadDisplayName() error {
	if s.override != "" || s.paths.IdentityFile == "" {
		return nil
	}
	name, err := LoadDisplayName(s.paths.IdentityFile)
	if err != nil {
		return err
	}
	if name != "" {
		s.displayName.Store(&name)
	}
	return nil
}

// ReloadAll refreshes every map. Failures leave the affected snapshot
// untouched and are returned joined.
func (s *Store) ReloadAll() error {
	return errors.Join(
		s.ReloadRegistry(),
		s.ReloadMeta(),
		s.ReloadCron(),
		s.ReloadDisplayName(),
	)
}
