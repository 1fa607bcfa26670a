package identity

import (
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Session is a resolved session identity.
type Session struct {
	Key     string
	ID      string
	Label   string
	Channel string
}

// Resolver maps session keys and ids to labels and channels using the store
// snapshots with layered fallback.
type Resolver struct {
	store   *Store
	limiter *rate.Limiter
	log     *logrus.Entry
}

// NewResolver creates a Resolver. On-demand meta reloads are limited to one
// per reloadEvery; a non-positive value uses one second.
func NewResolver(store *Store, reloadEvery time.Duration, log *logrus.Entry) *Resolver {
	if reloadEvery <= 0 {
		reloadEvery = time.Second
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Resolver{
		store:   store,
		limiter: rate.NewLimiter(rate.Every(reloadEvery), 1),
		log:     log,
	}
}

// Store returns the underlying snapshot holder.
func (r *Resolver) Store() *Store { return r.store }

// ResolveLabel returns the human label for a session.
//
// Order: session meta by id, cron job name for cron keys, one throttled
// meta reload followed by a second meta lookup, then fallback.
func (r *Resolver) ResolveLabel(sessionKey, sessionID, fallback string) string {
	if label, ok := r.metaLabel(sessionID); ok {
		return label
	}

	if jobID, ok := CronJobID(sessionKey); ok {
		if name := r.store.CronNames()[jobID]; name != "" {
			return "cron: " + name
		}
	}

	if sessionID != "" && r.limiter.Allow() {
		if err := r.store.ReloadMeta(); err != nil {
			r.log.WithError(err).Debug("on-demand session meta reload failed")
		}
		if label, ok := r.metaLabel(sessionID); ok {
			return label
		}
	}

	return fallback
}

// ResolveChannel returns the channel for a session, or fallback.
func (r *Resolver) ResolveChannel(sessionKey, sessionID, fallback string) string {
	if sessionID != "" {
		if e, ok := r.store.Meta()[sessionID]; ok && e.Channel != "" {
			return e.Channel
		}
	}
	if sessionKey == MainSessionKey {
		if e, ok := r.store.Registry().Lookup(sessionKey); ok && e.Channel != "" {
			return e.Channel
		}
	}
	if IsCron(sessionKey) {
		return CronChannel
	}
	return fallback
}

// Resolve fills in a full Session. A missing session id is taken from the
// registry; the registry label, or the key itself, is the label fallback.
func (r *Resolver) Resolve(sessionKey, sessionID string) Session {
	entry, _ := r.store.Registry().Lookup(sessionKey)
	if sessionID == "" {
		sessionID = entry.SessionID
	}
	fallback := entry.Label
	if fallback == "" {
		fallback = sessionKey
	}

	return Session{
		Key:     sessionKey,
		ID:      sessionID,
		Label:   r.ResolveLabel(sessionKey, sessionID, fallback),
		Channel: r.ResolveChannel(sessionKey, sessionID, ""),
	}
}

func (r *Resolver) metaLabel(sessionID string) (string, bool) {
	if sessionID == "" {
		return "", false
	}
	e, ok := r.store.Meta()[sessionID]
	if !ok || e.Label == "" {
		return "", false
	}
	return e.Label, true
}
