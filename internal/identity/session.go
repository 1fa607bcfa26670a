package identity

import "strings"

// MainSessionKey is the host's primary interactive session.
const MainSessionKey = "agent:main:main"

// CronMarker appears in the key of sessions started by a scheduled job.
// Detection is a substring heuristic; a non-cron key containing the marker
// will be labelled as cron.
const CronMarker = ":cron:"

// CronChannel is the channel reported for cron-origin sessions.
const CronChannel = "cron"

// DefaultSessionKey returns the key used when the host omits one.
func DefaultSessionKey(agentID string) string {
	if agentID == "" {
		agentID = "main"
	}
	return "agent:" + agentID + ":main"
}

// IsCron reports whether sessionKey carries the cron marker. This is a
// substring heuristic: a non-cron key containing the marker is misread.
func IsCron(sessionKey string) bool {
	return strings.Contains(sessionKey, CronMarker)
}

// CronJobID extracts the job id that follows the cron marker, up to the next
// ':' or the end of the key.
func CronJobID(sessionKey string) (string, bool) {
	i := strings.Index(sessionKey, CronMarker)
	if i < 0 {
		return "", false
	}
	rest := sessionKey[i+len(CronMarker):]
	if j := strings.IndexByte(rest, ':'); j >= 0 {
		rest = rest[:j]
	}
	if rest == "" {
		return "", false
	}
	return rest, true
}

// AgentIDFromKey returns the agent segment of an "agent:<id>:..." key.
func AgentIDFromKey(sessionKey string) string {
	rest, ok := strings.CutPrefix(sessionKey, "agent:")
	if !ok {
		return ""
	}
	if j := strings.IndexByte(rest, ':'); j >= 0 {
		return rest[:j]
	}
	return rest
}
