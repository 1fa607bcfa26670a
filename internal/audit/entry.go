package audit

// Origin tags records produced by the tool-call pipeline.
const Origin = "plugin"

// PhaseDone marks a completed invocation. Start-only observations are never
// persisted, so it is the only phase written.
const PhaseDone = "done"

// TimestampFormat is the layout of Record.Timestamp (UTC, second precision).
const TimestampFormat = "2006-01-02T15:04:05Z"

// Agent identifies the acting agent.
type Agent struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// Session is the resolved session identity of a record.
type Session struct {
	Key     string `json:"key"`
	ID      string `json:"id,omitempty"`
	Label   string `json:"label"`
	Channel string `json:"channel,omitempty"`
}

// Details carries the sanitized per-call payload. Fields are typed so the
// marshalled key order is stable.
type Details struct {
	DurationMs *int64         `json:"durationMs,omitempty"`
	Error      string         `json:"error,omitempty"`
	Result     string         `json:"result,omitempty"`
	Paths      []string       `json:"paths,omitempty"`
	URL        string         `json:"url,omitempty"`
	Params     map[string]any `json:"params,omitempty"`
	Source     string         `json:"source,omitempty"`
	// HostTimestamp is when the host says the call completed. It is not
	// trusted for ordering.
	HostTimestamp string `json:"hostTimestamp,omitempty"`
}

// Record is one line of the ledger.
type Record struct {
	Timestamp      string  `json:"timestamp"`
	Origin         string  `json:"origin"`
	Agent          Agent   `json:"agent"`
	Session        Session `json:"session"`
	Tool           string  `json:"tool"`
	Phase          string  `json:"phase,omitempty"`
	CorrelationKey string  `json:"correlationKey,omitempty"`
	Summary        string  `json:"summary"`
	Details        Details `json:"details"`
}
