package identity

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// RegistryEntry is what the session registry knows about a session key.
type RegistryEntry struct {
	SessionID     string
	Channel       string
	LastRecipient string
	Label         string
}

// MetaEntry is the session-meta record for a session id.
type MetaEntry struct {
	Label         string
	Channel       string
	LastRecipient string
}

// Registry maps session keys to registry entries.
type Registry map[string]RegistryEntry

// Meta maps session ids to meta entries.
type Meta map[string]MetaEntry

// CronNames maps cron job ids to human names.
type CronNames map[string]string

// Lookup returns the registry entry for a session key.
func (r Registry) Lookup(sessionKey string) (RegistryEntry, bool) {
	e, ok := r[sessionKey]
	return e, ok
}

type registryRecord struct {
	SessionID     string `json:"sessionId"`
	Channel       string `json:"channel"`
	LastChannel   string `json:"lastChannel"`
	LastTo        string `json:"lastTo"`
	LastRecipient string `json:"lastRecipient"`
	Label         string `json:"label"`
	DisplayName   string `json:"displayName"`
	Origin        struct {
		Label string `json:"label"`
	} `json:"origin"`
}

type metaRecord struct {
	Label         string `json:"label"`
	Channel       string `json:"channel"`
	LastTo        string `json:"lastTo"`
	LastRecipient string `json:"lastRecipient"`
}

type cronJob struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// LoadRegistry reads the session registry file. Entries that do not decode
// are skipped so one bad record does not hide the rest.
func LoadRegistry(path string) (Registry, error) {
	raw, err := readObject(path)
	if err != nil {
		return nil, err
	}

	reg := make(Registry, len(raw))
	for key, msg := range raw {
		var rec registryRecord
		if err := json.Unmarshal(msg, &rec); err != nil {
			continue
		}
		reg[key] = RegistryEntry{
			SessionID:     rec.SessionID,
			Channel:       firstNonEmpty(rec.Channel, rec.LastChannel),
			LastRecipient: firstNonEmpty(rec.LastTo, rec.LastRecipient),
			Label:         firstNonEmpty(rec.Label, rec.DisplayName, rec.Origin.Label),
		}
	}
	return reg, nil
}

// LoadMeta reads the session-meta file.
func LoadMeta(path string) (Meta, error) {
	raw, err := readObject(path)
	if err != nil {
		return nil, err
	}

	meta := make(Meta, len(raw))
	for id, msg := range raw {
		var rec metaRecord
		if err := json.Unmarshal(msg, &rec); err != nil {
			continue
		}
		meta[id] = MetaEntry{
			Label:         strings.TrimSpace(rec.Label),
			Channel:       rec.Channel,
			LastRecipient: firstNonEmpty(rec.LastTo, rec.LastRecipient),
		}
	}
	return meta, nil
}

// LoadCronNames reads the cron job store. Both {"jobs": [...]} and a bare
// array are accepted.
func LoadCronNames(path string) (CronNames, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("identity: read cron jobs: %w", err)
	}

	var jobs []cronJob
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(trimmed, &jobs)
	} else {
		var wrapper struct {
			Jobs []cronJob `json:"jobs"`
		}
		err = json.Unmarshal(trimmed, &wrapper)
		jobs = wrapper.Jobs
	}
	if err != nil {
		return nil, fmt.Errorf("identity: parse cron jobs: %w", err)
	}

	names := make(CronNames, len(jobs))
	for _, j := range jobs {
		if j.ID == "" || j.Name == "" {
			continue
		}
		names[j.ID] = j.Name
	}
	return names, nil
}

var nameFieldRe = regexp.MustCompile(`(?i)^[\s\-*>#]*(?:\*\*|__)?name(?:\*\*|__)?\s*:\s*(?:\*\*|__)?\s*(.+?)\s*(?:\*\*|__)?\s*$`)

// LoadDisplayName returns the value of the first "Name:" field in the
// identity file. Markdown bullets and emphasis around it are ignored.
func LoadDisplayName(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("identity: open identity file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		m := nameFieldRe.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		name := strings.Trim(m[1], "*_ ")
		if name != "" {
			return name, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("identity: scan identity file: %w", err)
	}
	return "", nil
}

func readObject(path string) (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("identity: read %s: %w", path, err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("identity: parse %s: %w", path, err)
	}
	return raw, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
